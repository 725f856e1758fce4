package document

import (
	"fmt"
	"strings"
	"time"
)

var cardDateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"02-01-2006",
	"2/1/2006",
	"060102",
}

// ParseCardDate parses the date printed on an employee card. Cards have been
// produced by several tools over time, so a handful of layouts are accepted.
func ParseCardDate(dateStr string) (time.Time, error) {
	dateStr = strings.TrimSpace(dateStr)
	if dateStr == "" {
		return time.Time{}, fmt.Errorf("empty card date")
	}

	for _, layout := range cardDateLayouts {
		parsed, err := time.Parse(layout, dateStr)
		if err != nil {
			continue
		}
		// yymmdd turns 1950 into 2050
		if layout == "060102" && parsed.After(time.Now()) {
			parsed = parsed.AddDate(-100, 0, 0)
		}
		return parsed, nil
	}
	return time.Time{}, fmt.Errorf("unrecognised card date: %s", dateStr)
}

func BoolToYesNo(value bool) string {
	if value {
		return "Yes"
	}
	return "No"
}

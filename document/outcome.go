package document

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Status is the verdict of a document verification attempt.
type Status int

const (
	Approved Status = iota
	Fake
	Blank
)

func (s Status) String() string {
	switch s {
	case Approved:
		return "approved"
	case Fake:
		return "fake"
	case Blank:
		return "blank"
	default:
		return "unknown"
	}
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// ParseStatus is the inverse of Status.String.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "approved":
		return Approved, nil
	case "fake":
		return Fake, nil
	case "blank":
		return Blank, nil
	}
	return 0, fmt.Errorf("unknown verification status %q", s)
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseStatus(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Outcome is produced once per verification attempt and never persisted.
type Outcome struct {
	Status Status `json:"status"`
	Detail string `json:"detail"`
}

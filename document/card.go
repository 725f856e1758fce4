package document

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	ErrInvalidCardLink = errors.New("invalid link scanned")
	ErrUnsupportedCard = errors.New("invalid QR: data format not supported")
)

// Card is the employee identity printed as a QR link on the card:
// n=name, d=date, a=address, r=reference.
type Card struct {
	Name      string `json:"name"`
	Date      string `json:"date"`
	Address   string `json:"address"`
	Reference string `json:"reference"`
}

func ParseCardLink(raw string) (Card, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" {
		return Card{}, fmt.Errorf("%w: %q", ErrInvalidCardLink, raw)
	}

	params := u.Query()
	if !params.Has("n") {
		return Card{}, ErrUnsupportedCard
	}

	return Card{
		Name:      params.Get("n"),
		Date:      params.Get("d"),
		Address:   params.Get("a"),
		Reference: params.Get("r"),
	}, nil
}

// Match finds the record the card was issued for. Both the reference id and
// the name have to agree.
func (c Card) Match(records []ReferenceRecord) (ReferenceRecord, bool) {
	for _, r := range records {
		if strings.EqualFold(r.ReferenceID, c.Reference) && strings.EqualFold(strings.TrimSpace(r.Name), strings.TrimSpace(c.Name)) {
			return r, true
		}
	}
	return ReferenceRecord{}, false
}

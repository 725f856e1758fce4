package document

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/pjcompanyofficial/PJ-ECS/images"
	"github.com/stretchr/testify/require"
)

func pattern(size int, f func(x, y int) uint8) image.Image {
	img := image.NewGray(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.SetGray(x, y, color.Gray{Y: f(x, y)})
		}
	}
	return img
}

func dataURI(t *testing.T, img image.Image) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return images.EncodeDataURI("image/png", buf.Bytes())
}

func horizontal(x, _ int) uint8 { return uint8(x * 2) }
func vertical(_, y int) uint8   { return uint8(y * 2) }
func stripes(x, _ int) uint8 {
	if (x/12)%2 == 0 {
		return 250
	}
	return 10
}

func testRecords(t *testing.T) []ReferenceRecord {
	return []ReferenceRecord{
		{Name: "Ravi Kumar", ReferenceID: "PJ-001", Address: "Pilibhit", Reference: dataURI(t, pattern(100, stripes))},
		{Name: "Asha Devi", ReferenceID: "PJ-002", Address: "Bareilly", Reference: dataURI(t, pattern(100, horizontal))},
		{Name: "No Photo", ReferenceID: "PJ-003", Address: "Pilibhit"},
	}
}

func TestReferenceMatcher(t *testing.T) {
	matcher := NewReferenceMatcher(MatcherConfig{})
	records := testRecords(t)
	ctx := context.Background()

	t.Run("matching document is approved", func(t *testing.T) {
		outcome, err := matcher.Verify(ctx, dataURI(t, pattern(100, stripes)), records)
		require.NoError(t, err)
		require.Equal(t, Approved, outcome.Status)
		require.Contains(t, outcome.Detail, "Ravi Kumar")
		require.Contains(t, outcome.Detail, "PJ-001")
	})

	t.Run("unknown document is fake", func(t *testing.T) {
		outcome, err := matcher.Verify(ctx, dataURI(t, pattern(100, func(x, y int) uint8 { return 255 - uint8(x*2) })), records)
		require.NoError(t, err)
		require.Equal(t, Fake, outcome.Status)
	})

	t.Run("flat image is blank", func(t *testing.T) {
		outcome, err := matcher.Verify(ctx, dataURI(t, pattern(100, func(_, _ int) uint8 { return 240 })), records)
		require.NoError(t, err)
		require.Equal(t, Blank, outcome.Status)
	})

	t.Run("same inputs give the same verdict", func(t *testing.T) {
		submitted := dataURI(t, pattern(100, vertical))
		first, err := matcher.Verify(ctx, submitted, records)
		require.NoError(t, err)
		second, err := matcher.Verify(ctx, submitted, records)
		require.NoError(t, err)
		require.Equal(t, first, second)
	})

	t.Run("unreadable submission is an error", func(t *testing.T) {
		_, err := matcher.Verify(ctx, "data:image/png;base64,AAAA", records)
		require.Error(t, err)
	})

	t.Run("no references on file", func(t *testing.T) {
		_, err := matcher.Verify(ctx, dataURI(t, pattern(100, stripes)), records[2:])
		require.ErrorIs(t, err, ErrNoReferences)
	})

	t.Run("records are not mutated", func(t *testing.T) {
		before := testRecords(t)
		_, err := matcher.Verify(ctx, dataURI(t, pattern(100, stripes)), records)
		require.NoError(t, err)
		require.Equal(t, before, records)
	})
}

func TestStatusJSON(t *testing.T) {
	b, err := Outcome{Status: Blank, Detail: "x"}.Status.MarshalJSON()
	require.NoError(t, err)
	require.Equal(t, `"blank"`, string(b))

	var out Outcome
	require.NoError(t, json.Unmarshal([]byte(`{"status":"Approved","detail":"ok"}`), &out))
	require.Equal(t, Outcome{Status: Approved, Detail: "ok"}, out)
	require.Error(t, json.Unmarshal([]byte(`{"status":"maybe"}`), &out))
}

func TestMemoryRecords(t *testing.T) {
	store := NewMemoryRecords([]ReferenceRecord{{Name: "Ravi", ReferenceID: "PJ-001"}})
	store.Put(ReferenceRecord{Name: "Ravi Kumar", ReferenceID: "pj-001"})
	store.Put(ReferenceRecord{Name: "Asha", ReferenceID: "PJ-002"})

	records, err := store.Records(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "Ravi Kumar", records[0].Name)

	records[0].Name = "changed"
	again, err := store.Records(context.Background())
	require.NoError(t, err)
	require.Equal(t, "Ravi Kumar", again[0].Name)
}

func TestParseCardLink(t *testing.T) {
	t.Run("full card", func(t *testing.T) {
		card, err := ParseCardLink("https://pj.example/verify?n=Ravi+Kumar&d=2024-03-15&a=Pilibhit&r=PJ-001")
		require.NoError(t, err)
		require.Equal(t, Card{Name: "Ravi Kumar", Date: "2024-03-15", Address: "Pilibhit", Reference: "PJ-001"}, card)
	})

	t.Run("missing name", func(t *testing.T) {
		_, err := ParseCardLink("https://pj.example/verify?r=PJ-001")
		require.ErrorIs(t, err, ErrUnsupportedCard)
	})

	t.Run("not a link", func(t *testing.T) {
		_, err := ParseCardLink("Ravi Kumar PJ-001")
		require.ErrorIs(t, err, ErrInvalidCardLink)
	})
}

func TestCardMatch(t *testing.T) {
	records := testRecords(t)

	record, ok := Card{Name: "ravi kumar", Reference: "pj-001"}.Match(records)
	require.True(t, ok)
	require.Equal(t, "PJ-001", record.ReferenceID)

	_, ok = Card{Name: "Someone Else", Reference: "PJ-001"}.Match(records)
	require.False(t, ok)
}

package document

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pjcompanyofficial/PJ-ECS/images"
)

const (
	DefaultMaxDistance    = 10
	DefaultBlankTolerance = 6.0
)

var ErrNoReferences = errors.New("no reference documents on file")

type MatcherConfig struct {
	// MaxDistance is the largest fingerprint Hamming distance still
	// accepted as the same document.
	MaxDistance int `json:"max_distance"`
	// BlankTolerance is the luma standard deviation below which an image
	// counts as blank.
	BlankTolerance float64 `json:"blank_tolerance"`
}

// ReferenceMatcher verifies a submitted photo against the reference images
// of the known employee records. Its result depends only on its inputs.
type ReferenceMatcher struct {
	config MatcherConfig
}

func NewReferenceMatcher(config MatcherConfig) *ReferenceMatcher {
	if config.MaxDistance <= 0 {
		config.MaxDistance = DefaultMaxDistance
	}
	if config.BlankTolerance <= 0 {
		config.BlankTolerance = DefaultBlankTolerance
	}
	return &ReferenceMatcher{config: config}
}

func (m *ReferenceMatcher) Verify(ctx context.Context, imageData string, records []ReferenceRecord) (Outcome, error) {
	submitted, err := images.DecodeDataURI(imageData)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to read submitted image: %w", err)
	}

	if images.IsBlank(submitted.Image, m.config.BlankTolerance) {
		slog.Debug("Submitted image is blank")
		return Outcome{Status: Blank, Detail: "The submitted image is blank, no document was detected."}, nil
	}

	fingerprint := images.Fingerprint(submitted.Image)

	var (
		best       ReferenceRecord
		bestDist   = 65
		candidates int
	)
	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return Outcome{}, err
		}
		if record.Reference == "" {
			continue
		}
		reference, err := images.DecodeDataURI(record.Reference)
		if err != nil {
			slog.Warn("Unreadable reference image", "reference_id", record.ReferenceID, "error", err)
			continue
		}
		candidates++

		dist := images.Distance(fingerprint, images.Fingerprint(reference.Image))
		if dist < bestDist {
			best, bestDist = record, dist
		}
	}

	if candidates == 0 {
		return Outcome{}, ErrNoReferences
	}

	slog.Debug("Reference matching completed", "candidates", candidates, "best_distance", bestDist, "best_reference", best.ReferenceID)
	if bestDist <= m.config.MaxDistance {
		return Outcome{
			Status: Approved,
			Detail: fmt.Sprintf("Document verified for %s (%s).", best.Name, best.ReferenceID),
		}, nil
	}
	return Outcome{
		Status: Fake,
		Detail: "The document does not match any reference on file.",
	}, nil
}

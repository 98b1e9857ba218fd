package scorerunner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"devintel/internal/domain"
)

const (
	AggregateModel   = "aggregate"
	AggregateVersion = "1"

	LabelReview = "review"
	LabelPass   = "pass"
)

// ErrNonFiniteScore is returned when a score would be NaN or infinite.
var ErrNonFiniteScore = errors.New("non-finite score")

// Scorer derives one signal from a profile.
type Scorer interface {
	Score(ctx context.Context, p domain.Profile) (domain.Signal, error)
}

// AggregateScorer averages the scores of the other signals on a profile.
type AggregateScorer struct {
	Threshold float64
}

func (a AggregateScorer) Score(ctx context.Context, p domain.Profile) (domain.Signal, error) {
	if err := ctx.Err(); err != nil {
		return domain.Signal{}, err
	}
	// Running mean; each step divides before subtracting so large finite
	// inputs cannot overflow.
	var mean float64
	var n int
	for i, s := range p.Signals {
		if s.Model == AggregateModel {
			continue
		}
		if !isFinite(s.Score) {
			return domain.Signal{}, fmt.Errorf("signal %d (%s): %w", i, s.Model, ErrNonFiniteScore)
		}
		n++
		mean += s.Score/float64(n) - mean/float64(n)
	}
	if !isFinite(mean) {
		return domain.Signal{}, ErrNonFiniteScore
	}
	label := LabelPass
	if mean >= a.Threshold {
		label = LabelReview
	}
	attrs, err := json.Marshal(map[string]int{"inputs": n})
	if err != nil {
		return domain.Signal{}, err
	}
	return domain.NewSignal(AggregateModel, AggregateVersion, mean, label, domain.Optional(string(attrs))), nil
}

func isFinite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

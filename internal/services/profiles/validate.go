package profiles

import (
	"errors"
	"fmt"
	"math"

	"devintel/internal/domain"
)

var ErrInvalidProfile = errors.New("invalid profile")

// FieldError names the offending field of a rejected profile.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string { return fmt.Sprintf("%s: %s %s", ErrInvalidProfile, e.Field, e.Reason) }

func (e *FieldError) Unwrap() error { return ErrInvalidProfile }

// Validate checks the fields scoring depends on. Score bounds are not checked.
func Validate(p domain.Profile) error {
	switch {
	case p.ID == "":
		return &FieldError{Field: "id", Reason: "is required"}
	case p.SiteID == "":
		return &FieldError{Field: "siteId", Reason: "is required"}
	case p.ClientID == "":
		return &FieldError{Field: "clientId", Reason: "is required"}
	}
	for i, s := range p.Signals {
		if s.Model == "" {
			return &FieldError{Field: fmt.Sprintf("signals[%d].model", i), Reason: "is required"}
		}
		if math.IsNaN(s.Score) || math.IsInf(s.Score, 0) {
			return &FieldError{Field: fmt.Sprintf("signals[%d].score", i), Reason: "must be finite"}
		}
	}
	return nil
}

package domain

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

// ValidateRecord checks a candidate record at the ingestion boundary.
func ValidateRecord(r Record) error {
	if strings.TrimSpace(r.Path) == "" && strings.TrimSpace(r.FileName) == "" {
		return NewValidationError("path", r.Path, ErrInvalidRecord)
	}
	if r.Size < 0 {
		return NewValidationError("size", fmt.Sprintf("%d", r.Size), ErrInvalidRecord)
	}
	if !utf8.ValidString(r.Content) || !utf8.ValidString(r.ChunkText) {
		return NewValidationError("content", "", ErrInvalidRecord)
	}
	for _, f := range r.Vector {
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return NewValidationError("vector", "", ErrInvalidVector)
		}
	}
	return nil
}

// ValidateVector checks v against the collection dimensionality.
func ValidateVector(v []float32, dims int) error {
	if dims > 0 && len(v) != dims {
		return NewValidationError("vector", fmt.Sprintf("len=%d want=%d", len(v), dims), ErrInvalidVector)
	}
	return nil
}

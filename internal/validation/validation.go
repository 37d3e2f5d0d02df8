package validation

import (
	"errors"
	"strings"
	"unicode"
)

// MaxPlantIDLength bounds plant ids in runes.
const MaxPlantIDLength = 128

// ErrPlantIDEmpty is returned when a plant id is empty or whitespace-only.
var ErrPlantIDEmpty = errors.New("plant_id is required")

// ErrPlantIDTooLong is returned when a plant id exceeds MaxPlantIDLength.
var ErrPlantIDTooLong = errors.New("plant_id too long")

// ErrPlantIDInvalidChars is returned when a plant id contains disallowed characters.
var ErrPlantIDInvalidChars = errors.New("plant_id contains invalid characters")

// ValidatePlantID checks a plant id as configured or requested on the read
// API: non-empty, no surrounding whitespace, at most MaxPlantIDLength runes,
// letters, digits and the separators '_', '-', '.', ' ' only.
func ValidatePlantID(id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrPlantIDEmpty
	}
	if strings.TrimSpace(id) != id {
		return ErrPlantIDInvalidChars
	}
	r := []rune(id)
	if len(r) > MaxPlantIDLength {
		return ErrPlantIDTooLong
	}
	for _, c := range r {
		if !isAllowedPlantIDRune(c) {
			return ErrPlantIDInvalidChars
		}
	}
	return nil
}

func isAllowedPlantIDRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case '_', '-', '.', ' ':
		return true
	}
	return false
}

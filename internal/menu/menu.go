// Package menu holds the canonical workout-menu schema and the normalizer
// that turns raw model output into it.
package menu

import (
	"encoding/json"
	"strings"
)

// Version is the only canonical schema version.
const Version = 1

// Size limits of a menu. The validate tags on Menu and Item carry the same
// values.
const (
	MaxItems       = 20
	MaxSetsPerItem = 20
)

// Menu is the canonical AI workout menu.
type Menu struct {
	Version   int      `json:"version"`
	Title     string   `json:"title"`
	Warnings  []string `json:"warnings"`
	Rationale []string `json:"rationale"`
	Items     []Item   `json:"items" validate:"min=1,max=20,dive"`
	Cooldown  []string `json:"cooldown"`
}

// Item is one exercise of the menu.
type Item struct {
	BodyPart     string  `json:"bodyPart"`
	ExerciseName string  `json:"exerciseName" validate:"notblank"`
	Note         *string `json:"note"`
	Sets         []Set   `json:"sets" validate:"min=1,max=20,dive"`
}

// Set is one prescribed set. A nil Weight means "no suggestion".
type Set struct {
	Reps    int      `json:"reps" validate:"gt=0"`
	Weight  *float64 `json:"weight" validate:"omitnil,finite"`
	RPE     *float64 `json:"rpe,omitempty" validate:"omitnil,finite"`
	RestSec *float64 `json:"restSec,omitempty" validate:"omitnil,finite"`
	Memo    *string  `json:"memo"`
}

// JSON serializes the menu for audit logging.
func (m *Menu) JSON() (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Quality tells whether a menu was parsed strictly or needed salvaging.
type Quality string

const (
	QualityStrict   Quality = "strict"
	QualitySalvaged Quality = "salvaged"
)

// Shape is the response shape a menu was recognized as.
type Shape int

const (
	ShapeUnrecognized Shape = iota
	ShapeCanonical
	ShapeAlternate
)

func (s Shape) String() string {
	switch s {
	case ShapeCanonical:
		return "canonical"
	case ShapeAlternate:
		return "alternate"
	default:
		return "unrecognized"
	}
}

// Result is a validated menu plus how it was obtained.
type Result struct {
	Menu    *Menu
	Shape   Shape
	Quality Quality
	// Notes lists every leniency applied while parsing.
	Notes []string
}

// Options tune normalization.
type Options struct {
	// Locale selects the language of an injected disclaimer (e.g. "ja-JP").
	Locale string
}

const (
	disclaimerJA = "このメニューは一般的な情報であり、医療行為ではありません。痛みや違和感がある場合は中止し、医師や専門家に相談してください。"
	disclaimerEN = "This menu is general information and not medical advice. Stop if you feel pain and consult a doctor or qualified professional."
)

var disclaimerMarkers = []string{"医療", "medical"}

// Disclaimer returns the non-medical disclaimer for a locale.
func Disclaimer(locale string) string {
	if strings.HasPrefix(strings.ToLower(locale), "ja") {
		return disclaimerJA
	}
	return disclaimerEN
}

// HasDisclaimer reports whether any warning already references the
// non-medical nature of the advice.
func HasDisclaimer(warnings []string) bool {
	for _, w := range warnings {
		lw := strings.ToLower(w)
		for _, marker := range disclaimerMarkers {
			if strings.Contains(lw, marker) {
				return true
			}
		}
	}
	return false
}

// EnsureDisclaimer appends the locale's disclaimer unless one is present.
// It reports whether it appended.
func EnsureDisclaimer(m *Menu, locale string) bool {
	if HasDisclaimer(m.Warnings) {
		return false
	}
	m.Warnings = append(m.Warnings, Disclaimer(locale))
	return true
}

// Package category maps raw classifier labels onto the coarse bins the
// sorter knows how to reach.
package category

import (
	"fmt"
	"strings"
	"unicode"
)

// Aliases this short only match whole words, so "can" misses "pecan".
const shortAlias = 3

// Category is a coarse sorting bucket.
type Category string

const (
	Recycle Category = "recycle"
	Paper   Category = "paper"
	Organic Category = "organic"
	Other   Category = "other"
)

// NoObjectLabel is what the vision loop publishes when nothing was detected.
const NoObjectLabel = "no object detected"

// Rule assigns a category to every label containing one of its aliases.
// Aliases of up to three letters must appear as a whole word.
type Rule struct {
	Category Category `yaml:"category"`
	Aliases  []string `yaml:"aliases"`
}

// Map is an ordered set of rules plus the fallback category.  The first
// matching rule wins.
type Map struct {
	Default Category `yaml:"default"`
	Rules   []Rule   `yaml:"rules"`
}

// DefaultMap covers the labels of the deployed models, including the
// Indonesian names some of them were trained with.
func DefaultMap() Map {
	return Map{
		Default: Other,
		Rules: []Rule{
			{Category: Recycle, Aliases: []string{"plastic", "plastik", "bottle", "botol", "can", "kaleng", "metal", "glass", "kaca", "inorganic", "anorganik"}},
			{Category: Paper, Aliases: []string{"paper", "kertas", "cardboard", "kardus"}},
			{Category: Organic, Aliases: []string{"organic", "organik", "food", "leaf", "daun"}},
		},
	}
}

// Normalize strips an optional " (0.91)" confidence suffix, surrounding
// whitespace and case.
func Normalize(label string) string {
	if i := strings.Index(label, "("); i >= 0 {
		label = label[:i]
	}
	return strings.ToLower(strings.TrimSpace(label))
}

// Absent reports whether the label carries no classification at all.
func Absent(label string) bool {
	n := Normalize(label)
	return n == "" || n == NoObjectLabel
}

// Category resolves a raw label.  It never fails: unknown labels get the
// default category.
func (m Map) Category(label string) Category {
	n := Normalize(label)
	if n != "" {
		for _, r := range m.Rules {
			if n == string(r.Category) {
				return r.Category
			}
		}
		words := strings.FieldsFunc(n, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		for _, r := range m.Rules {
			for _, alias := range r.Aliases {
				if matches(n, words, strings.ToLower(strings.TrimSpace(alias))) {
					return r.Category
				}
			}
		}
	}
	return m.fallback()
}

func matches(label string, words []string, alias string) bool {
	switch {
	case alias == "":
		return false
	case len(alias) > shortAlias:
		return strings.Contains(label, alias)
	}
	for _, w := range words {
		if w == alias {
			return true
		}
	}
	return false
}

func (m Map) fallback() Category {
	if m.Default == "" {
		return Other
	}
	return m.Default
}

// Categories lists every category the map can produce, rule order first and
// the fallback last.
func (m Map) Categories() []Category {
	seen := map[Category]bool{}
	var out []Category
	for _, r := range m.Rules {
		if !seen[r.Category] {
			seen[r.Category] = true
			out = append(out, r.Category)
		}
	}
	if fb := m.fallback(); !seen[fb] {
		out = append(out, fb)
	}
	return out
}

func (m Map) Validate() error {
	for i, r := range m.Rules {
		if r.Category == "" {
			return fmt.Errorf("category rule %d has no category", i)
		}
	}
	return nil
}

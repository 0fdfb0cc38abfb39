// Package catalog holds the fixed list of supported countries and resolves
// user-supplied names against it.
package catalog

import (
	"strings"

	"github.com/agnivade/levenshtein"
)

// maxSuggestDistance bounds the edit distance of a fuzzy suggestion.
const maxSuggestDistance = 2

// minSubstringLen keeps very short inputs from matching half the list.
const minSubstringLen = 3

// Entry is one supported country.
type Entry struct {
	Name string // lowercase, canonical
	Code string // ISO 3166-1 alpha-2
}

// FlagURL returns a small PNG flag for the country.
func (e Entry) FlagURL() string {
	return "https://flagcdn.com/w320/" + strings.ToLower(e.Code) + ".png"
}

// Result is the outcome of Validate. An unknown name is a negative result, not an error.
type Result struct {
	IsValid        bool   `json:"isValid"`
	NormalizedName string `json:"normalizedName,omitempty"`
	Suggestion     string `json:"suggestion,omitempty"`
}

// Catalog resolves country names. It is immutable and safe for concurrent use.
type Catalog struct {
	entries []Entry
	byName  map[string]Entry
	aliases map[string]string
}

// New returns the catalog of all supported countries.
func New() *Catalog {
	return NewWithEntries(masterList, defaultAliases)
}

// NewWithEntries builds a catalog over a custom list. Aliases pointing to
// names outside the list are dropped.
func NewWithEntries(entries []Entry, aliases map[string]string) *Catalog {
	c := &Catalog{
		entries: make([]Entry, 0, len(entries)),
		byName:  make(map[string]Entry, len(entries)),
		aliases: make(map[string]string, len(aliases)),
	}
	for _, e := range entries {
		e.Name = normalize(e.Name)
		if _, dup := c.byName[e.Name]; dup || e.Name == "" {
			continue
		}
		c.entries = append(c.entries, e)
		c.byName[e.Name] = e
	}
	for alias, target := range aliases {
		target = normalize(target)
		if _, ok := c.byName[target]; ok {
			c.aliases[normalize(alias)] = target
		}
	}
	return c
}

// FromNames builds a catalog with no codes and no aliases.
func FromNames(names ...string) *Catalog {
	entries := make([]Entry, len(names))
	for i, n := range names {
		entries[i] = Entry{Name: n}
	}
	return NewWithEntries(entries, nil)
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// AllValidCountries returns the master list in catalog order.
func (c *Catalog) AllValidCountries() []string {
	names := make([]string, len(c.entries))
	for i, e := range c.entries {
		names[i] = e.Name
	}
	return names
}

// Len is the number of supported countries.
func (c *Catalog) Len() int { return len(c.entries) }

// Lookup resolves name (directly or through an alias) to its entry.
func (c *Catalog) Lookup(name string) (Entry, bool) {
	n := normalize(name)
	if target, ok := c.aliases[n]; ok {
		n = target
	}
	e, ok := c.byName[n]
	return e, ok
}

// Validate resolves name against the catalog.
// Parameters:
//   - name: raw user input.
// Returns:
//   - Result: IsValid with NormalizedName on a hit, otherwise an optional Suggestion.
func (c *Catalog) Validate(name string) Result {
	n := normalize(name)
	if n == "" {
		return Result{}
	}
	if e, ok := c.Lookup(n); ok {
		return Result{IsValid: true, NormalizedName: e.Name}
	}
	return Result{Suggestion: c.suggest(n)}
}

// suggest picks the closest name by edit distance, falling back to the
// shortest name that contains (or is contained in) the input.
func (c *Catalog) suggest(n string) string {
	best, bestDist := "", maxSuggestDistance+1
	for _, e := range c.entries {
		if d := levenshtein.ComputeDistance(n, e.Name); d < bestDist {
			best, bestDist = e.Name, d
		}
	}
	for alias, target := range c.aliases {
		if d := levenshtein.ComputeDistance(n, alias); d < bestDist || (d == bestDist && target < best) {
			best, bestDist = target, d
		}
	}
	if best != "" {
		return best
	}

	if len(n) < minSubstringLen {
		return ""
	}
	for _, e := range c.entries {
		if strings.Contains(e.Name, n) || strings.Contains(n, e.Name) {
			if best == "" || len(e.Name) < len(best) {
				best = e.Name
			}
		}
	}
	return best
}

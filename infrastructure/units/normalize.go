package units

import (
	"strings"

	"golang.org/x/text/cases"
)

// keyFolder produces the identity key used when merging free-text labels.
// A cases.Caser keeps internal state, so every aggregation gets its own.
type keyFolder struct {
	caser cases.Caser
}

func newKeyFolder() *keyFolder { return &keyFolder{caser: cases.Fold()} }

// key trims s and folds its case so "Rice ", "rice" and "RICE" collide.
func (f *keyFolder) key(s string) string {
	return f.caser.String(strings.TrimSpace(s))
}

// union merges lists in first-seen order, dropping entries whose folded key
// was already seen. The spelling of the first occurrence is kept. Blank
// entries are skipped.
func (f *keyFolder) union(lists ...[]string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, list := range lists {
		for _, s := range list {
			k := f.key(s)
			if k == "" {
				continue
			}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

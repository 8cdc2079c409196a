// Copyright 2026 Spawn Labs.
// Licensed under the AGPLv3, see LICENCE file for details.

package manifest

import (
	"sort"
	"strings"

	"github.com/juju/errors"

	"github.com/spawn-sh/spawn/internal/stringcompare"
)

// maxSuggestionDistance bounds how far an input may be from a known
// name before we stop suggesting it.
const maxSuggestionDistance = 3

// Kind distinguishes the two key namespaces of the catalog.
type Kind string

const (
	KindAgent Kind = "agent"
	KindCloud Kind = "cloud"
)

// WrongKindError is returned when an input resolves to a key of the
// other kind, which usually means the user swapped the agent and
// cloud arguments.
type WrongKindError struct {
	Input string
	Want  Kind
	Got   Kind
	Key   string
}

// Error is part of the error interface.
func (e *WrongKindError) Error() string {
	return string(e.Got) + " " + e.Key + " given where " + string(e.Want) + " was expected"
}

// NotFoundError reports an unresolvable name, carrying the nearest
// known key when one is close enough to suggest.
type NotFoundError struct {
	Input      string
	Want       Kind
	Suggestion string
}

// Error is part of the error interface.
func (e *NotFoundError) Error() string {
	msg := "unknown " + string(e.Want) + " " + e.Input
	if e.Suggestion != "" {
		msg += " (did you mean " + e.Suggestion + "?)"
	}
	return msg
}

// ResolveAgent resolves user input to an agent key. Matching accepts
// the exact key, the case-insensitive key and the case-insensitive
// display name; failing those, the closest key within edit distance 3
// is suggested, and an input that instead matches a cloud produces a
// WrongKindError.
func (m *Manifest) ResolveAgent(input string) (string, error) {
	return m.resolve(input, KindAgent)
}

// ResolveCloud resolves user input to a cloud key. See ResolveAgent
// for the matching rules.
func (m *Manifest) ResolveCloud(input string) (string, error) {
	return m.resolve(input, KindCloud)
}

type candidate struct {
	key  string
	kind Kind
	dist int
}

func (m *Manifest) resolve(input string, want Kind) (string, error) {
	if key, ok := m.lookup(input, want); ok {
		return key, nil
	}
	// Exact match against the other namespace beats fuzzy matching:
	// the user almost certainly swapped the arguments.
	other := KindCloud
	if want == KindCloud {
		other = KindAgent
	}
	if key, ok := m.lookup(input, other); ok {
		return "", &WrongKindError{Input: input, Want: want, Got: other, Key: key}
	}

	best := m.closest(input)
	if best == nil || best.dist > maxSuggestionDistance {
		return "", &NotFoundError{Input: input, Want: want}
	}
	if best.kind != want {
		return "", &WrongKindError{Input: input, Want: want, Got: best.kind, Key: best.key}
	}
	return "", &NotFoundError{Input: input, Want: want, Suggestion: best.key}
}

// lookup matches input against keys (case-insensitively; keys are
// lowercase by construction) and display names.
func (m *Manifest) lookup(input string, kind Kind) (string, bool) {
	folded := strings.ToLower(input)
	if _, ok := m.keySet(kind)[folded]; ok {
		return folded, true
	}
	key, ok := m.names(kind)[folded]
	return key, ok
}

// names maps every matchable name (key and lowercased display name)
// to its key.
func (m *Manifest) names(kind Kind) map[string]string {
	out := make(map[string]string)
	if kind == KindAgent {
		for key, def := range m.Agents {
			out[key] = key
			out[strings.ToLower(def.Name)] = key
		}
		return out
	}
	for key, def := range m.Clouds {
		out[key] = key
		out[strings.ToLower(def.Name)] = key
	}
	return out
}

func (m *Manifest) keySet(kind Kind) map[string]struct{} {
	out := make(map[string]struct{})
	if kind == KindAgent {
		for key := range m.Agents {
			out[key] = struct{}{}
		}
		return out
	}
	for key := range m.Clouds {
		out[key] = struct{}{}
	}
	return out
}

// closest scans both namespaces and returns the candidate with the
// smallest edit distance, breaking ties by key name for stable
// output.
func (m *Manifest) closest(input string) *candidate {
	folded := strings.ToLower(input)
	var all []candidate
	for _, kind := range []Kind{KindAgent, KindCloud} {
		for name, key := range m.names(kind) {
			all = append(all, candidate{
				key:  key,
				kind: kind,
				dist: stringcompare.LevenshteinDistance(folded, name),
			})
		}
	}
	if len(all) == 0 {
		return nil
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].dist != all[j].dist {
			return all[i].dist < all[j].dist
		}
		return all[i].key < all[j].key
	})
	return &all[0]
}

// IsNotFound reports whether err is a resolution NotFoundError.
func IsNotFound(err error) bool {
	_, ok := errors.Cause(err).(*NotFoundError)
	return ok
}

// IsWrongKind reports whether err is a WrongKindError, returning it
// for convenience.
func IsWrongKind(err error) (*WrongKindError, bool) {
	e, ok := errors.Cause(err).(*WrongKindError)
	return e, ok
}

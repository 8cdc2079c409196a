// Copyright 2026 Spawn Labs.
// Licensed under the AGPLv3, see LICENCE file for details.

package driver

import (
	"sort"

	"github.com/juju/errors"
)

// Offering is one entry of a provider's server-type catalog in the
// shape the substitution rule needs.
type Offering struct {
	Name        string
	Family      string
	Cores       int
	MemoryGB    float64
	HourlyPrice float64
	Available   bool
}

// Requirements captures what the unavailable requested type offered.
type Requirements struct {
	Family   string
	Cores    int
	MemoryGB float64
}

// Substitute picks the cheapest available offering that matches the
// requested CPU family with at least the requested cores and memory,
// falling back to any family. It fails when no viable alternative
// exists, before any resource has been created.
func Substitute(want Requirements, catalog []Offering) (*Offering, error) {
	viable := func(o Offering, sameFamily bool) bool {
		if !o.Available || o.Cores < want.Cores || o.MemoryGB < want.MemoryGB {
			return false
		}
		return !sameFamily || o.Family == want.Family
	}
	pick := func(sameFamily bool) *Offering {
		var candidates []Offering
		for _, o := range catalog {
			if viable(o, sameFamily) {
				candidates = append(candidates, o)
			}
		}
		if len(candidates) == 0 {
			return nil
		}
		sort.Slice(candidates, func(i, j int) bool {
			if candidates[i].HourlyPrice != candidates[j].HourlyPrice {
				return candidates[i].HourlyPrice < candidates[j].HourlyPrice
			}
			return candidates[i].Name < candidates[j].Name
		})
		return &candidates[0]
	}

	if o := pick(true); o != nil {
		return o, nil
	}
	if o := pick(false); o != nil {
		return o, nil
	}
	return nil, errors.NotFoundf("server type with >= %d cores and >= %.1f GB", want.Cores, want.MemoryGB)
}

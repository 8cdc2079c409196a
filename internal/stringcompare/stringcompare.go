// Copyright 2026 Spawn Labs.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package stringcompare provides the edit-distance primitive used for
// "did you mean" suggestions when resolving agent and cloud names.
package stringcompare

// LevenshteinDistance calculates the minimum number of single-rune
// edits (insertions, deletions or substitutions) required to change
// one string into the other.
func LevenshteinDistance(s, t string) int {
	sr, tr := []rune(s), []rune(t)
	if len(sr) == 0 {
		return len(tr)
	}
	if len(tr) == 0 {
		return len(sr)
	}

	prev := make([]int, len(tr)+1)
	curr := make([]int, len(tr)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(sr); i++ {
		curr[0] = i
		for j := 1; j <= len(tr); j++ {
			cost := 1
			if sr[i-1] == tr[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(tr)]
}

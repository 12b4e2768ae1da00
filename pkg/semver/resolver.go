package semver

import (
	"fmt"
	"sort"

	masterminds "github.com/Masterminds/semver/v3"
)

const resolverLogPrefix = "semver:resolver"

// Candidate is one registered version of a service.
type Candidate[T any] struct {
	Version    *masterminds.Version
	Deprecated bool
	Value      T
}

// NewCandidate parses version and wraps value.
func NewCandidate[T any](version string, deprecated bool, value T) (Candidate[T], error) {
	v, err := masterminds.NewVersion(version)
	if err != nil {
		return Candidate[T]{}, fmt.Errorf("%s - invalid version %q: %w", resolverLogPrefix, version, err)
	}
	return Candidate[T]{Version: v, Deprecated: deprecated, Value: value}, nil
}

// Resolve finds the best matching candidate for a range.
//
// An empty range picks the latest stable version of the highest major; a
// major-only range picks the latest stable version of that major; any other
// range is a SemVer constraint and picks the highest match, falling back to
// an exact string match when the constraint does not parse. Within each
// case, non-deprecated versions win over deprecated ones.
func Resolve[T any](candidates []Candidate[T], rangeStr string) (Candidate[T], bool) {
	var zero Candidate[T]
	if len(candidates) == 0 {
		return zero, false
	}

	// Case 1: No range specified - latest in the highest major
	if rangeStr == "" {
		return findLatestInMajor(candidates, findHighestMajor(candidates))
	}

	// Case 2: Major-only range (e.g., "3")
	if IsMajorOnly(rangeStr) {
		return findLatestInMajor(candidates, uint64(ExtractMajorFromRange(rangeStr)))
	}

	// Case 3: SemVer range (e.g., "^3.2.0", "~3.2.0", ">=3.0.0 <4.0.0")
	constraint, err := masterminds.NewConstraint(rangeStr)
	if err != nil {
		return findExactVersion(candidates, rangeStr)
	}

	var matching []Candidate[T]
	for _, c := range candidates {
		if constraint.Check(c.Version) {
			matching = append(matching, c)
		}
	}
	if len(matching) == 0 {
		return zero, false
	}

	sortDesc(matching)
	return preferActive(matching), true
}

// SatisfiesRange checks if a version string satisfies a range.
func SatisfiesRange(version, rangeStr string) bool {
	sv, err := masterminds.NewVersion(version)
	if err != nil {
		return false
	}
	if IsMajorOnly(rangeStr) {
		return int(sv.Major()) == ExtractMajorFromRange(rangeStr)
	}
	constraint, err := masterminds.NewConstraint(rangeStr)
	if err != nil {
		return false
	}
	return constraint.Check(sv)
}

// --- internal helpers ---

func findHighestMajor[T any](candidates []Candidate[T]) uint64 {
	var highest uint64
	for _, c := range candidates {
		if c.Version.Major() > highest {
			highest = c.Version.Major()
		}
	}
	return highest
}

func findLatestInMajor[T any](candidates []Candidate[T], major uint64) (Candidate[T], bool) {
	var inMajor, stable []Candidate[T]
	for _, c := range candidates {
		if c.Version.Major() != major {
			continue
		}
		inMajor = append(inMajor, c)
		if c.Version.Prerelease() == "" {
			stable = append(stable, c)
		}
	}
	if len(inMajor) == 0 {
		var zero Candidate[T]
		return zero, false
	}

	// Prefer stable releases; fall back to prereleases when that is all there is
	pool := inMajor
	if len(stable) > 0 {
		pool = stable
	}
	sortDesc(pool)
	return preferActive(pool), true
}

func findExactVersion[T any](candidates []Candidate[T], versionStr string) (Candidate[T], bool) {
	for _, c := range candidates {
		if c.Version.Original() == versionStr || c.Version.String() == versionStr {
			return c, true
		}
	}
	var zero Candidate[T]
	return zero, false
}

func preferActive[T any](sorted []Candidate[T]) Candidate[T] {
	for _, c := range sorted {
		if !c.Deprecated {
			return c
		}
	}
	return sorted[0]
}

func sortDesc[T any](candidates []Candidate[T]) {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Version.GreaterThan(candidates[j].Version)
	})
}

// Package semver provides service reference parsing and SemVer resolution
// for versioned services.
package semver

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const logPrefix = "semver:parser"

// ServiceRef holds the parsed components of a service reference string.
type ServiceRef struct {
	// Service id without version (e.g., "doc.ingest")
	ID string
	// Version range if specified (e.g., "^3.2.0", "3", ""); empty string means any version
	Range string
	// Raw input string
	Raw string
}

var (
	serviceIDRegex    = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9._-]*$`)
	majorOnlyRegex    = regexp.MustCompile(`^\d+$`)
	exactVersionRegex = regexp.MustCompile(`^\d+\.\d+\.\d+(-[\w.]+)?(\+[\w.]+)?$`)
)

// ParseServiceRef parses a service reference string.
//
// Supported formats:
//   - echo            (any version)
//   - echo@3          (major only)
//   - echo@3.2.1      (exact version)
//   - echo@^3.2.0     (caret range)
//   - echo@~3.2.0     (tilde range)
//   - echo@>=3.0.0    (comparison range)
func ParseServiceRef(input string) (*ServiceRef, error) {
	raw := strings.TrimSpace(input)
	id, rangeStr, _ := strings.Cut(raw, "@")

	if !ValidateServiceID(id) {
		return nil, fmt.Errorf("%s - invalid service id: %q", logPrefix, raw)
	}

	return &ServiceRef{
		ID:    id,
		Range: strings.TrimSpace(rangeStr),
		Raw:   raw,
	}, nil
}

// BaseID returns the service id of ref without any version suffix.
func BaseID(ref string) string {
	id, _, _ := strings.Cut(strings.TrimSpace(ref), "@")
	return id
}

// IsMajorOnly checks if a range is a major-only specifier (e.g., "3").
func IsMajorOnly(rangeStr string) bool {
	return majorOnlyRegex.MatchString(rangeStr)
}

// IsExactVersion checks if a range is an exact version (e.g., "3.2.1").
func IsExactVersion(rangeStr string) bool {
	return exactVersionRegex.MatchString(rangeStr)
}

// ExtractMajorFromRange extracts the major version if the range is major-only.
// Returns -1 if not a major-only range.
func ExtractMajorFromRange(rangeStr string) int {
	if !IsMajorOnly(rangeStr) {
		return -1
	}
	major, err := strconv.Atoi(rangeStr)
	if err != nil {
		return -1
	}
	return major
}

// BuildServiceRef builds a reference string from an id and optional version.
func BuildServiceRef(id, version string) string {
	if version != "" {
		return id + "@" + version
	}
	return id
}

// ValidateServiceID validates a service id (letters, digits, dots, hyphens, underscores).
func ValidateServiceID(id string) bool {
	return serviceIDRegex.MatchString(id)
}

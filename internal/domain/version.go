package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SemanticVersion is the (major, minor, patch) schema compatibility version.
type SemanticVersion struct {
	Major int `json:"major"`
	Minor int `json:"minor"`
	Patch int `json:"patch"`
}

// InitialSemanticVersion is assigned to the first snapshot of a dataset.
var InitialSemanticVersion = SemanticVersion{Major: 1}

func (v SemanticVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compare returns -1, 0 or 1.
func (v SemanticVersion) Compare(o SemanticVersion) int {
	switch {
	case v.Major != o.Major:
		return cmpInt(v.Major, o.Major)
	case v.Minor != o.Minor:
		return cmpInt(v.Minor, o.Minor)
	default:
		return cmpInt(v.Patch, o.Patch)
	}
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// ParseSemanticVersion parses "major.minor.patch".
func ParseSemanticVersion(s string) (SemanticVersion, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) != 3 {
		return SemanticVersion{}, ErrValidation("invalid semantic version %q", s)
	}
	var nums [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return SemanticVersion{}, ErrValidation("invalid semantic version %q", s)
		}
		nums[i] = n
	}
	return SemanticVersion{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

// VersionRecord is the version assigned to one accepted evaluation.
type VersionRecord struct {
	DatasetID       string          `json:"datasetId"`
	Sequence        int64           `json:"sequence"`
	SemanticVersion SemanticVersion `json:"semanticVersion"`
	CloudVersion    int64           `json:"cloudVersion"`
	BasedOnDiff     string          `json:"basedOnDiff,omitempty"`
	Severity        Severity        `json:"severity"`
	Timestamp       time.Time       `json:"timestamp"`
}

// CloudLabel renders the cloud version counter with a prefix, e.g. "S-312".
func (r VersionRecord) CloudLabel(prefix string) string {
	return prefix + strconv.FormatInt(r.CloudVersion, 10)
}

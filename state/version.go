package state

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is a major/minor pair, e.g. {"2", "0"} for "v2.0".
type Version struct {
	Major string
	Minor string
}

func (v Version) String() string { return "v" + v.Major + "." + v.Minor }

// ParseVersion splits "v2.1" (or "2.1", or "2") into its components.
func ParseVersion(s string) Version {
	comps := strings.Split(s, ".")
	if len(comps) == 1 {
		return Version{Major: comps[0], Minor: "0"}
	}
	return Version{Major: comps[0], Minor: comps[1]}
}

// VersionCheck compares the version embedded in stored state strings
// against per-bot minimums. Construct one per check site.
type VersionCheck struct {
	minimums map[string]Version
}

// NewVersionCheck returns a checker with the given minimum per bot kind
// ("maxi", "reinvest", ...).
func NewVersionCheck(minimums map[string]Version) *VersionCheck {
	m := make(map[string]Version, len(minimums))
	for k, v := range minimums {
		m[k] = v
	}
	return &VersionCheck{minimums: m}
}

// IsCompatible reports whether the bot that wrote stored is at or above
// the minimum for kind. An empty state means the bot was never run and is
// compatible. Major and minor are compared independently.
func (c *VersionCheck) IsCompatible(kind, stored string) (bool, error) {
	min, ok := c.minimums[kind]
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownBot, kind)
	}
	if stored == "" {
		return true, nil
	}
	comps := strings.Split(stored, fieldSep)
	if len(comps) != 5 {
		return false, ErrNoVersion
	}
	v := ParseVersion(comps[4])
	if v.Major == "" {
		return true, nil
	}
	return atLeast(v.Major, min.Major) && atLeast(v.Minor, min.Minor), nil
}

func atLeast(have, want string) bool {
	h, err := strconv.ParseFloat(strings.ReplaceAll(have, "v", ""), 64)
	if err != nil {
		return false
	}
	w, err := strconv.ParseFloat(want, 64)
	if err != nil {
		return false
	}
	return h >= w
}

package core

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/ZanzyTHEbar/errbuilder-go"

	"esm-federation/internal/shared"
	"esm-federation/internal/types"
)

// Candidate is one physically available copy of a shared package.
type Candidate struct {
	Version     string
	URL         string
	Participant string
	Eager       bool
	// Order is the declaring participant's position in canonical
	// declaration order; lower wins ties.
	Order int
}

// versionCache memoizes parsed versions and constraints to avoid repeated
// parsing during constraint evaluation and sorting.
type versionCache struct {
	versions    map[string]*semver.Version
	constraints map[string]*semver.Constraints
}

func newVersionCache() *versionCache {
	return &versionCache{
		versions:    map[string]*semver.Version{},
		constraints: map[string]*semver.Constraints{},
	}
}

// version returns a parsed semantic version, caching the result.
func (c *versionCache) version(value string) (*semver.Version, error) {
	if parsed, ok := c.versions[value]; ok {
		return parsed, nil
	}
	parsed, err := semver.NewVersion(value)
	if err != nil {
		return nil, err
	}
	c.versions[value] = parsed
	return parsed, nil
}

// constraint returns parsed range constraints, caching the result.
func (c *versionCache) constraint(value string) (*semver.Constraints, error) {
	if parsed, ok := c.constraints[value]; ok {
		return parsed, nil
	}
	parsed, err := semver.NewConstraint(value)
	if err != nil {
		return nil, err
	}
	c.constraints[value] = parsed
	return parsed, nil
}

// VersionManager compares versions and picks candidates under a
// VersionStrategy. It is safe for concurrent use.
type VersionManager struct {
	mu    sync.Mutex
	cache *versionCache
}

func NewVersionManager() *VersionManager {
	return &VersionManager{cache: newVersionCache()}
}

// Compare returns -1, 0 or 1 comparing a and b.
func (m *VersionManager) Compare(a string, b string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.compare(a, b)
}

func (m *VersionManager) compare(a string, b string) (int, error) {
	v1, err := m.cache.version(a)
	if err != nil {
		return 0, invalidVersion(a, err)
	}
	v2, err := m.cache.version(b)
	if err != nil {
		return 0, invalidVersion(b, err)
	}
	return v1.Compare(v2), nil
}

// Satisfies reports whether version falls inside rng. Pre-release versions
// only satisfy ranges that name a pre-release themselves.
func (m *VersionManager) Satisfies(version string, rng string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.satisfies(version, rng)
}

func (m *VersionManager) satisfies(version string, rng string) (bool, error) {
	if isUnconstrained(rng) {
		parsed, err := m.cache.version(version)
		if err != nil {
			return false, invalidVersion(version, err)
		}
		return parsed.Prerelease() == "", nil
	}
	parsed, err := m.cache.version(version)
	if err != nil {
		return false, invalidVersion(version, err)
	}
	constraint, err := m.cache.constraint(strings.TrimSpace(rng))
	if err != nil {
		return false, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("invalid version range %q", rng)).
			WithCause(err)
	}
	return constraint.Check(parsed), nil
}

// Resolve picks a version from available for requested under strategy.
// Available versions are treated as declared in slice order.
func (m *VersionManager) Resolve(requested string, available []string, strategy types.VersionStrategy) (string, error) {
	candidates := make([]Candidate, 0, len(available))
	for i, version := range available {
		candidates = append(candidates, Candidate{Version: version, Order: i})
	}
	chosen, err := m.Select([]string{requested}, candidates, strategy)
	if err != nil {
		return "", err
	}
	return chosen.Version, nil
}

// Select picks the candidate that satisfies every range in ranges.
//
// compatible and error pick the highest satisfying candidate, exact requires
// byte-equality with plain requested versions, fallback substitutes
// FallbackVersion when nothing satisfies. Numeric ties prefer eager
// candidates, then the lowest Order.
func (m *VersionManager) Select(ranges []string, candidates []Candidate, strategy types.VersionStrategy) (Candidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matches []Candidate
	for _, candidate := range candidates {
		ok, err := m.matchesAll(candidate.Version, ranges, strategy.Type == types.StrategyExact)
		if err != nil {
			return Candidate{}, err
		}
		if ok {
			matches = append(matches, candidate)
		}
	}
	if len(matches) > 0 {
		return m.best(matches), nil
	}

	if strategy.Type == types.StrategyFallback {
		fallback := strings.TrimSpace(strategy.FallbackVersion)
		if fallback == "" {
			if len(candidates) == 0 {
				return Candidate{}, noCompatible(ranges, candidates)
			}
			return m.best(candidates), nil
		}
		var exact []Candidate
		for _, candidate := range candidates {
			if candidate.Version == fallback {
				exact = append(exact, candidate)
			}
		}
		if len(exact) > 0 {
			return m.best(exact), nil
		}
		return Candidate{Version: fallback}, nil
	}
	return Candidate{}, noCompatible(ranges, candidates)
}

// Highest returns the highest candidate using the usual tie-break.
func (m *VersionManager) Highest(candidates []Candidate) (Candidate, bool) {
	if len(candidates) == 0 {
		return Candidate{}, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.best(candidates), true
}

func (m *VersionManager) matchesAll(version string, ranges []string, exact bool) (bool, error) {
	for _, rng := range ranges {
		if exact {
			if plain, ok := plainVersion(rng); ok {
				if version != plain {
					return false, nil
				}
				continue
			}
		}
		ok, err := m.satisfies(version, rng)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	if len(ranges) == 0 {
		return m.satisfies(version, "")
	}
	return true, nil
}

// best sorts a copy of candidates and returns the winner. Unparseable
// versions sort last.
func (m *VersionManager) best(candidates []Candidate) Candidate {
	ordered := append([]Candidate(nil), candidates...)
	sort.SliceStable(ordered, func(i, j int) bool {
		cmp, err := m.compare(ordered[i].Version, ordered[j].Version)
		if err != nil {
			_, errI := m.cache.version(ordered[i].Version)
			return errI == nil
		}
		if cmp != 0 {
			return cmp > 0
		}
		if ordered[i].Eager != ordered[j].Eager {
			return ordered[i].Eager
		}
		return ordered[i].Order < ordered[j].Order
	})
	return ordered[0]
}

func isUnconstrained(rng string) bool {
	trimmed := strings.TrimSpace(rng)
	return trimmed == "" || trimmed == "*" || trimmed == types.AutoVersion
}

// plainVersion reports whether rng names one concrete version rather than
// a range, returning it without a leading "=".
func plainVersion(rng string) (string, bool) {
	trimmed := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(rng), "="))
	if trimmed == "" || strings.ContainsAny(trimmed, "^~<>=*|, ") {
		return "", false
	}
	for _, part := range strings.SplitN(strings.SplitN(trimmed, "-", 2)[0], ".", 3) {
		if part == "x" || part == "X" {
			return "", false
		}
	}
	if _, err := semver.NewVersion(trimmed); err != nil {
		return "", false
	}
	return trimmed, true
}

func invalidVersion(value string, err error) error {
	return errbuilder.New().
		WithCode(errbuilder.CodeInvalidArgument).
		WithMsg(fmt.Sprintf("invalid version %q", value)).
		WithCause(err)
}

func noCompatible(ranges []string, candidates []Candidate) error {
	available := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		available = append(available, candidate.Version)
	}
	return shared.FederationError(
		errbuilder.CodeFailedPrecondition,
		shared.ErrNoCompatibleVersion,
		fmt.Sprintf("no compatible version for %s among [%s]", strings.Join(ranges, " "), strings.Join(available, ", ")),
		nil,
	)
}

// Accepts reports whether version satisfies every range in ranges. With
// exact set, plain versions in ranges require byte-equality.
func (m *VersionManager) Accepts(version string, ranges []string, exact bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.matchesAll(version, ranges, exact)
}

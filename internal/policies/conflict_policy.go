package policies

import (
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"esm-federation/internal/types"
)

// strictness orders strategies when several declarations name one
// explicitly; the strictest wins.
var strictness = map[types.StrategyType]int{
	types.StrategyFallback:   0,
	types.StrategyCompatible: 1,
	types.StrategyExact:      2,
	types.StrategyError:      3,
}

// ValidateStrategy rejects unknown strategy tags.
func ValidateStrategy(strategy types.VersionStrategy) error {
	if _, ok := strictness[types.StrategyType(strings.ToLower(string(strategy.Type)))]; ok {
		return nil
	}
	return errbuilder.New().
		WithCode(errbuilder.CodeInvalidArgument).
		WithMsg(fmt.Sprintf("unknown version strategy: %s", strategy.Type))
}

// EffectiveStrategy merges the strategies of every declaration of one share
// key. Explicit strategies win over ones derived from strict_version.
func EffectiveStrategy(decls []types.SharedPackageConfig) (types.VersionStrategy, error) {
	var explicit []types.VersionStrategy
	for _, decl := range decls {
		if decl.Strategy == nil {
			continue
		}
		strategy := *decl.Strategy
		strategy.Type = types.StrategyType(strings.ToLower(string(strategy.Type)))
		if err := ValidateStrategy(strategy); err != nil {
			return types.VersionStrategy{}, err
		}
		explicit = append(explicit, strategy)
	}
	if len(explicit) > 0 {
		chosen := explicit[0]
		for _, strategy := range explicit[1:] {
			if strictness[strategy.Type] > strictness[chosen.Type] {
				chosen = strategy
			}
		}
		if chosen.Type == types.StrategyFallback && chosen.FallbackVersion == "" {
			for _, strategy := range explicit {
				if strategy.Type == types.StrategyFallback && strategy.FallbackVersion != "" {
					chosen.FallbackVersion = strategy.FallbackVersion
					break
				}
			}
		}
		return chosen, nil
	}
	for _, decl := range decls {
		if decl.StrictVersion {
			return types.VersionStrategy{Type: types.StrategyExact}, nil
		}
	}
	return types.VersionStrategy{Type: types.StrategyCompatible}, nil
}

// AllowsMixedSingleton reports whether mixed singleton and non-singleton
// declarations are tolerated, which is only the case when one of them opts
// into the fallback strategy.
func AllowsMixedSingleton(decls []types.SharedPackageConfig) bool {
	for _, decl := range decls {
		if decl.Strategy != nil && strings.EqualFold(string(decl.Strategy.Type), string(types.StrategyFallback)) {
			return true
		}
	}
	return false
}

// FailsHard reports whether an unsatisfiable range aborts resolution under
// strategy for a package with the given singleton flag.
func FailsHard(strategy types.VersionStrategy, singleton bool) bool {
	switch strategy.Type {
	case types.StrategyError:
		return true
	case types.StrategyExact:
		return singleton
	default:
		return false
	}
}

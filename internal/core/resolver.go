package core

import (
	"context"
	"fmt"
	"sort"
	"strings"

	assert "github.com/ZanzyTHEbar/assert-lib"
	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"esm-federation/internal/policies"
	"esm-federation/internal/shared"
	"esm-federation/internal/types"
)

// SharedResolver merges every participant's shared declarations into one
// authoritative table.
type SharedResolver struct {
	Versions *VersionManager
}

func NewSharedResolver() SharedResolver {
	return SharedResolver{Versions: NewVersionManager()}
}

type declaration struct {
	participant types.ParticipantDeclaration
	order       int
	packageName string
	config      types.SharedPackageConfig
}

// Resolve computes the shared-version table. Fatal findings (conflicting
// singleton declarations, unsatisfiable strict ranges) abort with an error;
// degraded participants are reported in Resolution.Errors.
func (r SharedResolver) Resolve(ctx context.Context, participants []types.ParticipantDeclaration) (types.Resolution, error) {
	if r.Versions == nil {
		return types.Resolution{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("resolver requires a version manager")
	}
	ordered, err := CanonicalOrder(participants)
	if err != nil {
		return types.Resolution{}, err
	}
	for _, participant := range ordered {
		assert.NotEmpty(ctx, participant.Name, "participant name must be set after ordering")
	}

	byKey := collectDeclarations(ordered)
	keys := make([]string, 0, len(byKey))
	for key := range byKey {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	result := types.Resolution{Table: map[string]types.ResolvedSharedEntry{}}
	for _, key := range keys {
		entry, findings, err := r.resolveKey(key, byKey[key])
		if err != nil {
			return types.Resolution{}, err
		}
		for _, finding := range findings {
			log.Ctx(ctx).Warn().
				Str("share_key", finding.ShareKey).
				Strs("participants", finding.Participants).
				Str("chosen", finding.Chosen).
				Msg(finding.Message)
		}
		result.Table[key] = entry
		result.Errors = append(result.Errors, findings...)
	}

	log.Ctx(ctx).Debug().Int("resolved", len(result.Table)).Int("degraded", len(result.Errors)).Msg("shared resolution completed")
	return result, nil
}

// CanonicalOrder validates participants and orders them hosts first, then
// remotes, each group by name. This order is the declaration order used for
// tie-breaks, so callers may pass participants in any order.
func CanonicalOrder(participants []types.ParticipantDeclaration) ([]types.ParticipantDeclaration, error) {
	seen := map[string]bool{}
	for _, participant := range participants {
		name := strings.TrimSpace(participant.Name)
		if name == "" {
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg("participant name is required")
		}
		if seen[name] {
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeAlreadyExists).
				WithMsg(fmt.Sprintf("duplicate participant: %s", name))
		}
		seen[name] = true
	}
	ordered := append([]types.ParticipantDeclaration(nil), participants...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].IsHost() != ordered[j].IsHost() {
			return ordered[i].IsHost()
		}
		return ordered[i].Name < ordered[j].Name
	})
	return ordered, nil
}

func collectDeclarations(ordered []types.ParticipantDeclaration) map[string][]declaration {
	byKey := map[string][]declaration{}
	for order, participant := range ordered {
		names := make([]string, 0, len(participant.Shared))
		for name := range participant.Shared {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			config := participant.Shared[name]
			key := config.Key(name)
			byKey[key] = append(byKey[key], declaration{
				participant: participant,
				order:       order,
				packageName: name,
				config:      config,
			})
		}
	}
	return byKey
}

func (r SharedResolver) resolveKey(key string, decls []declaration) (types.ResolvedSharedEntry, []types.ResolutionError, error) {
	configs := make([]types.SharedPackageConfig, 0, len(decls))
	for _, decl := range decls {
		configs = append(configs, decl.config)
	}

	scope := decls[0].config.Scope()
	for _, decl := range decls[1:] {
		if decl.config.Scope() != scope {
			return types.ResolvedSharedEntry{}, nil, shared.FederationError(
				errbuilder.CodeFailedPrecondition,
				shared.ErrConflict,
				fmt.Sprintf("conflicting share scopes for %s: %s declares %q, %s declares %q",
					key, decls[0].participant.Name, scope, decl.participant.Name, decl.config.Scope()),
				nil,
			)
		}
	}

	singleton := false
	var singletons, nonSingletons []string
	for _, decl := range decls {
		if decl.config.Singleton {
			singleton = true
			singletons = append(singletons, decl.participant.Name)
		} else {
			nonSingletons = append(nonSingletons, decl.participant.Name)
		}
	}
	var findings []types.ResolutionError
	if singleton && len(nonSingletons) > 0 {
		if !policies.AllowsMixedSingleton(configs) {
			return types.ResolvedSharedEntry{}, nil, shared.FederationError(
				errbuilder.CodeFailedPrecondition,
				shared.ErrConflict,
				fmt.Sprintf("conflicting singleton declarations for %s: singleton in [%s], non-singleton in [%s]",
					key, strings.Join(singletons, ", "), strings.Join(nonSingletons, ", ")),
				nil,
			)
		}
		findings = append(findings, types.ResolutionError{
			Kind:         types.ResolutionErrorConflict,
			ShareKey:     key,
			Participants: nonSingletons,
			Message:      "mixed singleton declarations tolerated under fallback strategy; treating as singleton",
		})
	}

	strategy, err := policies.EffectiveStrategy(configs)
	if err != nil {
		return types.ResolvedSharedEntry{}, nil, err
	}

	var ranges []string
	var candidates []Candidate
	for _, decl := range decls {
		if rng := strings.TrimSpace(decl.config.RequiredVersion); rng != "" && rng != types.AutoVersion {
			ranges = append(ranges, rng)
		}
		if version := strings.TrimSpace(decl.config.Version); version != "" && version != types.AutoVersion {
			candidates = append(candidates, Candidate{
				Version:     version,
				URL:         decl.config.URL,
				Participant: decl.participant.Name,
				Eager:       decl.config.Eager,
				Order:       decl.order,
			})
		}
	}
	ranges = dedupe(ranges)

	chosen, err := r.Versions.Select(ranges, candidates, strategy)
	if err != nil {
		if !shared.Is(err, shared.ErrNoCompatibleVersion) {
			return types.ResolvedSharedEntry{}, nil, err
		}
		if policies.FailsHard(strategy, singleton) || len(candidates) == 0 {
			return types.ResolvedSharedEntry{}, nil, shared.FederationError(
				errbuilder.CodeFailedPrecondition,
				shared.ErrNoCompatibleVersion,
				fmt.Sprintf("no compatible version for %s under %s strategy: participants [%s] require [%s], available [%s]",
					key, strategy.Type, strings.Join(participantNames(decls), ", "),
					strings.Join(ranges, " "), strings.Join(candidateVersions(candidates), ", ")),
				err,
			)
		}
		chosen, _ = r.Versions.Highest(candidates)
	}

	entry := types.ResolvedSharedEntry{
		ShareKey:   key,
		ShareScope: scope,
		Version:    chosen.Version,
		URL:        chosen.URL,
		Singleton:  singleton,
		Strategy:   strategy,
		Satisfies:  []string{},
	}

	for _, decl := range decls {
		ok, err := r.accepts(decl, chosen.Version, strategy)
		if err != nil {
			return types.ResolvedSharedEntry{}, nil, err
		}
		if ok {
			entry.Satisfies = append(entry.Satisfies, decl.participant.Name)
			continue
		}
		if !singleton {
			if override, ok := r.scopedOverride(decl, strategy); ok {
				entry.Scoped = append(entry.Scoped, override)
				continue
			}
		}
		entry.Violates = append(entry.Violates, decl.participant.Name)
	}

	if len(entry.Violates) > 0 {
		findings = append(findings, types.ResolutionError{
			Kind:         types.ResolutionErrorDegraded,
			ShareKey:     key,
			Participants: append([]string{}, entry.Violates...),
			Chosen:       chosen.Version,
			Message:      fmt.Sprintf("participants degraded: %s resolved to %s under %s strategy", key, chosen.Version, strategy.Type),
		})
	}
	if entry.URL == "" {
		findings = append(findings, types.ResolutionError{
			Kind:         types.ResolutionErrorNoCompatible,
			ShareKey:     key,
			Participants: participantNames(decls),
			Chosen:       chosen.Version,
			Message:      fmt.Sprintf("no participant ships %s@%s; import map entry omitted", key, chosen.Version),
		})
	}
	return entry, findings, nil
}

// accepts checks the chosen version against one declaration. "auto"
// declarations accept anything compatible with their own build's copy.
func (r SharedResolver) accepts(decl declaration, version string, strategy types.VersionStrategy) (bool, error) {
	rng := effectiveRange(decl.config)
	if rng == "" {
		return true, nil
	}
	return r.Versions.Accepts(version, []string{rng}, strategy.Type == types.StrategyExact)
}

func (r SharedResolver) scopedOverride(decl declaration, strategy types.VersionStrategy) (types.ScopedOverride, bool) {
	own := strings.TrimSpace(decl.config.Version)
	if own == "" || own == types.AutoVersion || decl.config.URL == "" || decl.participant.PublicPath == "" {
		return types.ScopedOverride{}, false
	}
	ok, err := r.accepts(decl, own, strategy)
	if err != nil || !ok {
		return types.ScopedOverride{}, false
	}
	return types.ScopedOverride{
		Participant: decl.participant.Name,
		ScopePrefix: shared.EnsureTrailingSlash(decl.participant.PublicPath),
		Version:     own,
		URL:         decl.config.URL,
	}, true
}

func effectiveRange(config types.SharedPackageConfig) string {
	rng := strings.TrimSpace(config.RequiredVersion)
	if rng != "" && rng != types.AutoVersion {
		return rng
	}
	own := strings.TrimSpace(config.Version)
	if own == "" || own == types.AutoVersion {
		return ""
	}
	return "^" + own
}

func participantNames(decls []declaration) []string {
	names := make([]string, 0, len(decls))
	for _, decl := range decls {
		names = append(names, decl.participant.Name)
	}
	return names
}

func candidateVersions(candidates []Candidate) []string {
	versions := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		versions = append(versions, candidate.Version)
	}
	return versions
}

func dedupe(values []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, value := range values {
		if seen[value] {
			continue
		}
		seen[value] = true
		out = append(out, value)
	}
	return out
}

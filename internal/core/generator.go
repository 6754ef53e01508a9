package core

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"esm-federation/internal/shared"
	"esm-federation/internal/types"
)

// RemoteEntryFile is the file name remote entries are published under.
const RemoteEntryFile = "remoteEntry.json"

// Generator turns a resolved table into browser-consumable artifacts. It
// only reads resolution output.
type Generator struct{}

func NewGenerator() Generator {
	return Generator{}
}

// GenerateImportMap maps each resolved share key to its chosen URL and each
// remote name to its remote entry URL. Exposed modules are not mapped; they
// are resolved lazily by the loader.
func (g Generator) GenerateImportMap(table map[string]types.ResolvedSharedEntry, remotes types.FederationManifest) (types.ImportMap, error) {
	out := types.ImportMap{Imports: map[string]string{}}
	keys := make([]string, 0, len(table))
	for key := range table {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		entry := table[key]
		if entry.URL == "" {
			continue
		}
		out.Imports[key] = entry.URL
		for _, override := range entry.Scoped {
			if override.ScopePrefix == "" || override.URL == "" {
				continue
			}
			if out.Scopes == nil {
				out.Scopes = map[string]map[string]string{}
			}
			scope, ok := out.Scopes[override.ScopePrefix]
			if !ok {
				scope = map[string]string{}
				out.Scopes[override.ScopePrefix] = scope
			}
			scope[key] = override.URL
		}
	}
	for name, entryURL := range remotes {
		if _, taken := out.Imports[name]; taken {
			return types.ImportMap{}, errbuilder.New().
				WithCode(errbuilder.CodeAlreadyExists).
				WithMsg(fmt.Sprintf("remote name %s collides with shared specifier", name))
		}
		out.Imports[name] = entryURL
	}
	return out, nil
}

// GenerateRemoteEntry builds a participant's self-description. It embeds the
// participant's own shared declarations, not the resolved ones, so the entry
// stays valid for hosts built later with different resolution results.
func (g Generator) GenerateRemoteEntry(participant types.ParticipantDeclaration, exposedURLs map[string]string) (types.RemoteEntry, error) {
	if strings.TrimSpace(participant.Name) == "" {
		return types.RemoteEntry{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("participant name is required")
	}
	normalized := map[string]string{}
	for path, url := range exposedURLs {
		normalized[shared.NormalizeExposedPath(path)] = url
	}
	exposes := map[string]string{}
	for path := range participant.Exposes {
		key := shared.NormalizeExposedPath(path)
		url, ok := normalized[key]
		if !ok || strings.TrimSpace(url) == "" {
			return types.RemoteEntry{}, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("no emitted URL for %s exposed path %s", participant.Name, key))
		}
		exposes[key] = url
	}
	sharedDecls := map[string]types.SharedPackageConfig{}
	for name, config := range participant.Shared {
		config.Import = ""
		sharedDecls[name] = config
	}
	return types.RemoteEntry{
		Name: participant.Name,
		URL:  shared.JoinURL(participant.PublicPath, RemoteEntryFile),
		Metadata: types.RemoteEntryMetadata{
			Exposes: exposes,
			Shared:  sharedDecls,
			Version: participant.Version,
		},
	}, nil
}

// GenerateFederationManifest lists the remotes a participant consumes.
func (g Generator) GenerateFederationManifest(participant types.ParticipantDeclaration) (types.FederationManifest, error) {
	manifest := types.FederationManifest{}
	for name, url := range participant.Remotes {
		if strings.TrimSpace(name) == "" || strings.TrimSpace(url) == "" {
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("invalid remote declaration in %s: %q -> %q", participant.Name, name, url))
		}
		manifest[name] = strings.TrimSpace(url)
	}
	return manifest, nil
}

package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"esm-federation/internal/adapters"
	"esm-federation/internal/loader"
	"esm-federation/internal/types"
)

// Inspect summarizes the artifacts of a build output directory and,
// optionally, the live state of a deployed federation.
func (s Service) Inspect(ctx context.Context, req InspectRequest) (InspectResult, error) {
	outputDir := strings.TrimSpace(req.OutputDir)
	manifestURL := strings.TrimSpace(req.ManifestURL)
	if outputDir == "" && manifestURL == "" {
		return InspectResult{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("output directory or manifest url is required")
	}
	result := InspectResult{}
	if outputDir != "" {
		participants, err := s.inspectOutput(outputDir)
		if err != nil {
			return InspectResult{}, err
		}
		result.Participants = participants
	}
	if manifestURL != "" {
		status, err := s.inspectRuntime(ctx, manifestURL)
		if err != nil {
			return InspectResult{}, err
		}
		result.Runtime = &status
	}
	return result, nil
}

func (s Service) inspectOutput(outputDir string) ([]InspectParticipant, error) {
	dirs, err := os.ReadDir(outputDir)
	if err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg("output directory not found").
			WithCause(err)
	}
	var participants []InspectParticipant
	for _, dir := range dirs {
		if !dir.IsDir() {
			continue
		}
		path := filepath.Join(outputDir, dir.Name())
		resolution, err := s.Reader.ReadResolutionReport(filepath.Join(path, adapters.ResolutionReportFileName))
		if err != nil {
			// not a participant directory
			continue
		}
		summary := InspectParticipant{Name: dir.Name(), Findings: len(resolution.Errors)}

		entry, err := s.Reader.ReadRemoteEntry(filepath.Join(path, adapters.RemoteEntryFileName))
		switch {
		case err == nil:
			summary.HasEntry = true
			summary.Version = entry.Metadata.Version
			summary.Exposes = sortedKeys(entry.Metadata.Exposes)
			summary.Shared = sortedKeys(entry.Metadata.Shared)
		case !missing(path, adapters.RemoteEntryFileName):
			return nil, err
		}

		importMap, err := s.Reader.ReadImportMap(filepath.Join(path, adapters.ImportMapFileName))
		switch {
		case err == nil:
			summary.HasImports = true
			summary.Imports = len(importMap.Imports)
			summary.Scopes = len(importMap.Scopes)
		case !missing(path, adapters.ImportMapFileName):
			return nil, err
		}

		manifest, err := s.Reader.ReadFederationManifest(filepath.Join(path, adapters.FederationManifestFileName))
		switch {
		case err == nil:
			summary.Remotes = sortedKeys(manifest)
		case !missing(path, adapters.FederationManifestFileName):
			return nil, err
		}
		participants = append(participants, summary)
	}
	if len(participants) == 0 {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg("no participant artifacts found in output directory")
	}
	return participants, nil
}

func (s Service) inspectRuntime(ctx context.Context, manifestURL string) (types.FederationStatus, error) {
	l, err := loader.New(loader.Options{Fetcher: s.Fetcher, Evaluator: s.Evaluator})
	if err != nil {
		return types.FederationStatus{}, err
	}
	if err := l.Initialize(ctx, manifestURL); err != nil {
		return types.FederationStatus{}, err
	}
	if err := l.PreloadRemotes(ctx); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("some remote entries could not be fetched")
	}
	return l.GetFederationStatus(), nil
}

func missing(dir string, name string) bool {
	_, err := os.Stat(filepath.Join(dir, name))
	return errors.Is(err, os.ErrNotExist)
}

func sortedKeys[V any](input map[string]V) []string {
	keys := make([]string, 0, len(input))
	for key := range input {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

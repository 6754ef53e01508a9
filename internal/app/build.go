package app

import (
	"context"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"esm-federation/internal/adapters"
	"esm-federation/internal/core"
	"esm-federation/internal/shared"
	"esm-federation/internal/types"
)

const defaultBuildConcurrency = 4

// Build bundles every participant, resolves shared dependencies across all
// of them and writes each participant's artifacts under OutputDir/<name>.
func (s Service) Build(ctx context.Context, req BuildRequest) (BuildResult, error) {
	outputDir := strings.TrimSpace(req.OutputDir)
	if outputDir == "" {
		return BuildResult{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("output directory is required")
	}
	participants, err := s.loadParticipants(req.ParticipantPaths)
	if err != nil {
		return BuildResult{}, err
	}

	emitted := make([]map[string]string, len(participants))
	concurrency := req.Concurrency
	if concurrency <= 0 {
		concurrency = defaultBuildConcurrency
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, participant := range participants {
		g.Go(func() error {
			result, err := s.Bundler.Bundle(gctx, bundleRequest(participant, filepath.Join(outputDir, participant.Name)))
			if err != nil {
				return err
			}
			emitted[i] = result.Files
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return BuildResult{}, err
	}

	exposedURLs := make([]map[string]string, len(participants))
	for i := range participants {
		exposedURLs[i] = applyEmitted(&participants[i], emitted[i])
	}

	resolution, err := s.Resolver.Resolve(ctx, participants)
	if err != nil {
		return BuildResult{}, err
	}

	result := BuildResult{OutputDir: outputDir, Resolution: resolution}
	for i, participant := range participants {
		artifacts, err := s.writeArtifacts(participant, exposedURLs[i], resolution, filepath.Join(outputDir, participant.Name))
		if err != nil {
			return BuildResult{}, err
		}
		artifacts.Files = len(emitted[i])
		result.Participants = append(result.Participants, artifacts)
	}
	log.Ctx(ctx).Info().
		Int("participants", len(result.Participants)).
		Int("shared", len(resolution.Table)).
		Int("findings", len(resolution.Errors)).
		Msg("federation build completed")
	return result, nil
}

func (s Service) loadParticipants(paths []string) ([]types.ParticipantDeclaration, error) {
	if len(paths) == 0 {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("at least one participant file is required")
	}
	participants := make([]types.ParticipantDeclaration, 0, len(paths))
	for _, path := range paths {
		participant, err := s.Participants.LoadParticipant(strings.TrimSpace(path))
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(participant.PublicPath) == "" {
			participant.PublicPath = "/" + participant.Name + "/"
		}
		participants = append(participants, participant)
	}
	return core.CanonicalOrder(participants)
}

func sharedEntryName(pkg string, config types.SharedPackageConfig) string {
	version := strings.TrimSpace(config.Version)
	if version == "" || version == types.AutoVersion {
		return "shared/" + pkg
	}
	return "shared/" + pkg + "@" + version
}

func bundleRequest(participant types.ParticipantDeclaration, dir string) types.BundleRequest {
	entries := map[string]string{}
	for path, source := range participant.Exposes {
		entries[path] = source
	}
	externals := make([]string, 0, len(participant.Shared))
	for name, config := range participant.Shared {
		externals = append(externals, config.Key(name))
		if config.Import != "" {
			entries[sharedEntryName(name, config)] = config.Import
		}
	}
	sort.Strings(externals)
	return types.BundleRequest{
		Participant: participant.Name,
		EntryPoints: entries,
		Externals:   externals,
		OutputDir:   dir,
	}
}

// applyEmitted records where each shared copy is served and returns the
// served URL of every exposed module.
func applyEmitted(participant *types.ParticipantDeclaration, files map[string]string) map[string]string {
	exposed := map[string]string{}
	for path := range participant.Exposes {
		if rel, ok := files[path]; ok {
			exposed[path] = shared.JoinURL(participant.PublicPath, rel)
		}
	}
	if len(participant.Shared) == 0 {
		return exposed
	}
	sharedDecls := make(map[string]types.SharedPackageConfig, len(participant.Shared))
	for name, config := range participant.Shared {
		if rel, ok := files[sharedEntryName(name, config)]; ok {
			config.URL = shared.JoinURL(participant.PublicPath, rel)
		}
		sharedDecls[name] = config
	}
	participant.Shared = sharedDecls
	return exposed
}

// plannedURLs fills shared URLs from the passthrough naming without
// bundling, for resolution previews.
func plannedURLs(participant *types.ParticipantDeclaration) {
	files := map[string]string{}
	for name, config := range participant.Shared {
		if config.Import == "" {
			continue
		}
		entry := sharedEntryName(name, config)
		files[entry] = filepath.ToSlash(adapters.EmittedName(entry, config.Import))
	}
	applyEmitted(participant, files)
}

func (s Service) writeArtifacts(participant types.ParticipantDeclaration, exposedURLs map[string]string, resolution types.Resolution, dir string) (ParticipantArtifacts, error) {
	writer := s.NewWriter(dir)
	artifacts := ParticipantArtifacts{Name: participant.Name, Role: participant.Role, Dir: dir}
	if len(participant.Exposes) > 0 {
		entry, err := s.Generator.GenerateRemoteEntry(participant, exposedURLs)
		if err != nil {
			return ParticipantArtifacts{}, err
		}
		if err := writer.WriteRemoteEntry(entry); err != nil {
			return ParticipantArtifacts{}, err
		}
		artifacts.RemoteEntry = true
	}
	if participant.IsHost() {
		manifest, err := s.Generator.GenerateFederationManifest(participant)
		if err != nil {
			return ParticipantArtifacts{}, err
		}
		importMap, err := s.Generator.GenerateImportMap(resolution.Table, manifest)
		if err != nil {
			return ParticipantArtifacts{}, err
		}
		if err := writer.WriteFederationManifest(manifest); err != nil {
			return ParticipantArtifacts{}, err
		}
		if err := writer.WriteImportMap(importMap); err != nil {
			return ParticipantArtifacts{}, err
		}
		artifacts.ImportMap = true
	}
	if err := writer.WriteResolutionReport(resolution); err != nil {
		return ParticipantArtifacts{}, err
	}
	return artifacts, nil
}

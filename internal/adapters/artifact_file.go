package adapters

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"esm-federation/internal/ports"
	"esm-federation/internal/types"
)

const (
	RemoteEntryFileName        = "remoteEntry.json"
	ImportMapFileName          = "importmap.json"
	FederationManifestFileName = "federation.manifest.json"
	ResolutionReportFileName   = "resolution.report"
	ResolutionTableFileName    = "resolution.json"
)

// ArtifactFileAdapter writes one participant's generated artifacts into Dir.
type ArtifactFileAdapter struct {
	Dir string
}

func NewArtifactFileAdapter(dir string) ArtifactFileAdapter {
	return ArtifactFileAdapter{Dir: dir}
}

func (a ArtifactFileAdapter) WriteRemoteEntry(entry types.RemoteEntry) error {
	return a.writeJSON(RemoteEntryFileName, entry)
}

func (a ArtifactFileAdapter) WriteImportMap(importMap types.ImportMap) error {
	if importMap.Imports == nil {
		importMap.Imports = map[string]string{}
	}
	return a.writeJSON(ImportMapFileName, importMap)
}

func (a ArtifactFileAdapter) WriteFederationManifest(manifest types.FederationManifest) error {
	if manifest == nil {
		manifest = types.FederationManifest{}
	}
	return a.writeJSON(FederationManifestFileName, manifest)
}

// WriteResolutionReport writes the machine-readable table plus a sorted,
// line-oriented report of every entry and finding.
func (a ArtifactFileAdapter) WriteResolutionReport(resolution types.Resolution) error {
	if err := a.writeJSON(ResolutionTableFileName, resolution); err != nil {
		return err
	}
	path, err := a.ensurePath(ResolutionReportFileName)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(resolution.Table))
	for key := range resolution.Table {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var lines []string
	for _, key := range keys {
		entry := resolution.Table[key]
		lines = append(lines, fmt.Sprintf(
			"shared,%s,%s,%s,singleton=%t,strategy=%s,satisfies=%s,violates=%s",
			key,
			entry.Version,
			entry.URL,
			entry.Singleton,
			entry.Strategy.Type,
			strings.Join(entry.Satisfies, "|"),
			strings.Join(entry.Violates, "|"),
		))
		for _, override := range entry.Scoped {
			lines = append(lines, fmt.Sprintf("scoped,%s,%s,%s,%s", key, override.Participant, override.Version, override.URL))
		}
	}
	findings := append([]types.ResolutionError(nil), resolution.Errors...)
	sort.SliceStable(findings, func(i, j int) bool {
		if findings[i].ShareKey != findings[j].ShareKey {
			return findings[i].ShareKey < findings[j].ShareKey
		}
		return findings[i].Kind < findings[j].Kind
	})
	for _, finding := range findings {
		lines = append(lines, fmt.Sprintf(
			"%s,%s,%s,%s,%s",
			finding.Kind,
			finding.ShareKey,
			strings.Join(finding.Participants, "|"),
			finding.Chosen,
			finding.Message,
		))
	}
	return writeFile(path, []byte(strings.Join(lines, "\n")))
}

func (a ArtifactFileAdapter) writeJSON(filename string, value any) error {
	path, err := a.ensurePath(filename)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg(fmt.Sprintf("failed to encode %s", filename)).
			WithCause(err)
	}
	return writeFile(path, append(data, '\n'))
}

func (a ArtifactFileAdapter) ensurePath(filename string) (string, error) {
	if a.Dir == "" {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("output directory is empty")
	}
	if err := os.MkdirAll(a.Dir, 0o750); err != nil {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to create output directory").
			WithCause(err)
	}
	return filepath.Join(a.Dir, filename), nil
}

func writeFile(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg(fmt.Sprintf("failed to write %s", filepath.Base(path))).
			WithCause(err)
	}
	return nil
}

var _ ports.ArtifactWriterPort = ArtifactFileAdapter{}

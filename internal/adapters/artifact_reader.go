package adapters

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"esm-federation/internal/ports"
	"esm-federation/internal/types"
)

type ArtifactReaderAdapter struct{}

func NewArtifactReaderAdapter() ArtifactReaderAdapter {
	return ArtifactReaderAdapter{}
}

func (a ArtifactReaderAdapter) ReadRemoteEntry(path string) (types.RemoteEntry, error) {
	var entry types.RemoteEntry
	if err := readJSON(path, &entry); err != nil {
		return types.RemoteEntry{}, err
	}
	if entry.Name == "" {
		return types.RemoteEntry{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("remote entry missing name")
	}
	return entry, nil
}

func (a ArtifactReaderAdapter) ReadImportMap(path string) (types.ImportMap, error) {
	var importMap types.ImportMap
	if err := readJSON(path, &importMap); err != nil {
		return types.ImportMap{}, err
	}
	if importMap.Imports == nil {
		importMap.Imports = map[string]string{}
	}
	return importMap, nil
}

func (a ArtifactReaderAdapter) ReadFederationManifest(path string) (types.FederationManifest, error) {
	manifest := types.FederationManifest{}
	if err := readJSON(path, &manifest); err != nil {
		return nil, err
	}
	return manifest, nil
}

// ReadResolutionReport reads the machine-readable table that accompanies
// the line-oriented report in the same directory.
func (a ArtifactReaderAdapter) ReadResolutionReport(path string) (types.Resolution, error) {
	if filepath.Base(path) == ResolutionReportFileName {
		path = filepath.Join(filepath.Dir(path), ResolutionTableFileName)
	}
	var resolution types.Resolution
	if err := readJSON(path, &resolution); err != nil {
		return types.Resolution{}, err
	}
	return resolution, nil
}

func readJSON(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg(fmt.Sprintf("%s not found", filepath.Base(path))).
			WithCause(err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("invalid %s format", filepath.Base(path))).
			WithCause(err)
	}
	return nil
}

var _ ports.ArtifactReaderPort = ArtifactReaderAdapter{}

package ports

import "esm-federation/internal/types"

type ArtifactWriterPort interface {
	WriteRemoteEntry(entry types.RemoteEntry) error
	WriteImportMap(importMap types.ImportMap) error
	WriteFederationManifest(manifest types.FederationManifest) error
	WriteResolutionReport(resolution types.Resolution) error
}

type ArtifactReaderPort interface {
	ReadRemoteEntry(path string) (types.RemoteEntry, error)
	ReadImportMap(path string) (types.ImportMap, error)
	ReadFederationManifest(path string) (types.FederationManifest, error)
	ReadResolutionReport(path string) (types.Resolution, error)
}

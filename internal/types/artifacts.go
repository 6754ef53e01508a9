package types

type RemoteEntryMetadata struct {
	Exposes map[string]string              `json:"exposes"`
	Shared  map[string]SharedPackageConfig `json:"shared"`
	Version string                         `json:"version"`
}

// RemoteEntry is a remote's published self-description.
type RemoteEntry struct {
	Name     string              `json:"name"`
	URL      string              `json:"url"`
	Metadata RemoteEntryMetadata `json:"metadata"`
}

// FederationManifest maps remote names to remote entry URLs.
type FederationManifest map[string]string

type ImportMap struct {
	Imports map[string]string            `json:"imports"`
	Scopes  map[string]map[string]string `json:"scopes,omitempty"`
}

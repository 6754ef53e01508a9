package types

type ModuleKey struct {
	Remote      string
	ExposedPath string
}

type HydrationRecord struct {
	Remote      string `json:"remote"`
	ExposedPath string `json:"exposedPath"`
	Rendered    bool   `json:"rendered"`
	Version     string `json:"version,omitempty"`
}

// TransferManifest is the payload the server embeds for the client.
type TransferManifest struct {
	Modules []HydrationRecord `json:"modules"`
}

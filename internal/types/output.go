package types

type BundleRequest struct {
	Participant string
	EntryPoints map[string]string
	Externals   []string
	OutputDir   string
}

type BundleResult struct {
	// Files maps entry names to emitted paths relative to OutputDir.
	Files map[string]string
}

type ArtifactSet struct {
	Participant string
	Manifest    FederationManifest
	ImportMap   *ImportMap
	RemoteEntry *RemoteEntry
	Resolution  Resolution
}

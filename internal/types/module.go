package types

import "time"

type LoadState string

const (
	LoadStateNotRequested LoadState = "not-requested"
	LoadStateFetching     LoadState = "fetching"
	LoadStateParsed       LoadState = "parsed"
	LoadStateReady        LoadState = "ready"
	LoadStateFailed       LoadState = "failed"
)

// ModuleInfo is the loader's cache record for one module instance.
type ModuleInfo struct {
	ID          string
	Name        string
	Version     string
	URL         string
	Deps        []string
	Loaded      bool
	Singleton   bool
	Remote      string
	ExposedPath string
	Hydrated    bool
	LoadedAt    time.Time
}

type RemoteStatus struct {
	Name      string
	EntryURL  string
	Fetched   bool
	Version   string
	LastError string
}

type FederationStatus struct {
	Initialized   bool
	ManifestURL   string
	ManifestError string
	Remotes       []RemoteStatus
	LoadedModules int
	SharedImports int
	Hydrated      int
}

package app

import "esm-federation/internal/types"

type BuildRequest struct {
	ParticipantPaths []string
	OutputDir        string
	Concurrency      int
}

type ParticipantArtifacts struct {
	Name        string
	Role        types.ParticipantRole
	Dir         string
	RemoteEntry bool
	ImportMap   bool
	Files       int
}

type BuildResult struct {
	OutputDir    string
	Participants []ParticipantArtifacts
	Resolution   types.Resolution
}

type ResolveRequest struct {
	ParticipantPaths []string
}

type ResolveResult struct {
	Participants []string
	Resolution   types.Resolution
}

type InspectRequest struct {
	OutputDir string
	// ManifestURL, when set, is loaded through the federation runtime and
	// every remote entry is fetched.
	ManifestURL string
}

type InspectParticipant struct {
	Name       string
	Version    string
	Exposes    []string
	Shared     []string
	Remotes    []string
	Imports    int
	Scopes     int
	Findings   int
	HasEntry   bool
	HasImports bool
}

type InspectResult struct {
	Participants []InspectParticipant
	Runtime      *types.FederationStatus
}

type ServeRequest struct {
	Dir              string
	Addr             string
	Dev              bool
	ParticipantPaths []string
	HeartbeatSec     int
	DebounceMs       int
}

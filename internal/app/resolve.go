package app

import (
	"context"
)

// Resolve runs shared dependency resolution without bundling. Shared URLs
// are the ones a passthrough build would serve.
func (s Service) Resolve(ctx context.Context, req ResolveRequest) (ResolveResult, error) {
	participants, err := s.loadParticipants(req.ParticipantPaths)
	if err != nil {
		return ResolveResult{}, err
	}
	names := make([]string, 0, len(participants))
	for i := range participants {
		plannedURLs(&participants[i])
		names = append(names, participants[i].Name)
	}
	resolution, err := s.Resolver.Resolve(ctx, participants)
	if err != nil {
		return ResolveResult{}, err
	}
	return ResolveResult{Participants: names, Resolution: resolution}, nil
}

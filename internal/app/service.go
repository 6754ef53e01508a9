package app

import (
	"time"

	"esm-federation/internal/adapters"
	"esm-federation/internal/core"
	"esm-federation/internal/ports"
)

type Service struct {
	Participants ports.ParticipantSourcePort
	Bundler      ports.BundlerPort
	Reader       ports.ArtifactReaderPort
	NewWriter    func(dir string) ports.ArtifactWriterPort
	Fetcher      ports.FetchPort
	Evaluator    ports.ModuleEvaluatorPort
	Resolver     core.SharedResolver
	Generator    core.Generator
	Clock        func() time.Time
}

func NewService() Service {
	fetcher := adapters.NewHTTPFetchAdapter(0, 0, 0)
	return Service{
		Participants: adapters.NewParticipantFileAdapter(),
		Bundler:      adapters.NewPassthroughBundler(),
		Reader:       adapters.NewArtifactReaderAdapter(),
		NewWriter: func(dir string) ports.ArtifactWriterPort {
			return adapters.NewArtifactFileAdapter(dir)
		},
		Fetcher:   fetcher,
		Evaluator: adapters.NewHTTPModuleEvaluator(fetcher),
		Resolver:  core.NewSharedResolver(),
		Generator: core.NewGenerator(),
		Clock:     time.Now,
	}
}

package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"esm-federation/internal/app"
)

type buildOptions struct {
	Participants []string
	OutputDir    string
	Concurrency  int
}

func newBuildCommand() *cobra.Command {
	opts := buildOptions{}
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Bundle participants and emit federation artifacts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBuild(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Participants, "participant", nil, "Participant declaration files")
	cmd.Flags().StringVar(&opts.OutputDir, "output", "out", "Output directory")
	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", 4, "Participants bundled in parallel")

	_ = viper.BindPFlag("participants", cmd.Flags().Lookup("participant"))
	_ = viper.BindPFlag("output", cmd.Flags().Lookup("output"))
	_ = viper.BindPFlag("concurrency", cmd.Flags().Lookup("concurrency"))

	return cmd
}

func runBuild(ctx context.Context, cmd *cobra.Command, opts buildOptions) error {
	service := newAppService()
	result, err := service.Build(ctx, app.BuildRequest{
		ParticipantPaths: resolveStrings(cmd, opts.Participants, "participants", "participant"),
		OutputDir:        resolveString(cmd, opts.OutputDir, "output", "output"),
		Concurrency:      resolveInt(cmd, opts.Concurrency, "concurrency", "concurrency"),
	})
	if err != nil {
		return err
	}
	for _, participant := range result.Participants {
		fmt.Printf("%s (%s): %d files -> %s\n", participant.Name, participant.Role, participant.Files, participant.Dir)
	}
	for _, finding := range result.Resolution.Errors {
		fmt.Printf("warning: %s\n", formatFinding(finding))
	}
	fmt.Printf("built %d participants into %s\n", len(result.Participants), result.OutputDir)
	return nil
}

package cli

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"esm-federation/internal/app"
)

type serveOptions struct {
	Dir          string
	Addr         string
	Dev          bool
	Participants []string
	HeartbeatSec int
	DebounceMs   int
}

func newServeCommand() *cobra.Command {
	opts := serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve federation artifacts and build notifications",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Dir, "dir", "out", "Artifact directory to serve")
	cmd.Flags().StringVar(&opts.Addr, "addr", ":8080", "Listen address")
	cmd.Flags().BoolVar(&opts.Dev, "dev", false, "Rebuild on source changes and publish build events")
	cmd.Flags().StringSliceVar(&opts.Participants, "participant", nil, "Participant declaration files (dev mode)")
	cmd.Flags().IntVar(&opts.HeartbeatSec, "heartbeat", 15, "Build event heartbeat interval in seconds")
	cmd.Flags().IntVar(&opts.DebounceMs, "debounce-ms", 300, "Quiet period before a dev rebuild")

	_ = viper.BindPFlag("serve_dir", cmd.Flags().Lookup("dir"))
	_ = viper.BindPFlag("addr", cmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("dev", cmd.Flags().Lookup("dev"))
	_ = viper.BindPFlag("participants", cmd.Flags().Lookup("participant"))
	_ = viper.BindPFlag("heartbeat", cmd.Flags().Lookup("heartbeat"))
	_ = viper.BindPFlag("debounce_ms", cmd.Flags().Lookup("debounce-ms"))

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, opts serveOptions) error {
	service := newAppService()
	server, err := service.NewServer(app.ServeRequest{
		Dir:              resolveString(cmd, opts.Dir, "serve_dir", "dir"),
		Addr:             resolveString(cmd, opts.Addr, "addr", "addr"),
		Dev:              resolveBool(cmd, opts.Dev, "dev", "dev"),
		ParticipantPaths: resolveStrings(cmd, opts.Participants, "participants", "participant"),
		HeartbeatSec:     resolveInt(cmd, opts.HeartbeatSec, "heartbeat", "heartbeat"),
		DebounceMs:       resolveInt(cmd, opts.DebounceMs, "debounce_ms", "debounce-ms"),
	})
	if err != nil {
		return err
	}
	return server.Run(ctx)
}

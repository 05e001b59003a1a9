package main

import (
	"github.com/spf13/cobra"

	"github.com/chakssp/vcia-dhl-sub005/pkg/config"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var dir string
	var action string
	var preserve []string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Ingest record files as they are dropped into a directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			opts, err := batchOptions(cfg, action, preserve)
			if err != nil {
				return err
			}
			path, err := config.ExpandPath(dir)
			if err != nil {
				return err
			}
			return ctx.runWithApp(cmd, false, func(a *app) error {
				return newDropWatcher(a.svc, opts, a.log).run(cmd.Context(), path)
			})
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", "", "Drop directory to watch")
	cmd.Flags().StringVar(&action, "action", "", "Duplicate action: skip, update or merge (default from config)")
	cmd.Flags().StringSliceVar(&preserve, "preserve", nil, "Payload fields kept when updating a duplicate")
	_ = cmd.MarkFlagRequired("dir")
	return cmd
}

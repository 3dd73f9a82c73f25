package main

import (
	"fmt"

	"backend-bravely/internal/config"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newDiscardCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "discard",
		Short: "Delete the stored checkpoint without recording the session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.LoadWith(v)
			store, release, err := openStore(cmd.Context(), cfg)
			defer release()
			if err != nil {
				return err
			}

			snap, err := store.Load(cmd.Context())
			if err != nil {
				// A corrupt record is exactly what discard is for.
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
			}
			if err := store.Clear(cmd.Context()); err != nil {
				return err
			}
			if snap != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "discarded session %s\n", snap.ID)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "checkpoint cleared")
			return nil
		},
	}
}

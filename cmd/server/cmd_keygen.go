package main

import (
	"fmt"

	"github.com/glindsay/resume-assistant/internal/tokencipher"
	"github.com/spf13/cobra"
)

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Print a new random SESSION_KEY",
		Long:  `Generates a 32-byte key for the thread cookie cipher, hex encoded, suitable for SESSION_KEY.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := tokencipher.GenerateKeyHex()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), key)
			return err
		},
	}
}

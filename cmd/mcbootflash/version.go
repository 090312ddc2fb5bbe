package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// set at build time with -ldflags "-X main.versionString=..."
var (
	versionString = "0.0.0-git"
	commit        = ""
	date          = ""
)

func versionInfo() string {
	return fmt.Sprintf("mcbootflash Version: %s Commit: %s Date: %s", versionString, commit, date)
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Shows version number of mcbootflash.",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), versionInfo())
		},
	}
}

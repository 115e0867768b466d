// Copyright (c) 2025, the PixelStudio contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pixelstudio/pslicense/internal/buildinfo"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pslicense",
		Short: "PixelStudio license server and client agent",
	}

	rootCmd.AddCommand(RunServeCommand())
	rootCmd.AddCommand(RunGenerateConfigCommand())
	rootCmd.AddCommand(RunGenerateCommand())
	rootCmd.AddCommand(RunActivateCommand())
	rootCmd.AddCommand(RunValidateCommand())
	rootCmd.AddCommand(RunStatusCommand())
	rootCmd.AddCommand(RunDeactivateCommand())
	rootCmd.AddCommand(RunResetCommand())
	rootCmd.AddCommand(RunVersionCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// RunVersionCommand prints build information.
func RunVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Print(buildinfo.String())
		},
	}
}

package main

import "github.com/spf13/cobra"

var rootCmd = &cobra.Command{
	Use:          "backend",
	Short:        "Thumbnail upload API",
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

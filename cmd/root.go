package cmd

import (
	"fmt"
	"log"
	"os"

	"TuneSweep/server"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "tunesweep",
	Short: "TuneSweep finds and resolves duplicate tracks in a music library.",
	Run: func(cmd *cobra.Command, args []string) {
		log.Println("Starting TuneSweep server...")
		server.Start()
	},
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

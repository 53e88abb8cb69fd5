package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string

	rootCmd := &cobra.Command{
		Use:           "screenrec",
		Short:         "Record the screen with a webcam overlay and turn recordings into tutorials",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional .env file with configuration")

	rootCmd.AddCommand(newServeCmd(&envFile))
	rootCmd.AddCommand(newDoctorCmd(&envFile))

	return rootCmd
}

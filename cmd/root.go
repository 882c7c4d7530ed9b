package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/statq/statq/cmd/client"
	"github.com/statq/statq/cmd/serve"
)

const (
	Version = "0.3.0"
)

var (
	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "statq",
		Short: "remote dataset query service",
		Long: fmt.Sprintf(`statq (v%s)

A client/server application for running statistical queries against a
tabular dataset over TCP. The server loads the dataset and answers
authenticated query requests with result tables and rendered charts.`, Version),
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of statq",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("statq v%s\n", Version)
		},
	}
)

func init() {
	RootCmd.AddCommand(versionCmd)
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(client.ClientCmd)
}

// Execute runs the root command. Called once from main.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

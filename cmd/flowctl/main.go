// flowctl is a small CLI client for the flow manager's REST and websocket
// interfaces, for poking at a running server from the terminal.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	serverURL    string
	authToken    string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "flowctl",
	Short: "flowctl is a CLI client for the flow manager service",
	Long:  "Inspect flows, launch executions and watch live updates against a running flow manager server.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "base URL of the flow manager server")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", "", "bearer token for authenticated servers")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format: table or json")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

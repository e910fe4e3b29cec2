// LARS — The Last REST Service. An HTTP service with no handlers: every
// request is planned by a language model and executed as a bounded snippet
// against a per-session document store.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "lars",
	Short: "LARS — The Last REST Service.",
	Long: `LARS is an HTTP service whose behavior is planned per request by a
language model. Clients call any path with any method; a planning oracle
turns the request into a small validated snippet, which runs under strict
time and size bounds against the session's own document store. Each session
accumulates its own API, discoverable via /swagger.json.`,
	RunE:          runServe, // Default to serve mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haruyam15/meomok/internal/app"
)

var version = "dev"

func main() {
	_ = app.LoadDotEnv()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	apiURL string
	asJSON bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "nearby",
		Short:         "Browse restaurants near a point through the meomok API",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.apiURL, "api", defaultAPIURL(), "meomok API base URL (env MEOMOK_API_URL)")
	root.PersistentFlags().BoolVar(&opts.asJSON, "json", false, "print raw JSON instead of a table")

	root.AddCommand(newSearchCmd(opts), newIngestCmd(opts))
	return root
}

func defaultAPIURL() string {
	if value := strings.TrimSpace(os.Getenv("MEOMOK_API_URL")); value != "" {
		return value
	}
	return "http://localhost:8080"
}

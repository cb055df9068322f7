// Package commands implements the mfctl command line client.
package commands

import (
	"os"

	"github.com/JonMunkholm/moneyfest/internal/logging"
	"github.com/spf13/cobra"
)

// Environment defaults for the global flags.
const (
	envServer = "MONEYFEST_URL"
	envAPIKey = "MONEYFEST_API_KEY"

	defaultServer = "http://localhost:8080"
)

// globals holds flags shared by every subcommand.
type globals struct {
	server   string
	apiKey   string
	logLevel string
}

func (g *globals) client() *apiClient {
	return newAPIClient(g.server, g.apiKey)
}

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	g := &globals{}

	rootCmd := &cobra.Command{
		Use:   "mfctl",
		Short: "Inspect statements and manage a moneyfest server",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Logs go to stderr so command output can be piped.
			logging.SetupWriter(os.Stderr, g.logLevel, "text")
		},
	}

	server := os.Getenv(envServer)
	if server == "" {
		server = defaultServer
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&g.server, "server", server, "server base URL (env "+envServer+")")
	flags.StringVar(&g.apiKey, "api-key", os.Getenv(envAPIKey), "API key (env "+envAPIKey+")")
	flags.StringVar(&g.logLevel, "log-level", "warn", "log level: debug, info, warn, error")

	rootCmd.AddCommand(
		newInspectCommand(),
		newUploadCommand(g),
		newBatchesCommand(g),
		newExportCommand(g),
		newCategoriesCommand(g),
		newRulesCommand(g),
		newWatchCommand(g),
	)

	return rootCmd
}

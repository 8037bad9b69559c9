// Package commands defines all Cobra CLI commands for the ragvec binary.
package commands

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/54b3r/ragvec-go/internal/audit"
	"github.com/54b3r/ragvec-go/internal/config"
	"github.com/54b3r/ragvec-go/internal/logging"
)

// configPath holds the --config flag value for config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ragvec",
		Short: "ragvec: document chunking, embedding and similarity search",
		Long: `ragvec is the retrieval half of a retrieval-augmented-generation stack.

It splits documents into overlapping chunks, embeds every chunk, stores the
vectors with their text and metadata, and answers nearest-neighbour queries
against the stored chunks.

The embedding backend is selected with EMBEDDING_PROVIDER and the vector
store with VECTOR_STORE, either in the environment, a .env file, or a config
file (~/.ragvec/config.yaml or ~/.ragvec/config.toml).
See 'ragvec --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			bootLog := logging.New()

			// Load config (env vars always override file values).
			path, err := config.Load(configPath, bootLog)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// Rebuild now that LOG_LEVEL / LOG_FORMAT may come from the file.
			log := logging.New()
			slog.SetDefault(log)
			cmd.SetContext(logging.WithLogger(cmd.Context(), log))

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML or TOML config file (default: ~/.ragvec/config.yaml)")

	root.AddCommand(
		NewIngestCmd(),
		NewSearchCmd(),
		NewServeCmd(),
		NewVersionCmd(),
	)

	return root
}

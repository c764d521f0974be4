// Command whatt runs command bots against WhatsApp Web.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"whatt/internal/config"
	"whatt/internal/logging"
)

var (
	// Global flags
	configPath string
	verbose    bool

	// Loaded in PersistentPreRunE
	cfg    *config.Config
	logs   *logging.Set
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "whatt",
	Short: "whatt - command bots for WhatsApp Web",
	Long: `whatt watches the open conversation of a WhatsApp Web tab, hands every new
message to registered commands and listeners, and replies through the
page's own compose box.

Configuration is read from a YAML file (see "whatt config init"); WHATT_*
environment variables and a .env file next to the config override it.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env next to the config, then the working directory
		_ = godotenv.Load(filepath.Join(filepath.Dir(configPath), ".env"))
		_ = godotenv.Load(".env")

		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if verbose {
			loaded.Logging.DebugMode = true
		}
		cfg = loaded

		opts := cfg.Logging.Options()
		root, err := logging.New(opts)
		if err != nil {
			return err
		}
		logger = root
		logs = logging.NewSet(root, opts)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "whatt.yaml", "Path to the YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(seenCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Package cli implements the shiftcheck commands.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/yegors/shiftcheck/internal/config"
	"github.com/yegors/shiftcheck/pkg/logger"
)

// EnvConfig names the config file when --config is not given
const EnvConfig = "SHIFTCHECK_CONFIG"

var configPath string

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "shiftcheck",
	Short: "Voice-guided bar checklists and inventory counts",
	Long: "Walks staff through compliance checklists and stock counts by voice. " +
		"Answers are stored in SQLite; photos can be analyzed by a vision model.",
	SilenceUsage: true,
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: $SHIFTCHECK_CONFIG, else built-in defaults)")
}

func getConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return os.Getenv(EnvConfig)
}

func loadConfig() (*config.Config, error) {
	return config.Load(getConfigPath())
}

// newLogger builds the process logger writing to out
func newLogger(cfg *config.Config, out io.Writer) (*logger.Logger, error) {
	logCfg := cfg.Logging
	logCfg.Output = out
	return logger.New(logCfg)
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}

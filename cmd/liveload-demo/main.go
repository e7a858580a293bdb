// Command liveload-demo is a small host process for exercising a
// liveload.Loader from the command line. `serve` owns the actual Loader
// for the life of the process; `add`/`remove`/`status`/`watch` are thin
// clients that talk to a running `serve` over a Unix domain socket — a
// debugging companion, not the loader's programmatic surface (spec.md
// §6 is explicit that the loader itself has no CLI).
package main

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var (
	verbose    bool
	configPath string
	searchDirs []string
	socketPath string
)

var rootCmd = &cobra.Command{
	Use:   "liveload-demo",
	Short: "Exercise a liveload.Loader from the command line",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initLogging)
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a liveload-demo.yaml config file")
	rootCmd.PersistentFlags().StringArrayVar(&searchDirs, "search-dir", nil, "additional library search directory (repeatable)")
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", defaultSocketPath(), "Unix socket the serve daemon listens on")
}

func defaultSocketPath() string {
	return filepath.Join(os.TempDir(), "liveload-demo.sock")
}

func initLogging() {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}

package main

import (
	"log/slog"
	"time"

	"github.com/liveload/liveload/internal/demohost"
	"github.com/spf13/cobra"
)

var servePollInterval time.Duration

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the long-lived loader daemon other commands talk to",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		dirs := append(append([]string{}, cfg.SearchDirs...), searchDirs...)

		dl, err := demohost.New(dirs, cfg.Debounce)
		if err != nil {
			return err
		}
		defer func() { _ = dl.Close() }()

		for _, name := range args {
			if err := dl.AddLibrary(name); err != nil {
				slog.Warn("failed to load library", "name", name, "err", err)
			}
		}

		return runServe(socketPath, dl, servePollInterval)
	},
}

func init() {
	serveCmd.Flags().DurationVar(&servePollInterval, "poll", 500*time.Millisecond, "how often to poll the loader for reload events")
	rootCmd.AddCommand(serveCmd)
}

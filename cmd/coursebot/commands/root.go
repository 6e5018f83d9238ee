// Package commands holds the coursebot CLI.
package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"coursebot/internal/config"
	"coursebot/internal/logging"
)

// Version is set at build time with -ldflags "-X coursebot/cmd/coursebot/commands.Version=...".
var Version = "dev"

const configFlag = "config"

// NewRootCommand builds the coursebot command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "coursebot",
		Short:         "Grounded question answering over the course materials",
		SilenceUsage: true,
	}
	root.PersistentFlags().String(configFlag, "", "Path to YAML config file (uses ./coursebot.yaml or ~/.config/coursebot/config.yaml if not provided)")
	root.AddCommand(
		newServeCommand(),
		newIngestCommand(),
		newSearchCommand(),
		newAskCommand(),
		newVersionCommand(),
	)
	return root
}

func loadConfig(cmd *cobra.Command) (*config.AppConfig, error) {
	path, _ := cmd.Flags().GetString(configFlag)
	var (
		cfg *config.AppConfig
		err error
	)
	if path == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.AppConfig) (*zap.Logger, error) {
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("service", "coursebot")), nil
}

// serverURL turns a listen address such as ":8000" into a base URL a client can dial.
func serverURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	if strings.HasPrefix(addr, ":") {
		return "http://localhost" + addr
	}
	return "http://" + addr
}

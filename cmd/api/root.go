package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/capitalize-ai/support-desk/internal/config"
	"github.com/capitalize-ai/support-desk/pkg/logger"
)

type globals struct {
	envFiles []string
	dev      bool
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	cmd := &cobra.Command{
		Use:           "support-desk",
		Short:         "Multi-tenant customer support chat backend",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringSliceVar(&g.envFiles, "env-file", []string{".env", ".env.local"}, "Env files loaded before reading the environment")
	cmd.PersistentFlags().BoolVar(&g.dev, "dev", false, "Human readable console logs")

	cmd.AddCommand(newServeCmd(g))
	cmd.AddCommand(newMigrateCmd(g))
	return cmd
}

// setup loads configuration and builds the logger shared by every command.
func (g *globals) setup() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(g.envFiles...)
	if err != nil {
		return nil, nil, err
	}
	var log *logger.Logger
	if g.dev {
		log, err = logger.NewDevelopment()
	} else {
		log, err = logger.New(cfg.LogLevel)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}
	return cfg, log, nil
}

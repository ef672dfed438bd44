package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arnavshah/relief-dispatch-go/pkg/config"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "relief-dispatch",
	Short:         "Relief request matching and assignment service",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(*cobra.Command, []string) {
		config.LoadDotEnv()
	},
	RunE: serve,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "configuration file (yaml or json)")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

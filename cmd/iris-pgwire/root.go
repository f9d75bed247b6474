package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var configPath string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "iris-pgwire",
		Short: "PostgreSQL wire-protocol front end for an InterSystems IRIS backend",
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file (optional; defaults + env still apply)")
	cmd.AddCommand(newServeCmd())
	return cmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "start the PostgreSQL wire-protocol listener",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return fmt.Errorf("iris-pgwire: %w", err)
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"io"

	"github.com/AleutianAI/stackup/cmd/stackup/config"
	"github.com/AleutianAI/stackup/pkg/ux"
	"github.com/spf13/cobra"
)

// cliOptions holds the parsed flags of one invocation.
type cliOptions struct {
	configPath string
	stop       bool
	verbose    bool

	stdout io.Writer
	stderr io.Writer
}

// execute runs the CLI and returns the process exit code.
//
// # Outputs
//
//   - int: 0 on success, 1 on any fatal failure
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(&cliOptions{stdout: stdout, stderr: stderr})
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		ux.NewPrinter(stderr).Error(err.Error())
		return 1
	}
	return 0
}

func newRootCmd(opts *cliOptions) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "stackup",
		Short: "Start or stop the local AI service stack",
		Long: `stackup brings up the full service stack in one step: it prepares
host directories, fetches and starts the Supabase dependency stack,
adjusts the SearXNG first-run security settings, starts the main stack
and reports service health.

stackup --stop tears down the umbrella compose project only. A
dependency stack configured with its own compose project keeps running
and must be stopped separately.`,
		Args:          cobra.NoArgs,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStack(cmd.Context(), opts)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", config.DefaultPath,
		"Path to stackup.yaml (defaults are used when the file does not exist)")
	rootCmd.PersistentFlags().BoolVar(&opts.verbose, "verbose", false, "Enable debug logging")
	rootCmd.Flags().BoolVarP(&opts.stop, "stop", "s", false, "Tear down the stack instead of starting it")

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the stackup configuration",
	}
	configShowCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			data, err := config.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	configInitCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration to --config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteDefault(opts.configPath); err != nil {
				return err
			}
			ux.NewPrinter(cmd.OutOrStdout()).Success(fmt.Sprintf("Wrote %s", opts.configPath))
			return nil
		},
	}
	configCmd.AddCommand(configShowCmd, configInitCmd)
	rootCmd.AddCommand(configCmd)

	return rootCmd
}

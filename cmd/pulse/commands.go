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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/Pulse/pkg/config"
	"github.com/AleutianAI/Pulse/pkg/logging"
	"github.com/AleutianAI/Pulse/services/analysis"
	"github.com/AleutianAI/Pulse/services/gamification"
	"github.com/AleutianAI/Pulse/services/llm"
	"github.com/AleutianAI/Pulse/services/orchestrator"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

// cliState is shared by every subcommand of one root.
type cliState struct {
	configPath string
	verbose    bool
	cfg        config.Config
	logger     *logging.Logger
}

func newRootCmd() *cobra.Command {
	st := &cliState{}

	root := &cobra.Command{
		Use:          "pulse",
		Short:        "Feedback analysis, assistant chat, and level math for Pulse",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return st.load(cmd.Name() != "serve")
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if st.logger != nil {
				_ = st.logger.Close()
			}
		},
	}
	root.PersistentFlags().StringVarP(&st.configPath, "config", "c", "", "path to a YAML config file")
	root.PersistentFlags().BoolVarP(&st.verbose, "verbose", "v", false, "log at debug level")

	root.AddCommand(
		newServeCmd(st),
		newAnalyzeCmd(st),
		newChatCmd(st),
		newLevelCmd(st),
		newVersionCmd(),
	)
	return root
}

// load reads the config and builds the logger. One-shot commands keep
// stderr quiet unless --verbose is set so their stdout stays parseable.
func (st *cliState) load(oneShot bool) error {
	cfg, err := config.Load(st.configPath)
	if err != nil {
		return err
	}
	st.cfg = cfg

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	if st.verbose {
		level = logging.LevelDebug
	}
	st.logger = logging.New(logging.Config{
		Level:   level,
		Format:  logging.Format(cfg.Log.Format),
		LogDir:  cfg.Log.Dir,
		Service: "pulse",
		Quiet:   oneShot && !st.verbose,
	})
	slog.SetDefault(st.logger.Slog())
	return nil
}

func (st *cliState) gateway() (*analysis.Gateway, error) {
	return analysis.New(analysis.Options{
		Clients:      llm.ConfiguredClients(st.cfg, st.logger.Slog()),
		Retry:        analysis.RetryPolicy{MaxRetries: st.cfg.Retry.MaxRetries, BaseDelay: st.cfg.Retry.BaseDelay},
		MinChars:     st.cfg.Analysis.MinChars,
		HistoryTurns: st.cfg.Chat.HistoryTurns,
		Logger:       st.logger.Slog(),
	})
}

// =============================================================================
// Commands
// =============================================================================

func newServeCmd(st *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			svc, err := orchestrator.New(st.cfg, &orchestrator.Options{Logger: st.logger.Slog()})
			if err != nil {
				return err
			}
			defer svc.Close()
			return svc.Run(ctx)
		},
	}
}

func newAnalyzeCmd(st *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <text>",
		Short: "Analyze one feedback text and print the result as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, err := st.gateway()
			if err != nil {
				return err
			}
			text := strings.Join(args, " ")
			if st.cfg.Analysis.MaxChars > 0 {
				text = analysis.TruncateRunes(text, st.cfg.Analysis.MaxChars)
			}
			result, err := gw.Analyze(cmd.Context(), text)
			if errors.Is(err, analysis.ErrInputTooShort) {
				return writeJSON(cmd.OutOrStdout(), map[string]bool{"skipped": true})
			}
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), result)
		},
	}
}

func newChatCmd(st *cliState) *cobra.Command {
	var user analysis.UserContext
	var withUser bool

	cmd := &cobra.Command{
		Use:   "chat <message>",
		Short: "Ask the assistant one question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, err := st.gateway()
			if err != nil {
				return err
			}
			req := analysis.ChatRequest{Message: strings.Join(args, " ")}
			if withUser {
				req.User = &user
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), gw.Chat(cmd.Context(), req))
			return err
		},
	}
	cmd.Flags().StringVar(&user.Role, "role", "", "user role given to the assistant")
	cmd.Flags().IntVar(&user.Level, "level", 0, "user level given to the assistant")
	cmd.Flags().IntVar(&user.Points, "points", 0, "user points given to the assistant")
	cmd.Flags().IntVar(&user.FeedbackCount, "feedback-count", 0, "feedback entries given to the assistant")
	cmd.PreRun = func(cmd *cobra.Command, _ []string) {
		for _, name := range []string{"role", "level", "points", "feedback-count"} {
			if cmd.Flags().Changed(name) {
				withUser = true
			}
		}
	}
	return cmd
}

func newLevelCmd(st *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "level <xp>",
		Short: "Print level progress for an XP total",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			xp, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return fmt.Errorf("invalid xp %q: %w", args[0], err)
			}
			curve := gamification.LevelCurve{
				BasePerLevel: st.cfg.Levels.BasePerLevel,
				Multiplier:   st.cfg.Levels.Multiplier,
			}
			return writeJSON(cmd.OutOrStdout(), curve.Progress(xp))
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "pulse", version)
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

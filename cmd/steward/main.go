// Package main provides the steward CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"steward/cli"
)

var (
	// Global flags
	provider    string
	maxIter     int
	autoApprove bool
	dbPath      string
	verbose     bool
)

func main() {
	// Load .env file if present (ignore "file not found" errors)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load .env file: %v\n", err)
		}
	}

	rootCmd := &cobra.Command{
		Use:   "steward",
		Short: "An autonomous coding agent with checkpointed sessions",
		Long: `Steward runs a goal-directed agent loop over a local workspace.

The agent plans with an LLM, executes tools (shell, file edits, search)
under an approval policy, and checkpoints after every step so interrupted
runs can resume exactly where they stopped.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cli.SetupLogging(verbose)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&provider, "provider", "p", "", "LLM provider (openai, anthropic, deepseek, gemini)")
	rootCmd.PersistentFlags().IntVarP(&maxIter, "max-iter", "m", 0, "Maximum loop iterations (0 = configured default)")
	rootCmd.PersistentFlags().BoolVarP(&autoApprove, "yes", "y", false, "Auto-approve all tool calls (sandboxed runs only)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database for session checkpoints")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show state transitions and checkpoints")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(resumeCmd())
	rootCmd.AddCommand(sessionsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func options() cli.Options {
	return cli.Options{
		Provider:    provider,
		MaxIter:     maxIter,
		AutoApprove: autoApprove,
		DBPath:      dbPath,
		Verbose:     verbose,
	}
}

// signalContext cancels on Ctrl-C so the loop stops at the next state
// boundary with a final checkpoint.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run [goal]",
		Short: "Execute a goal to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			return cli.Run(ctx, args[0], options())
		},
	}
}

func resumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume [session-id]",
		Short: "Resume a checkpointed session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			return cli.Resume(ctx, args[0], options())
		},
	}
}

func sessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List stored sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Sessions(cmd.Context(), options())
		},
	}
}

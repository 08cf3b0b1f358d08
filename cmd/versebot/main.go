package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"versebot/internal/app"
	"versebot/internal/catalog"
	"versebot/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:          "versebot",
		Short:        "Broadcast verses to Telegram chats",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cfgPath)
		},
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./config.json", "path to config (json or yaml)")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run the bot (default)",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return run(cmd.Context(), cfgPath)
			},
		},
		&cobra.Command{
			Use:   "check",
			Short: "Print the self-check report without connecting to Telegram",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				r, err := app.Check(cfgPath)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), r.Render())
				if !r.OK() {
					return errors.New("self-check found problems")
				}
				return nil
			},
		},
		newInitCmd(&cfgPath),
	)
	return root
}

func newInitCmd(cfgPath *string) *cobra.Command {
	var langDir string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config and the sample language catalogs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			switch err := config.WriteDefault(*cfgPath); {
			case errors.Is(err, config.ErrExists):
				fmt.Fprintf(out, "config %s exists, kept\n", *cfgPath)
			case err != nil:
				return err
			default:
				fmt.Fprintf(out, "wrote %s\n", *cfgPath)
			}

			dir := langDir
			if dir == "" {
				dir = config.Default().Catalog.Dir
			}
			wrote, err := catalog.Generate(dir)
			if err != nil {
				return err
			}
			for _, p := range wrote {
				fmt.Fprintf(out, "wrote %s\n", p)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&langDir, "languages", "", "language catalog directory (default: catalog.dir of the default config)")
	return cmd
}

func run(ctx context.Context, cfgPath string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := app.New(cfgPath)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := a.Start(runCtx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	reason := app.StopAppStop
	select {
	case s := <-sigs:
		reason = app.StopSIGINT
		if s == syscall.SIGTERM {
			reason = app.StopSIGTERM
		}
	case <-a.Done():
		if a.Err() != nil {
			reason = app.StopFatalError
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)
	return a.Err()
}

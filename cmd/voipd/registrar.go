package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"commhub/internal/sip"

	"github.com/samber/do/v2"
	"github.com/spf13/cobra"
)

var errRegistrarCommand = errors.New("registrar command failed")

// registrarCmd controls the local registrar without going through the API.
func registrarCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registrar",
		Short: "Control the SIP registrar process",
	}
	cmd.AddCommand(
		registrarAction("start", "Start the registrar", func(ctx context.Context, g sip.Gateway, w io.Writer) error {
			if !g.Start(ctx) {
				return errRegistrarCommand
			}
			return writeJSON(w, map[string]string{"status": "started"})
		}),
		registrarAction("stop", "Stop the registrar", func(ctx context.Context, g sip.Gateway, w io.Writer) error {
			if !g.Stop(ctx) {
				return errRegistrarCommand
			}
			return writeJSON(w, map[string]string{"status": "stopped"})
		}),
		registrarAction("status", "Print registrar status", func(ctx context.Context, g sip.Gateway, w io.Writer) error {
			st, _ := g.Status(ctx)
			return writeJSON(w, st)
		}),
		registrarAction("calls", "List dialogs active on the registrar", func(ctx context.Context, g sip.Gateway, w io.Writer) error {
			dialogs, err := g.ActiveCalls(ctx)
			if err != nil {
				return err
			}
			return writeJSON(w, map[string]any{"calls": dialogs, "count": len(dialogs)})
		}),
	)
	return cmd
}

func registrarAction(use, short string, run func(context.Context, sip.Gateway, io.Writer) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return fmt.Errorf("config load failed: %w", err)
			}
			c := setupDI(cmd.Context(), cfg, log)
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				c.Close(ctx, log)
			}()

			g, err := do.Invoke[sip.Gateway](c.Injector)
			if err != nil {
				return err
			}
			return run(cmd.Context(), g, cmd.OutOrStdout())
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

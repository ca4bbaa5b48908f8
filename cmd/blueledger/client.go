package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"BlueLedger/internal/server"

	"github.com/spf13/cobra"
)

// newClientCmds returns commands that talk to a running ledger over gRPC.
func newClientCmds() []*cobra.Command {
	var (
		addr    string
		timeout time.Duration
	)
	withClient := func(fn func(ctx context.Context, cmd *cobra.Command, client *server.Client, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			client, err := server.Dial(addr)
			if err != nil {
				return err
			}
			defer client.Close()
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return fn(ctx, cmd, client, args)
		}
	}

	submit := &cobra.Command{
		Use:   "submit <command_type> [payload.json|-]",
		Short: "Submit one JSON command and print its records",
		Args:  cobra.RangeArgs(1, 2),
		RunE: withClient(func(ctx context.Context, cmd *cobra.Command, client *server.Client, args []string) error {
			var (
				payload []byte
				err     error
			)
			if len(args) < 2 || args[1] == "-" {
				payload, err = io.ReadAll(cmd.InOrStdin())
			} else {
				payload, err = os.ReadFile(args[1])
			}
			if err != nil {
				return fmt.Errorf("read payload: %w", err)
			}
			resp, err := client.Submit(ctx, args[0], json.RawMessage(payload))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		}),
	}

	market := &cobra.Command{
		Use:   "market <market_id>",
		Short: "Print a market with interest accrued to now",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(func(ctx context.Context, cmd *cobra.Command, client *server.Client, args []string) error {
			resp, err := client.GetMarket(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		}),
	}

	health := &cobra.Command{
		Use:   "health <market_id> <user>",
		Short: "Print a borrower's health factor",
		Args:  cobra.ExactArgs(2),
		RunE: withClient(func(ctx context.Context, cmd *cobra.Command, client *server.Client, args []string) error {
			resp, err := client.GetHealth(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		}),
	}

	verify := &cobra.Command{
		Use:   "verify",
		Short: "Check the persisted hash chain and per-asset balance totals",
		Args:  cobra.NoArgs,
		RunE: withClient(func(ctx context.Context, cmd *cobra.Command, client *server.Client, _ []string) error {
			report, err := client.VerifyIntegrity(ctx)
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if !report.IsHealthy {
				return fmt.Errorf("integrity check failed")
			}
			return nil
		}),
	}

	cmds := []*cobra.Command{submit, market, health, verify}
	for _, c := range cmds {
		c.Flags().StringVar(&addr, "addr", "localhost:9090", "ledger gRPC address")
		c.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")
	}
	return cmds
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

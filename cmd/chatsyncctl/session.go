package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/spf13/cobra"
)

var (
	envBackground string
	envOffline    string
	watchPrefix   string
)

func init() {
	rootCmd.AddCommand(statusCmd, syncCmd, envCmd, watchCmd)

	envCmd.Flags().StringVar(&envBackground, "background", "", "set background mode (on|off)")
	envCmd.Flags().StringVar(&envOffline, "offline", "", "set offline mode (on|off)")
	syncCmd.Flags().Bool("now", false, "poll the backend before reporting")
	watchCmd.Flags().StringVar(&watchPrefix, "prefix", "", "only stream events whose kind starts with prefix")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show session status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *api.Client) error {
			resp, err := c.Status(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				return outputJSON(resp)
			}
			fmt.Printf("Session: %s\n", resp.Session)
			fmt.Printf("User:    %s\n", resp.UserID)
			fmt.Printf("Status:  %s\n", resp.Status)
			fmt.Printf("Uptime:  %s\n", (time.Duration(resp.UptimeMs) * time.Millisecond).Round(time.Second))
			fmt.Printf("Chats:   %d\n", resp.ChatCount)
			fmt.Printf("Env:     background=%v offline=%v\n", resp.Background, resp.Offline)
			return nil
		})
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Show sync status, or force a get-updates round with --now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		now, _ := cmd.Flags().GetBool("now")
		return withClient(func(ctx context.Context, c *api.Client) error {
			if now {
				if err := c.Refresh(ctx); err != nil {
					return err
				}
			}
			resp, err := c.SyncStatus(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				return outputJSON(resp)
			}
			fmt.Printf("Status:      %s\n", resp.Status)
			fmt.Printf("Busy:        %v\n", resp.Busy)
			fmt.Printf("Last synced: %s\n", formatUnixMs(resp.LastSyncedUnixMs))
			fmt.Printf("Pending:     %d\n", resp.Pending)
			for _, mctx := range resp.Contexts {
				fmt.Printf("  open %s\n", mctx)
			}
			return nil
		})
	},
}

func parseSwitch(name, v string) (*bool, error) {
	switch v {
	case "":
		return nil, nil
	case "on", "true":
		b := true
		return &b, nil
	case "off", "false":
		b := false
		return &b, nil
	}
	return nil, fmt.Errorf("--%s: want on or off, got %q", name, v)
}

var envCmd = &cobra.Command{
	Use:   "env",
	Short: "Show or change the daemon's background and offline modes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		bg, err := parseSwitch("background", envBackground)
		if err != nil {
			return err
		}
		off, err := parseSwitch("offline", envOffline)
		if err != nil {
			return err
		}
		return withClient(func(ctx context.Context, c *api.Client) error {
			resp, err := c.SetEnv(ctx, &api.EnvRequest{Background: bg, Offline: off})
			if err != nil {
				return err
			}
			if jsonOutput {
				return outputJSON(resp)
			}
			fmt.Printf("background=%v offline=%v\n", resp.Background, resp.Offline)
			return nil
		})
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream daemon events until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := connect()
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		stream, err := c.Watch(ctx, watchPrefix)
		if err != nil {
			return err
		}
		for {
			evt, err := stream.Recv()
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			if err != nil {
				return err
			}
			if jsonOutput {
				if err := outputJSON(evt); err != nil {
					return err
				}
				continue
			}
			fmt.Printf("%s %-28s %v\n", formatUnixMs(evt.OccurredAtUnixMs), evt.Kind, evt.Payload)
		}
	},
}

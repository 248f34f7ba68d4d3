package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/send"
	"github.com/spf13/cobra"
)

var (
	acceptRules bool
	pin         string
)

func init() {
	rootCmd.AddCommand(sendCmd, transferCmd, retryCmd, failedCmd, sendStatusCmd, editCmd, deleteCmd, undeleteCmd, reactCmd)

	for _, cmd := range []*cobra.Command{sendCmd, transferCmd, retryCmd} {
		cmd.Flags().BoolVar(&acceptRules, "accept-rules", false, "accept the chat rules if the send asks for it")
		cmd.Flags().StringVar(&pin, "pin", "", "PIN for transfers")
	}
}

var sendCmd = &cobra.Command{
	Use:   "send <context> <text...>",
	Short: "Send a text message",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := &api.SendTextRequest{
			Context:     args[0],
			Text:        strings.Join(args[1:], " "),
			AcceptRules: acceptRules,
			PIN:         pin,
		}
		return withClient(func(ctx context.Context, c *api.Client) error {
			resp, err := c.SendText(ctx, req)
			if err != nil {
				return err
			}
			return printSend(resp)
		})
	},
}

var transferCmd = &cobra.Command{
	Use:   "transfer <context> <recipient> <amount> <token>",
	Short: "Send a value transfer",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := strconv.ParseUint(args[2], 10, 64)
		if err != nil {
			return fmt.Errorf("amount: %w", err)
		}
		req := &api.SendTransferRequest{
			Context:     args[0],
			Recipient:   args[1],
			Amount:      amount,
			Token:       args[3],
			AcceptRules: acceptRules,
			PIN:         pin,
		}
		return withClient(func(ctx context.Context, c *api.Client) error {
			resp, err := c.SendTransfer(ctx, req)
			if err != nil {
				return err
			}
			return printSend(resp)
		})
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry <message-id>",
	Short: "Retry a failed send",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := &api.RetryRequest{MessageID: args[0], AcceptRules: acceptRules, PIN: pin}
		return withClient(func(ctx context.Context, c *api.Client) error {
			resp, err := c.RetrySend(ctx, req)
			if err != nil {
				return err
			}
			return printSend(resp)
		})
	},
}

func printSend(resp *api.SendResponse) error {
	if jsonOutput {
		return outputJSON(resp)
	}
	switch resp.Outcome {
	case string(send.Sent):
		fmt.Printf("Sent %s at message index %d\n", resp.MessageID, resp.MessageIndex)
	case string(send.Throttled):
		fmt.Printf("Throttled, try again after %s\n", formatUnixMs(resp.RetryAtUnixMs))
	default:
		fmt.Printf("%s %s", resp.Outcome, resp.MessageID)
		if resp.Reason != "" {
			fmt.Printf(" (%s)", resp.Reason)
		}
		if resp.Error != "" {
			fmt.Printf(": %s", resp.Error)
		}
		fmt.Println()
	}
	return nil
}

var failedCmd = &cobra.Command{
	Use:   "failed <context>",
	Short: "List failed sends that can be retried",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *api.Client) error {
			resp, err := c.ListFailed(ctx, args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return outputJSON(resp)
			}
			for _, m := range resp.Messages {
				fmt.Printf("%s  %s  %-12s %s\n", m.MessageID, formatUnixMs(m.FailedAtUnixMs), m.Reason, m.Text)
			}
			return nil
		})
	},
}

var sendStatusCmd = &cobra.Command{
	Use:   "send-status <context> <message-id>",
	Short: "Show where a message is in the send pipeline",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *api.Client) error {
			resp, err := c.SendStatus(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			if jsonOutput {
				return outputJSON(resp)
			}
			fmt.Println(resp.State)
			return nil
		})
	},
}

var editCmd = &cobra.Command{
	Use:   "edit <context> <message-id> <text...>",
	Short: "Edit a message",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *api.Client) error {
			return c.Edit(ctx, args[0], args[1], strings.Join(args[2:], " "))
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <context> <message-id>",
	Short: "Delete a message",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *api.Client) error {
			return c.Delete(ctx, args[0], args[1], false)
		})
	},
}

var undeleteCmd = &cobra.Command{
	Use:   "undelete <context> <message-id>",
	Short: "Restore a deleted message",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *api.Client) error {
			return c.Delete(ctx, args[0], args[1], true)
		})
	},
}

var reactCmd = &cobra.Command{
	Use:   "react <context> <message-id> <emoji>",
	Short: "Toggle your reaction on a message",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *api.Client) error {
			resp, err := c.React(ctx, args[0], args[1], args[2])
			if err != nil {
				return err
			}
			if jsonOutput {
				return outputJSON(resp)
			}
			if resp.Added {
				fmt.Printf("Added %s\n", args[2])
			} else {
				fmt.Printf("Removed %s\n", args[2])
			}
			return nil
		})
	},
}

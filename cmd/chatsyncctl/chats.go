package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/spf13/cobra"
)

var (
	timelineLimit int
	timelineOpen  bool
	unreadAll     bool
)

func init() {
	rootCmd.AddCommand(unreadCmd, timelineCmd, openCmd, closeCmd, olderCmd,
		muteCmd, unmuteCmd, archiveCmd, pinCmd, typingCmd, readCmd, receiptsCmd)

	timelineCmd.Flags().IntVarP(&timelineLimit, "limit", "n", 20, "newest items to show (0 for all)")
	timelineCmd.Flags().BoolVar(&timelineOpen, "open", true, "open the context first so the timeline is loaded")
	unreadCmd.Flags().BoolVarP(&unreadAll, "all", "a", false, "include chats with nothing unread")
	archiveCmd.Flags().Bool("undo", false, "unarchive")
	pinCmd.Flags().Bool("undo", false, "unpin")
	typingCmd.Flags().Bool("stop", false, "clear the typing hint")
}

var unreadCmd = &cobra.Command{
	Use:   "unread",
	Short: "List chats with unread messages",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *api.Client) error {
			resp, err := c.ListChats(ctx, "")
			if err != nil {
				return err
			}
			var chats []api.ChatSummary
			for _, s := range resp.Chats {
				if unreadAll || s.Unread > 0 {
					chats = append(chats, s)
				}
			}
			if jsonOutput {
				return outputJSON(chats)
			}
			if len(chats) == 0 {
				fmt.Println("Nothing unread.")
				return nil
			}
			for _, s := range chats {
				fmt.Printf("%-24s %4d  %s%s\n", s.Chat, s.Unread, flags(s), s.LatestMessage)
			}
			return nil
		})
	},
}

func flags(s api.ChatSummary) string {
	var out []string
	if s.Muted {
		out = append(out, "muted")
	}
	if s.Pinned {
		out = append(out, "pinned")
	}
	if s.Archived {
		out = append(out, "archived")
	}
	if s.Frozen {
		out = append(out, "frozen")
	}
	if s.RulesPending {
		out = append(out, "rules")
	}
	if len(out) == 0 {
		return ""
	}
	return "[" + strings.Join(out, ",") + "] "
}

var timelineCmd = &cobra.Command{
	Use:   "timeline <context>",
	Short: "Print the merged timeline of a chat or thread (kind:id or kind:id/root)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *api.Client) error {
			if timelineOpen {
				if err := c.OpenContext(ctx, args[0]); err != nil {
					return err
				}
			}
			resp, err := c.Timeline(ctx, args[0], timelineLimit)
			if err != nil {
				return err
			}
			if jsonOutput {
				return outputJSON(resp)
			}
			for _, it := range resp.Items {
				fmt.Println(formatItem(it))
			}
			if len(resp.Typing) > 0 {
				fmt.Printf("  %s typing...\n", strings.Join(resp.Typing, ", "))
			}
			return nil
		})
	},
}

func formatItem(it api.TimelineItem) string {
	when := formatUnixMs(it.Timestamp)
	if it.MessageID == "" {
		return fmt.Sprintf("%5d %s  -- %s %s", it.Index, when, it.Kind, it.Detail)
	}
	body := ""
	if it.Content != nil {
		body = it.Content.Text
		if it.Content.Transfer != nil {
			t := it.Content.Transfer
			body = fmt.Sprintf("[transfer %d %s to %s]", t.Amount, t.Token, t.Recipient)
		}
	}
	if it.Deleted {
		body = "(deleted)"
	}
	var marks []string
	if it.State != api.ItemConfirmed {
		marks = append(marks, it.State)
	}
	if it.Edited {
		marks = append(marks, "edited")
	}
	for _, r := range it.Reactions {
		marks = append(marks, r.Emoji+"x"+strconv.Itoa(len(r.Users)))
	}
	suffix := ""
	if len(marks) > 0 {
		suffix = "  (" + strings.Join(marks, " ") + ")"
	}
	return fmt.Sprintf("%5d %s  <%s> %s%s  [%s]", it.Index, when, it.Sender, body, suffix, it.MessageID)
}

var openCmd = &cobra.Command{
	Use:   "open <context>",
	Short: "Keep a context polled by the daemon",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *api.Client) error {
			return c.OpenContext(ctx, args[0])
		})
	},
}

var closeCmd = &cobra.Command{
	Use:   "close <context>",
	Short: "Stop polling a context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *api.Client) error {
			return c.CloseContext(ctx, args[0])
		})
	},
}

var olderCmd = &cobra.Command{
	Use:   "older <context>",
	Short: "Load the page before the oldest resident event",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *api.Client) error {
			return c.LoadPrevious(ctx, args[0])
		})
	},
}

func settingsCmd(use, short string, apply func(req *api.SettingsRequest, v bool), undoFlag bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <chat>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v := true
			if undoFlag {
				undo, _ := cmd.Flags().GetBool("undo")
				v = !undo
			}
			req := &api.SettingsRequest{Chat: args[0]}
			apply(req, v)
			return withClient(func(ctx context.Context, c *api.Client) error {
				return c.UpdateSettings(ctx, req)
			})
		},
	}
}

var (
	muteCmd    = settingsCmd("mute", "Mute a chat", func(r *api.SettingsRequest, v bool) { r.Muted = &v }, false)
	unmuteCmd  = settingsCmd("unmute", "Unmute a chat", func(r *api.SettingsRequest, _ bool) { r.Muted = new(false) }, false)
	archiveCmd = settingsCmd("archive", "Archive a chat", func(r *api.SettingsRequest, v bool) { r.Archived = &v }, true)
	pinCmd     = settingsCmd("pin", "Pin a chat", func(r *api.SettingsRequest, v bool) { r.Pinned = &v }, true)
)

var typingCmd = &cobra.Command{
	Use:   "typing <context>",
	Short: "Broadcast a typing hint to peers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		stop, _ := cmd.Flags().GetBool("stop")
		return withClient(func(ctx context.Context, c *api.Client) error {
			return c.SetTyping(ctx, args[0], !stop)
		})
	},
}

var readCmd = &cobra.Command{
	Use:   "read <chat> <message-index>",
	Short: "Mark a chat read up to a message index",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		idx, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("message index: %w", err)
		}
		return withClient(func(ctx context.Context, c *api.Client) error {
			return c.MarkRead(ctx, args[0], idx)
		})
	},
}

var receiptsCmd = &cobra.Command{
	Use:   "receipts <chat>",
	Short: "Show how far each peer has read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *api.Client) error {
			resp, err := c.ReadReceipts(ctx, args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return outputJSON(resp)
			}
			for user, idx := range resp.ReadBy {
				fmt.Printf("%-20s %d\n", user, idx)
			}
			return nil
		})
	},
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/lock"
	"github.com/matheus3301/chatsync/internal/session"
	"github.com/spf13/cobra"
)

var (
	sessionFlag string
	jsonOutput  bool
	timeout     time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "chatsyncctl",
	Short:         "Control a running chatsyncd session",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&sessionFlag, "session", "", "session name (overrides config default)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "per-command deadline")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// connect resolves the session and dials its daemon. The lock file tells a
// stopped daemon apart from an unreachable one.
func connect() (*api.Client, string, error) {
	name := session.Resolve(sessionFlag)
	if err := session.ValidateName(name); err != nil {
		return nil, "", err
	}
	holder, err := lock.Inspect(session.Dir(name))
	if errors.Is(err, lock.ErrNotHeld) {
		return nil, "", fmt.Errorf("daemon not running for session %q (start it with: chatsyncd --session %s)", name, name)
	}
	if err != nil {
		return nil, "", err
	}
	socket := holder.Socket
	if socket == "" {
		socket = session.SocketPath(name)
	}
	c, err := api.Dial(socket)
	if err != nil {
		return nil, "", fmt.Errorf("cannot connect to daemon for session %q: %w", name, err)
	}
	return c, name, nil
}

// withClient runs fn against the session daemon under the --timeout deadline.
func withClient(fn func(ctx context.Context, c *api.Client) error) error {
	c, _, err := connect()
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return fn(ctx, c)
}

func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatUnixMs(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).Format("2006-01-02 15:04:05")
}

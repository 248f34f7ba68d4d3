// Command chatsync-devserver serves an in-memory backend over the HTTP
// protocol chatsyncd speaks, for local development against real daemons.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/matheus3301/chatsync/internal/backend"
	"github.com/matheus3301/chatsync/internal/logging"
	"github.com/matheus3301/chatsync/internal/model"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	listen := flag.String("listen", "127.0.0.1:8080", "listen address")
	pin := flag.String("pin", "", "PIN required for transfers")
	var chats []model.ChatID
	flag.Func("chat", "seed a chat (kind:id, repeatable)", func(s string) error {
		id, err := model.ParseChatID(s)
		if err != nil {
			return err
		}
		chats = append(chats, id)
		return nil
	})
	rules := flag.String("rules", "", "comma-separated chats whose rules must be accepted before sending")
	flag.Parse()

	logger := logging.Console("devserver", zapcore.InfoLevel)
	defer func() { _ = logger.Sync() }()

	mem := backend.NewMemory(*pin)
	pending := map[string]bool{}
	for _, c := range strings.Split(*rules, ",") {
		if c != "" {
			pending[c] = true
		}
	}
	for _, id := range chats {
		mem.AddChat(model.ChatSummary{ID: id, Rules: model.Rules{Enabled: pending[id.String()], Version: 1}})
		logger.Info("seeded chat", zap.String("chat", id.String()))
	}

	srv := &http.Server{Addr: *listen, Handler: backend.NewHandler(mem, logger), ReadHeaderTimeout: 10 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("dev backend listening", zap.String("addr", *listen))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

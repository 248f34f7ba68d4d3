package daemon

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/lock"
	"github.com/matheus3301/chatsync/internal/session"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// Server manages the gRPC server lifecycle for a session daemon.
type Server struct {
	grpcServer *grpc.Server
	listener   net.Listener
	socketPath string
	logger     *zap.Logger
}

func socketPath(p Params) string {
	if p.SocketPath != "" {
		return p.SocketPath
	}
	return session.SocketPath(p.SessionName)
}

// NewServer creates a gRPC server bound to the session's Unix domain socket.
// It takes the session lock so a refused daemon never touches the socket of
// the one already running.
func NewServer(
	p Params,
	_ *lock.Lock,
	logger *zap.Logger,
	sessionSvc *api.SessionService,
	syncSvc *api.SyncService,
	chatSvc *api.ChatService,
	messageSvc *api.MessageService,
) (*Server, error) {
	path := socketPath(p)

	// Clean stale socket if it exists.
	if _, err := os.Stat(path); err == nil {
		_ = os.Remove(path)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}

	// Set socket permissions to 0600.
	if err := os.Chmod(path, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	srv := grpc.NewServer()
	api.RegisterSessionService(srv, sessionSvc)
	api.RegisterSyncService(srv, syncSvc)
	api.RegisterChatService(srv, chatSvc)
	api.RegisterMessageService(srv, messageSvc)

	return &Server{
		grpcServer: srv,
		listener:   listener,
		socketPath: path,
		logger:     logger,
	}, nil
}

// Start begins serving gRPC requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("gRPC server starting", zap.String("socket", s.socketPath))
	return s.grpcServer.Serve(s.listener)
}

// Stop performs a graceful shutdown and removes the socket file. Open
// WatchEvents streams are cut when ctx ends.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("gRPC server stopping")
	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.grpcServer.Stop()
	}
	_ = os.Remove(s.socketPath)
}

package tcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"aviatorhub/internal/protocol"
)

// ServerConfig is what the acceptor needs from the process configuration.
type ServerConfig struct {
	Network string // tcp, tcp4 or tcp6
	Addr    string
	Session SessionConfig
}

// TCPServer accepts players, gives each one a registry slot and a handler
// goroutine, and runs the round controller alongside.
type TCPServer struct {
	cfg        ServerConfig
	Registry   *Registry
	controller *RoundController
	events     EventLogger
	logger     *slog.Logger

	listener   net.Listener
	ready      chan struct{}
	quitChan   chan struct{}
	acceptDone chan struct{}
	cancel     context.CancelFunc
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

type ServerOption func(*TCPServer)

func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *TCPServer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithServerEvents(events EventLogger) ServerOption {
	return func(s *TCPServer) {
		if events != nil {
			s.events = events
		}
	}
}

// NewServer wires the acceptor to registry. controller may be nil, in which
// case no rounds are played.
func NewServer(cfg ServerConfig, registry *Registry, controller *RoundController, opts ...ServerOption) *TCPServer {
	if cfg.Network == "" {
		cfg.Network = "tcp"
	}
	s := &TCPServer{
		cfg:        cfg,
		Registry:   registry,
		controller: controller,
		events:     nopEvents{},
		logger:     slog.Default(),
		ready:      make(chan struct{}),
		quitChan:   make(chan struct{}),
		acceptDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start listens and serves until Stop. A listen failure is returned
// immediately; accept failures are logged and the loop continues.
func (s *TCPServer) Start() error {
	listener, err := net.Listen(s.cfg.Network, s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to start TCP server: %w", err)
	}
	s.listener = listener
	defer close(s.acceptDone)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	close(s.ready)

	s.logger.Info("tcp_server_started",
		"network", s.cfg.Network,
		"addr", listener.Addr().String(),
		"capacity", s.Registry.Capacity(),
	)

	if s.controller != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.controller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("round_controller_stopped", "error", err)
			}
		}()
	}

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.quitChan:
				return nil
			default:
			}
			s.logger.Error("failed_to_accept_connection", "error", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}

		id, err := s.Registry.Allocate(conn)
		if err != nil {
			s.reject(conn, err)
			continue
		}

		s.wg.Add(1)
		go func(id int, conn net.Conn) {
			defer s.wg.Done()
			client := NewClientConnection(id, conn, s.Registry, s.cfg.Session, s.events, s.logger)
			client.Listen(ctx)
		}(id, conn)
	}
}

// reject tells a client it cannot join and closes the connection.
func (s *TCPServer) reject(conn net.Conn, reason error) {
	s.logger.Warn("client_rejected",
		"remote_addr", conn.RemoteAddr().String(),
		"reason", reason.Error(),
	)
	conn.SetWriteDeadline(time.Now().Add(time.Second))
	protocol.WriteMessage(conn, protocol.Bye())
	conn.Close()
}

// Ready is closed once the listener is bound.
func (s *TCPServer) Ready() <-chan struct{} {
	return s.ready
}

// Addr is the bound address; valid after Ready.
func (s *TCPServer) Addr() net.Addr {
	<-s.ready
	return s.listener.Addr()
}

// Stop says goodbye to every player, stops the round controller and waits
// for all handlers to return. Safe to call more than once.
func (s *TCPServer) Stop() {
	s.stopOnce.Do(func() {
		close(s.quitChan)
		select {
		case <-s.ready:
			s.cancel()
			s.listener.Close()
			<-s.acceptDone
		default:
		}
		s.Registry.CloseAll()
		s.events.LogEvent("bye", allPlayers)
		s.wg.Wait()
		s.logger.Info("tcp_server_stopped")
	})
}

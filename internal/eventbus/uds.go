package eventbus

import (
	"encoding/json"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
)

// udsServer accepts connections on <project_root>/.trust5/events.sock and
// broadcasts every published event as a newline-delimited JSON line to
// each connected client. Dead clients are reaped lazily on the next
// broadcast rather than actively monitored, since detecting a half-open
// socket costs a write either way.
type udsServer struct {
	mu       sync.Mutex
	listener net.Listener
	clients  map[net.Conn]struct{}
	path     string
	logger   *slog.Logger
	done     chan struct{}
}

// Init starts the bus's UDS broadcast listener rooted at projectRoot. It
// is safe to call Init without ever calling it at all — a Bus with no UDS
// server simply never broadcasts externally; in-process Subscribe/Publish
// is unaffected.
func (b *Bus) Init(projectRoot string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Join(projectRoot, ".trust5")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	sockPath := filepath.Join(dir, "events.sock")
	_ = os.Remove(sockPath) // stale socket from a prior crash

	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		return err
	}
	if err := os.Chmod(sockPath, 0o600); err != nil {
		ln.Close()
		return err
	}

	srv := &udsServer{
		listener: ln,
		clients:  make(map[net.Conn]struct{}),
		path:     sockPath,
		logger:   logger.With("component", "eventbus.uds"),
		done:     make(chan struct{}),
	}

	b.mu.Lock()
	b.uds = srv
	b.mu.Unlock()

	go srv.acceptLoop()
	return nil
}

func (s *udsServer) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				s.logger.Warn("uds accept failed", "error", err)
				return
			}
		}
		s.mu.Lock()
		s.clients[conn] = struct{}{}
		s.mu.Unlock()
	}
}

func (s *udsServer) broadcast(e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.clients {
		if _, err := conn.Write(data); err != nil {
			conn.Close()
			delete(s.clients, conn)
		}
	}
}

// Shutdown stops the UDS listener, closes all client connections, and
// removes the socket file. Also signals every in-process subscriber by
// closing the bus entirely; callers should Unsubscribe their own
// subscribers as part of normal teardown, but Shutdown guarantees no
// further events are broadcast externally.
func (b *Bus) Shutdown() {
	b.mu.Lock()
	srv := b.uds
	b.uds = nil
	b.mu.Unlock()

	if srv == nil {
		return
	}
	close(srv.done)
	srv.listener.Close()

	srv.mu.Lock()
	for conn := range srv.clients {
		conn.Close()
	}
	srv.clients = nil
	srv.mu.Unlock()

	_ = os.Remove(srv.path)
}

// Package ipc implements the primary Edge→Worker handoff channel: a local,
// stream-oriented, single-host endpoint. One server-side listener accepts
// many concurrent client streams; wire format is one UTF-8 JSON object per
// newline-terminated line, no framing beyond "\n" (§4.2, §9).
package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/signalcove/pixelwatch/internal/record"
)

// maxLineBytes bounds a single JSON line to guard against a misbehaving or
// malicious client exhausting memory with an unterminated line.
const maxLineBytes = 1 << 20 // 1 MiB

// Server accepts connections on a Unix domain socket (or local TCP address,
// chosen by the shape of addr) and decodes newline-delimited TrackingRecord
// JSON from each one onto Records.
type Server struct {
	addr       string
	acceptors  int
	logger     *zap.Logger
	listener   net.Listener
	Records    chan record.TrackingRecord
	wg         sync.WaitGroup
	accepting  atomic.Bool
	malformed  atomic.Int64
}

// NewServer builds an IPC server. recordsCap sizes the channel records are
// delivered on; the Worker listener reads from it into the enrichment
// channel.
func NewServer(addr string, acceptors, recordsCap int, logger *zap.Logger) *Server {
	return &Server{
		addr:      addr,
		acceptors: acceptors,
		logger:    logger,
		Records:   make(chan record.TrackingRecord, recordsCap),
	}
}

// Start binds the listener and launches N concurrent acceptor goroutines,
// each calling Accept() on the same listener — this is the "N ≥ 4 concurrent
// acceptors" requirement; Go's net.Listener.Accept is safe for concurrent
// callers, so multiple acceptors reduce accept-to-dispatch latency under
// connection storms without needing a dispatch layer of their own.
func (s *Server) Start(ctx context.Context) error {
	network, address := networkFor(s.addr)
	if network == "unix" {
		_ = os.Remove(address)
	}

	ln, err := net.Listen(network, address)
	if err != nil {
		return fmt.Errorf("ipc: listening on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.accepting.Store(true)

	for i := 0; i < s.acceptors; i++ {
		s.wg.Add(1)
		go s.acceptLoop(ctx)
	}

	s.logger.Info("ipc server listening", zap.String("network", network), zap.String("addr", address), zap.Int("acceptors", s.acceptors))
	return nil
}

// Stop closes the listener and waits for in-flight connections to drain
// their current line, then closes Records.
func (s *Server) Stop() {
	s.accepting.Store(false)
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
	close(s.Records)
}

// Ready reports whether the listener is currently accepting connections —
// satisfies http.ReadinessCheck.
func (s *Server) Ready() error {
	if !s.accepting.Load() {
		return fmt.Errorf("ipc: not accepting connections")
	}
	return nil
}

func (s *Server) Name() string { return "ipc_listener" }

func (s *Server) acceptLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if !s.accepting.Load() {
				return
			}
			s.logger.Warn("ipc accept error", zap.Error(err))
			continue
		}
		s.wg.Add(1)
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var rec record.TrackingRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			s.malformed.Add(1)
			s.logger.Warn("ipc malformed line", zap.Error(err))
			continue
		}

		select {
		case s.Records <- rec:
		case <-ctx.Done():
			return
		}
	}
	if err := scanner.Err(); err != nil {
		s.logger.Debug("ipc connection read error", zap.Error(err))
	}
}

// MalformedCount returns the running count of lines that failed to decode.
func (s *Server) MalformedCount() int64 {
	return s.malformed.Load()
}

// networkFor decides whether addr names a Unix domain socket path or a
// local TCP address: a leading "/" or ".", or containing no ":", is
// treated as a filesystem path.
func networkFor(addr string) (network, address string) {
	if len(addr) > 0 && (addr[0] == '/' || addr[0] == '.' || !strings.Contains(addr, ":")) {
		return "unix", addr
	}
	return "tcp", addr
}

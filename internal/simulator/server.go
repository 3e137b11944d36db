// internal/simulator/server.go
package simulator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"device-bridge/internal/model"
)

// Behavior selects how the simulated device answers
type Behavior string

const (
	// BehaviorNormal replies and closes the connection
	BehaviorNormal Behavior = "normal"
	// BehaviorLinger replies and keeps the connection open until the peer leaves
	BehaviorLinger Behavior = "linger"
	// BehaviorSilent reads the request and never answers
	BehaviorSilent Behavior = "silent"
	// BehaviorClose closes the connection without answering
	BehaviorClose Behavior = "close"
	// BehaviorPartial sends the first half of the reply and stalls
	BehaviorPartial Behavior = "partial"
	// BehaviorGarbage answers with bytes no codec accepts
	BehaviorGarbage Behavior = "garbage"
)

// Behaviors lists every behaviour
var Behaviors = []Behavior{BehaviorNormal, BehaviorLinger, BehaviorSilent, BehaviorClose, BehaviorPartial, BehaviorGarbage}

// ParseBehavior parses a behaviour name
func ParseBehavior(name string) (Behavior, error) {
	for _, b := range Behaviors {
		if strings.EqualFold(name, string(b)) {
			return b, nil
		}
	}
	return "", fmt.Errorf("unknown behavior %q", name)
}

var garbageReply = []byte("\x00\xff<<{{not\"a\"reply\n")

const (
	defaultAddress     = ":9000"
	defaultReadTimeout = 30 * time.Second
	maxRequestBytes    = 1 << 20
)

// ServerConfig configures a simulated device
type ServerConfig struct {
	Address     string
	Format      model.Format
	Behavior    Behavior
	ReplyDelay  time.Duration
	ReadTimeout time.Duration
}

// Server is a TCP device that speaks one wire format
type Server struct {
	config   ServerConfig
	state    *State
	logger   *zap.Logger
	listener net.Listener

	conns   map[net.Conn]struct{}
	connsMu sync.Mutex

	requests atomic.Int64
	running  atomic.Bool
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewServer creates a simulated device serving state
func NewServer(config ServerConfig, state *State, logger *zap.Logger) (*Server, error) {
	if state == nil {
		return nil, fmt.Errorf("state is required")
	}
	switch config.Format {
	case model.FormatJSON, model.FormatXML, model.FormatCSV, model.FormatRawLine:
	default:
		return nil, fmt.Errorf("unsupported format %q", config.Format)
	}
	if config.Address == "" {
		config.Address = defaultAddress
	}
	if config.Behavior == "" {
		config.Behavior = BehaviorNormal
	}
	if _, err := ParseBehavior(string(config.Behavior)); err != nil {
		return nil, err
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = defaultReadTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Server{
		config: config,
		state:  state,
		logger: logger.With(zap.String("component", "simulator"), zap.String("format", string(config.Format))),
		conns:  make(map[net.Conn]struct{}),
	}, nil
}

// Start starts listening and accepting connections
func (s *Server) Start(ctx context.Context) error {
	if s.running.Load() {
		return fmt.Errorf("server already running")
	}

	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.listener = listener
	s.running.Store(true)

	s.logger.Info("Simulated device listening",
		zap.String("address", listener.Addr().String()),
		zap.String("behavior", string(s.config.Behavior)),
	)

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Stop closes the listener and every open connection
func (s *Server) Stop() error {
	if !s.running.Swap(false) {
		return nil
	}

	s.cancel()
	s.listener.Close()

	s.connsMu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.connsMu.Unlock()

	s.wg.Wait()
	return nil
}

// Addr returns the listen address
func (s *Server) Addr() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// Requests returns how many requests have been read
func (s *Server) Requests() int64 {
	return s.requests.Load()
}

// ConnectionCount returns the number of open connections
func (s *Server) ConnectionCount() int {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	return len(s.conns)
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("Accept failed", zap.Error(err))
			continue
		}

		if !s.track(conn) {
			conn.Close()
			return
		}
		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	if !s.running.Load() {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.connsMu.Lock()
	delete(s.conns, conn)
	s.connsMu.Unlock()
	conn.Close()
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)

	conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	request, err := ReadRequest(bufio.NewReader(io.LimitReader(conn, maxRequestBytes)), s.config.Format)
	if len(request) == 0 {
		if err != nil && !errors.Is(err, io.EOF) {
			s.logger.Debug("Request read failed", zap.Error(err))
		}
		return
	}
	s.requests.Add(1)

	reply := s.respond(request)
	s.logger.Debug("Request served",
		zap.String("remote_addr", conn.RemoteAddr().String()),
		zap.Int("request_bytes", len(request)),
		zap.Int("reply_bytes", len(reply)),
	)

	if s.config.ReplyDelay > 0 {
		select {
		case <-time.After(s.config.ReplyDelay):
		case <-s.ctx.Done():
			return
		}
	}

	switch s.config.Behavior {
	case BehaviorClose:
		return
	case BehaviorSilent:
		s.hold(conn)
	case BehaviorGarbage:
		conn.Write(garbageReply)
	case BehaviorPartial:
		conn.Write(reply[:len(reply)/2])
		s.hold(conn)
	case BehaviorLinger:
		conn.Write(reply)
		s.hold(conn)
	default:
		conn.Write(reply)
	}
}

// respond runs the request against the state and renders the reply
func (s *Server) respond(request []byte) []byte {
	format := s.config.Format

	req, err := ParseRequest(format, request)
	if err != nil {
		return RenderError(format, fmt.Sprintf("malformed request: %v", err))
	}

	var points map[string]string
	if req.Command == CmdGetData {
		points, err = s.state.Read(req.Params)
	} else {
		points, err = s.state.Execute(req.Command, req.Args, req.Params)
	}
	if err != nil {
		return RenderError(format, err.Error())
	}
	return RenderReply(format, points)
}

// hold keeps the connection open until the peer closes it or the server stops
func (s *Server) hold(conn net.Conn) {
	conn.SetReadDeadline(time.Time{})
	io.Copy(io.Discard, conn)
}

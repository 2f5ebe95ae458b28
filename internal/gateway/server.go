// Package gateway accepts one WebSocket connection per client↔host pair
// and multiplexes interactive terminal I/O, file operations, and the
// authentication dialogue over it.
package gateway

import (
	"crypto/ecdsa"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"

	"github.com/ehrlich-b/gangway/internal/hosts"
	"github.com/ehrlich-b/gangway/internal/logger"
)

const maxFrameSize = 512 * 1024

// Resolver maps symbolic host names to connection parameters.
// *hosts.Directory serves a fixed snapshot; *hosts.Store follows the
// hosts file on disk.
type Resolver interface {
	Resolve(name string) (hosts.Params, error)
}

// Options configure a gateway server.
type Options struct {
	// Hosts resolves symbolic host names for remote sessions.
	Hosts Resolver

	// Shell overrides the command for local sessions; empty means the
	// user's $SHELL.
	Shell string

	// AuthPubKey, when set, requires an ES256 bearer JWT on every
	// WebSocket handshake.
	AuthPubKey *ecdsa.PublicKey
}

// Server is the session gateway. One process serves one interactive
// user; sessions share nothing but the host directory.
type Server struct {
	opts    Options
	accepts *rate.Limiter

	mu       sync.Mutex
	listener net.Listener
}

// NewServer builds a gateway server around the given options.
func NewServer(opts Options) *Server {
	return &Server{
		opts: opts,
		// Reconnect storms from a flapping client should not fork
		// shells as fast as the network allows.
		accepts: rate.NewLimiter(rate.Limit(4), 16),
	}
}

// Start listens on addr and serves until the listener closes.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	logger.Info("gateway listening", "addr", addr)
	return http.Serve(ln, s.Handler())
}

// Close stops the listener. Live sessions end when their connections do.
func (s *Server) Close() error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln != nil {
		return ln.Close()
	}
	return nil
}

// Handler returns the HTTP handler: the session WebSocket endpoint plus
// a health probe.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/session", s.handleSession)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	})
	return mux
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if !s.accepts.Allow() {
		http.Error(w, "too many connections", http.StatusTooManyRequests)
		return
	}

	if s.opts.AuthPubKey != nil {
		if err := s.checkBearer(r); err != nil {
			logger.Warn("handshake rejected", "err", err)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	host := r.URL.Query().Get("host")
	if host == "" {
		host = hosts.Local
	}
	cols := queryDim(r, "cols", 80)
	rows := queryDim(r, "rows", 24)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		logger.Warn("websocket accept failed", "err", err)
		return
	}
	conn.SetReadLimit(maxFrameSize)
	defer conn.CloseNow()

	s.runSession(r.Context(), conn, host, cols, rows)
}

// checkBearer validates the Authorization header against the configured
// ES256 public key.
func (s *Server) checkBearer(r *http.Request) error {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return fmt.Errorf("missing bearer token")
	}
	tokenStr := strings.TrimPrefix(auth, "Bearer ")

	token, err := jwt.ParseWithClaims(tokenStr, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodECDSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.opts.AuthPubKey, nil
	})
	if err != nil {
		return fmt.Errorf("parse bearer jwt: %w", err)
	}
	if !token.Valid {
		return fmt.Errorf("invalid bearer jwt")
	}
	return nil
}

func queryDim(r *http.Request, key string, fallback uint16) uint16 {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v <= 0 || v > 0xffff {
		return fallback
	}
	return uint16(v)
}

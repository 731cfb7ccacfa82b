// Package socket implements a framed stream-socket transport: a local,
// per-host alternative to the messaging transport exposing only verify
// and change_password, intended for host-integrated authenticators
// such as a PAM module.
//
// Grounded on warren's pkg/api.Server Start/Stop shape and
// pkg/api/interceptor.go's Unix-socket special-casing (there, a
// read-only gRPC interceptor gating the local socket listener; here,
// the socket only ever exposes the two user-facing methods in the
// first place, so no interceptor is needed), generalized from gRPC
// framing to a REQ/RES line protocol.
package socket

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"sync"
	"time"

	"github.com/cuemby/snas/internal/errs"
	"github.com/cuemby/snas/internal/handler"
	"github.com/cuemby/snas/internal/log"
	"github.com/cuemby/snas/internal/metrics"
)

// frameTimeout bounds how long the server waits for a complete request
// frame, counted from when it starts waiting for the frame (so an idle
// connection times out as well). On expiry the server sends a failure
// response before closing rather than leaving the caller to hang
// indefinitely.
const frameTimeout = 30 * time.Second

// Server dispatches socket requests to the user handler. Only verify
// and change_password are reachable here; admin mutations stay
// messaging-transport only, since the socket is meant for
// host-local authentication, not directory administration.
type Server struct {
	path     string
	user     *handler.User
	listener net.Listener

	mu      sync.Mutex
	conns   map[net.Conn]struct{}
	wg      sync.WaitGroup
	closing bool
}

// NewServer constructs a Server bound to path once Start is called.
func NewServer(user *handler.User, path string) *Server {
	return &Server{path: path, user: user, conns: make(map[net.Conn]struct{})}
}

// Start unlinks any stale socket file left over from a previous run,
// binds a new one restricted to the owner, and begins accepting
// connections in the background.
func (s *Server) Start() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}

	lis, err := net.Listen("unix", s.path)
	if err != nil {
		return err
	}
	if err := os.Chmod(s.path, 0o600); err != nil {
		lis.Close()
		return err
	}
	s.listener = lis

	go s.acceptLoop()
	return nil
}

// Stop closes every open connection and the listener, waits for the
// connection goroutines to exit, and removes the socket file.
func (s *Server) Stop() {
	s.mu.Lock()
	s.closing = true
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()

	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	_ = os.Remove(s.path)
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			if closing {
				return
			}
			log.Error("socket transport: accept failed")
			return
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// handleConn runs the strict-FIFO session loop for one connection: it
// never starts reading the next request until the previous response
// has been written, so responses can never arrive out of order on the
// same connection.
func (s *Server) handleConn(conn net.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
		s.wg.Done()
	}()

	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(frameTimeout))
		method, payload, err := readFrame(reader)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				_ = writeFrame(writer, failureEnvelope("request timed out"))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Time{})

		env := s.dispatch(context.Background(), method, payload)
		if err := writeFrame(writer, env); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, method string, payload json.RawMessage) envelope {
	env := s.dispatchMethod(ctx, method, payload)
	result := "ok"
	if !env.Success {
		result = "error"
	}
	metrics.TransportRequestsTotal.WithLabelValues("socket", method, result).Inc()
	return env
}

func (s *Server) dispatchMethod(ctx context.Context, method string, payload json.RawMessage) envelope {
	switch method {
	case "verify":
		return s.dispatchVerify(ctx, payload)
	case "change_password":
		return s.dispatchChangePassword(ctx, payload)
	default:
		return failureEnvelope("unknown method")
	}
}

func (s *Server) dispatchVerify(ctx context.Context, payload json.RawMessage) envelope {
	var req verifyRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return failureEnvelope("malformed request payload")
	}
	res, err := s.user.Verify(ctx, req.Username, req.Password)
	if err != nil {
		return failureEnvelope(sanitizedMessage(err))
	}
	respBytes, err := json.Marshal(verifyResponse{
		Valid:              res.Valid,
		Message:            res.Message,
		NeedsPasswordReset: res.NeedsPasswordReset,
		Groups:             res.Groups,
	})
	if err != nil {
		log.Error("socket transport: failed to marshal verify response")
		return failureEnvelope("internal error")
	}
	return envelope{Success: true, Message: ackMessage, Response: respBytes}
}

func (s *Server) dispatchChangePassword(ctx context.Context, payload json.RawMessage) envelope {
	var req changePasswordRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return failureEnvelope("malformed request payload")
	}
	if err := s.user.ChangePassword(ctx, req.Username, req.OldPassword, req.NewPassword); err != nil {
		return failureEnvelope(sanitizedMessage(err))
	}
	return envelope{Success: true, Message: ackMessage}
}

// sanitizedMessage maps a handler error to a message safe to send on
// the wire, mirroring the messaging transport's classification
// (internal/transport/messaging.sanitizedMessage) as a separate copy
// covering the kinds the two user methods return; AlreadyExists has no
// case of its own here and maps to "internal error".
func sanitizedMessage(err error) string {
	switch errs.KindOf(err) {
	case errs.NotFound:
		return "user not found"
	case errs.InvalidInput:
		var e *errs.Error
		if errors.As(err, &e) {
			return e.Message
		}
		return "invalid input"
	case errs.AuthFailed:
		return "invalid credentials"
	case errs.Conflict:
		return "update conflict, please retry"
	default:
		return "internal error"
	}
}

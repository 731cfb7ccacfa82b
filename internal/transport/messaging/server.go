// Package messaging implements the NATS request/reply transport: one
// wildcard subject tree per configurable prefix,
// subscribed on a queue group so a cluster of SNAS servers shares
// load, with JSON envelopes in and out and methods dispatched by the
// subject's trailing token.
//
// Grounded on warren's pkg/api.Server: a thin type wrapping the
// handler layer and registering one endpoint per method, generalized
// from a single gRPC service registration to a set of NATS subject
// subscriptions.
package messaging

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"

	"github.com/cuemby/snas/internal/errs"
	"github.com/cuemby/snas/internal/handler"
	"github.com/cuemby/snas/internal/log"
	"github.com/cuemby/snas/internal/metrics"
)

// Config controls subject prefixes and which subject trees are active.
type Config struct {
	AdminPrefix string
	UserPrefix  string
	EnableAdmin bool
	EnableUser  bool
}

// DefaultConfig returns the standard "snas.admin"/"snas.user" prefixes
// with both subject trees enabled.
func DefaultConfig() Config {
	return Config{
		AdminPrefix: "snas.admin",
		UserPrefix:  "snas.user",
		EnableAdmin: true,
		EnableUser:  true,
	}
}

// Server dispatches NATS requests to the admin and user handlers.
type Server struct {
	nc    *nats.Conn
	admin *handler.Admin
	user  *handler.User
	cfg   Config
	subs  []*nats.Subscription
}

// NewServer constructs a Server. admin or user may be nil if the
// corresponding subject tree is disabled in cfg.
func NewServer(nc *nats.Conn, admin *handler.Admin, user *handler.User, cfg Config) *Server {
	return &Server{nc: nc, admin: admin, user: user, cfg: cfg}
}

// Start subscribes one wildcard subject per enabled tree
// (<prefix>.>) on a queue group named after the prefix, so a cluster
// of SNAS processes sharing a NATS account load-balances requests
// across instances. Dispatch to the right method happens
// inside the callback by inspecting the subject's final token; this
// lets one subscription classify "unknown method" itself instead of
// relying on the client's request simply timing out.
func (s *Server) Start() error {
	if s.cfg.EnableAdmin {
		if err := s.subscribeTree(s.cfg.AdminPrefix, s.adminDispatch()); err != nil {
			return err
		}
	}
	if s.cfg.EnableUser {
		if err := s.subscribeTree(s.cfg.UserPrefix, s.userDispatch()); err != nil {
			return err
		}
	}
	return nil
}

// Stop unsubscribes every subject this Server registered.
func (s *Server) Stop() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	s.subs = nil
}

type dispatchFunc func(ctx context.Context, raw json.RawMessage) (any, string, error)

func (s *Server) subscribeTree(prefix string, methods map[string]dispatchFunc) error {
	wildcard := prefix + ".>"
	sub, err := s.nc.QueueSubscribe(wildcard, prefix, func(msg *nats.Msg) {
		method := methodFromSubject(prefix, msg.Subject)
		fn, ok := methods[method]
		if !ok {
			metrics.TransportRequestsTotal.WithLabelValues("messaging", method, "unknown_method").Inc()
			s.respond(msg, failureEnvelope("unknown method"))
			return
		}
		// Each request becomes an independent task: the handler layer
		// holds no per-username lock, so fanning callbacks out onto
		// their own goroutine is safe and keeps one slow request from
		// head-of-line blocking the subscription's dispatcher.
		go s.handle(msg, method, fn)
	})
	if err != nil {
		return err
	}
	s.subs = append(s.subs, sub)
	return nil
}

func methodFromSubject(prefix, subject string) string {
	if len(subject) <= len(prefix)+1 {
		return ""
	}
	return subject[len(prefix)+1:]
}

func (s *Server) handle(msg *nats.Msg, method string, fn dispatchFunc) {
	ctx := context.Background()

	response, okMessage, err := fn(ctx, msg.Data)
	if err != nil {
		s.respondError(msg, method, err)
		return
	}
	metrics.TransportRequestsTotal.WithLabelValues("messaging", method, "ok").Inc()
	s.respond(msg, successEnvelope(okMessage, response))
}

func (s *Server) respondError(msg *nats.Msg, method string, err error) {
	kind := errs.KindOf(err)
	switch kind {
	case errs.Backend:
		log.Error("messaging transport: backend error")
	case errs.CorruptRecord:
		log.Error("messaging transport: corrupt record")
	}
	metrics.TransportRequestsTotal.WithLabelValues("messaging", method, "error").Inc()
	s.respond(msg, failureEnvelope(sanitizedMessage(kind, err)))
}

// sanitizedMessage maps an error kind to a message safe to send on the
// wire. AuthFailed keeps its fixed, non-enumerating text; everything
// else gets a short, generic description — never the underlying cause,
// a stack trace, or a storage key.
func sanitizedMessage(kind errs.Kind, err error) string {
	switch kind {
	case errs.NotFound:
		return "user not found"
	case errs.AlreadyExists:
		return "user already exists"
	case errs.InvalidInput:
		return invalidInputMessage(err)
	case errs.Conflict:
		return "update conflict, please retry"
	case errs.AuthFailed:
		return "invalid credentials"
	default:
		return "internal error"
	}
}

// invalidInputMessage is the one case where surfacing the handler's own
// message is safe: validation failures describe the malformed request,
// not server internals.
func invalidInputMessage(err error) string {
	var e *errs.Error
	if as, ok := err.(*errs.Error); ok {
		e = as
		return e.Message
	}
	return "invalid input"
}

func (s *Server) respond(msg *nats.Msg, env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		log.Error("messaging transport: failed to marshal envelope")
		return
	}
	if err := msg.Respond(data); err != nil {
		log.Error("messaging transport: failed to send reply")
	}
}

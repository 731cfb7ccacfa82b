package messaging

import (
	"encoding/json"

	"github.com/cuemby/snas/internal/errs"
)

// badRequest classifies a request-decoding failure as InvalidInput so
// it flows through the same sanitized-message path as a handler
// validation error, rather than being treated as a Backend failure.
func badRequest(err error) error {
	return errs.Wrap(errs.InvalidInput, "malformed request payload", err)
}

// Envelope is the wire shape of every NATS reply. Decoding errors,
// unknown methods, and handler errors all collapse to success=false
// with a sanitized message; the original error is never forwarded to
// the wire.
type Envelope struct {
	Success  bool            `json:"success"`
	Message  string          `json:"message"`
	Response json.RawMessage `json:"response"`
}

func successEnvelope(message string, response any) Envelope {
	env := Envelope{Success: true, Message: message}
	if response != nil {
		if raw, err := json.Marshal(response); err == nil {
			env.Response = raw
		}
	}
	return env
}

func failureEnvelope(message string) Envelope {
	return Envelope{Success: false, Message: message, Response: nil}
}

const ackMessage = "ok"

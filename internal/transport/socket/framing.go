package socket

import (
	"bufio"
	"bytes"
	"encoding/json"

	"github.com/cuemby/snas/internal/errs"
)

// terminator ends both request and response frames. A conformant JSON
// encoder never emits this sequence inside a value, so scanning for its
// first occurrence is safe.
const terminator = "\r\nEND\n"

const requestHeader = "REQ\n"
const responseHeader = "RES\n"

// maxMethodLen bounds the method-name line so a malformed or hostile
// client can't make the server buffer an unbounded line waiting for '\n'.
const maxMethodLen = 128

// readFrame reads one request frame: "REQ\n", a method name line, a
// JSON payload, then the terminator. The payload is returned with the
// terminator stripped but is not otherwise validated as JSON.
func readFrame(r *bufio.Reader) (method string, payload []byte, err error) {
	header, err := r.ReadString('\n')
	if err != nil {
		return "", nil, err
	}
	if header != requestHeader {
		return "", nil, errs.New(errs.InvalidInput, "malformed frame: expected REQ header")
	}

	methodBytes := make([]byte, 0, maxMethodLen)
	for {
		b, err := r.ReadByte()
		if err != nil {
			return "", nil, err
		}
		if b == '\n' {
			break
		}
		if len(methodBytes) == maxMethodLen {
			return "", nil, errs.New(errs.InvalidInput, "malformed frame: invalid method name")
		}
		methodBytes = append(methodBytes, b)
	}
	method = string(methodBytes)
	if !isValidMethodName(method) {
		return "", nil, errs.New(errs.InvalidInput, "malformed frame: invalid method name")
	}

	var buf bytes.Buffer
	term := []byte(terminator)
	for {
		b, err := r.ReadByte()
		if err != nil {
			return "", nil, err
		}
		buf.WriteByte(b)
		if buf.Len() >= len(term) && bytes.HasSuffix(buf.Bytes(), term) {
			payload = buf.Bytes()[:buf.Len()-len(term)]
			return method, payload, nil
		}
	}
}

func isValidMethodName(method string) bool {
	if method == "" || len(method) > maxMethodLen {
		return false
	}
	for i := 0; i < len(method); i++ {
		if method[i] > 127 {
			return false
		}
	}
	return true
}

// writeFrame writes one response frame: "RES\n", the marshaled
// envelope, then the terminator.
func writeFrame(w *bufio.Writer, env envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if _, err := w.WriteString(responseHeader); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	if _, err := w.WriteString(terminator); err != nil {
		return err
	}
	return w.Flush()
}

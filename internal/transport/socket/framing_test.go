package socket

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadFrameParsesMethodAndPayload(t *testing.T) {
	raw := "REQ\nverify\n{\"username\":\"foo\",\"password\":\"bar\"}\r\nEND\n"
	r := bufio.NewReader(bytes.NewReader([]byte(raw)))

	method, payload, err := readFrame(r)
	require.NoError(t, err)
	assert.Equal(t, "verify", method)
	assert.Equal(t, `{"username":"foo","password":"bar"}`, string(payload))
}

func TestReadFrameRejectsMissingHeader(t *testing.T) {
	raw := "XYZ\nverify\n{}\r\nEND\n"
	r := bufio.NewReader(bytes.NewReader([]byte(raw)))

	_, _, err := readFrame(r)
	require.Error(t, err)
}

func TestReadFrameRejectsOversizeMethodName(t *testing.T) {
	longMethod := make([]byte, maxMethodLen+1)
	for i := range longMethod {
		longMethod[i] = 'a'
	}
	raw := "REQ\n" + string(longMethod) + "\n{}\r\nEND\n"
	r := bufio.NewReader(bytes.NewReader([]byte(raw)))

	_, _, err := readFrame(r)
	require.Error(t, err)
}

func TestReadFrameHandlesPayloadsWithEscapedControlChars(t *testing.T) {
	// A conformant JSON encoder escapes \r and \n inside strings, so the
	// literal terminator never appears early even when the value itself
	// contains those characters.
	raw := "REQ\nchange_password\n{\"old_password\":\"a\\r\\nb\"}\r\nEND\n"
	r := bufio.NewReader(bytes.NewReader([]byte(raw)))

	method, payload, err := readFrame(r)
	require.NoError(t, err)
	assert.Equal(t, "change_password", method)
	assert.Equal(t, `{"old_password":"a\r\nb"}`, string(payload))
}

func TestWriteFrameEncodesEnvelope(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)

	env := envelope{Success: true, Message: ackMessage, Response: []byte(`{"valid":true}`)}
	require.NoError(t, writeFrame(w, env))

	assert.Equal(t, "RES\n{\"success\":true,\"message\":\"ok\",\"response\":{\"valid\":true}}\r\nEND\n", buf.String())
}

func TestWriteThenReadViaFramePair(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	require.NoError(t, writeFrame(w, envelope{Success: false, Message: "unknown method"}))

	r := bufio.NewReader(&buf)
	header, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, responseHeader, header)
}

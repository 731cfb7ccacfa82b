// Package codec implements the binary on-the-wire encoding for user
// records stored in the credential KV bucket.
//
// Encoding is a versioned, length-prefixed TLV format:
//
//	byte    formatVersion
//	uint32  len(username)   []byte username (UTF-8)
//	uint32  len(passwordHash) []byte passwordHash (opaque)
//	uint32  numGroups
//	  for each group: uint32 len(group) []byte group (UTF-8)
//	byte    needsPasswordReset (0 or 1)
//
// All integers are little-endian. Unknown format versions fail decoding
// with errs.CorruptRecord so a newer writer's forward-compatible
// additions never silently corrupt an older reader's view.
package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/cuemby/snas/internal/errs"
)

// formatVersion1 is the only version this codec currently emits.
const formatVersion1 byte = 1

// maxFieldLen bounds any single length-prefixed field during decode, so a
// corrupt or adversarial length prefix cannot drive an enormous allocation.
const maxFieldLen = 1 << 20

// Record is the in-memory representation of a user record, independent
// of storage revision.
type Record struct {
	Username           string
	PasswordHash       []byte
	Groups             []string
	NeedsPasswordReset bool
}

// Encode serializes a Record into its versioned binary form.
func Encode(r Record) []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(formatVersion1)

	writeField(buf, []byte(r.Username))
	writeField(buf, r.PasswordHash)

	var numGroups [4]byte
	binary.LittleEndian.PutUint32(numGroups[:], uint32(len(r.Groups)))
	buf.Write(numGroups[:])
	for _, g := range r.Groups {
		writeField(buf, []byte(g))
	}

	if r.NeedsPasswordReset {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}

	return buf.Bytes()
}

func writeField(buf *bytes.Buffer, data []byte) {
	var length [4]byte
	binary.LittleEndian.PutUint32(length[:], uint32(len(data)))
	buf.Write(length[:])
	buf.Write(data)
}

// Decode parses the versioned binary form produced by Encode.
// An unknown format version, or a truncated/malformed payload, returns
// an *errs.Error with Kind errs.CorruptRecord.
func Decode(data []byte) (Record, error) {
	r := bytes.NewReader(data)

	version, err := r.ReadByte()
	if err != nil {
		return Record{}, errs.Wrap(errs.CorruptRecord, "empty record", err)
	}
	if version != formatVersion1 {
		return Record{}, errs.New(errs.CorruptRecord, fmt.Sprintf("unsupported record format version %d", version))
	}

	username, err := readField(r)
	if err != nil {
		return Record{}, errs.Wrap(errs.CorruptRecord, "reading username", err)
	}

	passwordHash, err := readField(r)
	if err != nil {
		return Record{}, errs.Wrap(errs.CorruptRecord, "reading password hash", err)
	}

	var numGroupsBuf [4]byte
	if _, err := readFull(r, numGroupsBuf[:]); err != nil {
		return Record{}, errs.Wrap(errs.CorruptRecord, "reading group count", err)
	}
	numGroups := binary.LittleEndian.Uint32(numGroupsBuf[:])
	if numGroups > maxFieldLen {
		return Record{}, errs.New(errs.CorruptRecord, "group count exceeds maximum")
	}

	groups := make([]string, 0, numGroups)
	for i := uint32(0); i < numGroups; i++ {
		g, err := readField(r)
		if err != nil {
			return Record{}, errs.Wrap(errs.CorruptRecord, "reading group", err)
		}
		groups = append(groups, string(g))
	}

	resetByte, err := r.ReadByte()
	if err != nil {
		return Record{}, errs.Wrap(errs.CorruptRecord, "reading reset flag", err)
	}
	if resetByte != 0 && resetByte != 1 {
		return Record{}, errs.New(errs.CorruptRecord, "invalid reset flag value")
	}

	return Record{
		Username:           string(username),
		PasswordHash:       passwordHash,
		Groups:             groups,
		NeedsPasswordReset: resetByte == 1,
	}, nil
}

func readField(r *bytes.Reader) ([]byte, error) {
	var lengthBuf [4]byte
	if _, err := readFull(r, lengthBuf[:]); err != nil {
		return nil, err
	}
	length := binary.LittleEndian.Uint32(lengthBuf[:])
	if length > maxFieldLen {
		return nil, fmt.Errorf("field length %d exceeds maximum", length)
	}
	data := make([]byte, length)
	if _, err := readFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}

func readFull(r *bytes.Reader, buf []byte) (int, error) {
	return io.ReadFull(r, buf)
}

// Package hash implements memory-hard password hashing for SNAS using
// Argon2id, the algorithm RFC 9106 recommends for password storage.
//
// Adapted from warren's pkg/security secret-encryption helpers:
// same crypto/rand salt-generation discipline, same self-contained
// encode/decode-a-blob shape, but emitting a self-describing Argon2id
// string instead of encrypting with a cluster key.
package hash

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/cuemby/snas/internal/errs"
)

// Params controls the Argon2id cost. Defaults target tens-of-milliseconds
// latency on commodity hardware for interactive authentication. Parameters
// travel inside the encoded hash, so tightening these defaults in a future
// release never invalidates existing records.
type Params struct {
	Memory      uint32 // KiB
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultParams are the parameters used by Hash. They are deliberately
// not exported as a package-level mutable var: changing cost parameters
// is a conscious decision made at the call site, not ambient state.
func DefaultParams() Params {
	return Params{
		Memory:      64 * 1024, // 64 MiB
		Iterations:  1,
		Parallelism: 4,
		SaltLength:  16,
		KeyLength:   32,
	}
}

const minSaltLength = 16

// Hash generates a fresh random salt and returns a self-describing
// Argon2id hash string of plaintext, in the conventional
// $argon2id$v=19$m=...,t=...,p=...$salt$digest form. It fails only if
// the system CSPRNG fails.
func Hash(plaintext string) (string, error) {
	return HashWithParams(plaintext, DefaultParams())
}

// HashWithParams is Hash with explicit cost parameters, exposed for tests
// that need fast (low-cost) hashing.
func HashWithParams(plaintext string, p Params) (string, error) {
	if p.SaltLength < minSaltLength {
		p.SaltLength = minSaltLength
	}

	salt := make([]byte, p.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", errs.Wrap(errs.Backend, "generating salt", err)
	}

	digest := argon2.IDKey([]byte(plaintext), salt, p.Iterations, p.Memory, p.Parallelism, p.KeyLength)

	encoded := fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		p.Memory, p.Iterations, p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(digest),
	)
	return encoded, nil
}

// Verify recomputes the Argon2id digest for plaintext using the
// parameters and salt embedded in encodedHash, and compares it against
// the stored digest in constant time. A malformed encodedHash yields
// errs.CorruptRecord rather than a plain false, since it signals
// corrupted storage rather than a mismatched password.
func Verify(plaintext, encodedHash string) (bool, error) {
	p, salt, digest, err := decode(encodedHash)
	if err != nil {
		return false, err
	}

	candidate := argon2.IDKey([]byte(plaintext), salt, p.Iterations, p.Memory, p.Parallelism, uint32(len(digest)))

	return subtle.ConstantTimeCompare(candidate, digest) == 1, nil
}

// dummyHash is a fixed, never-matching Argon2id hash computed once at
// package init with DefaultParams, used by DummyVerify to burn the same
// CPU time as a real Verify call without needing a real stored hash.
var dummyHash string

func init() {
	h, err := HashWithParams("snas-dummy-verify-reference", DefaultParams())
	if err != nil {
		panic(fmt.Sprintf("hash: failed to compute dummy reference hash: %v", err))
	}
	dummyHash = h
}

// DummyVerify performs a full Argon2id computation against a fixed,
// unreachable reference hash. Callers use this to make the "unknown
// user" code path in authentication cost the same wall-clock time as a
// "wrong password for a known user" path; omitting this enables username
// enumeration via response timing.
func DummyVerify(plaintext string) {
	_, _ = Verify(plaintext, dummyHash)
}

// DummyVerifyWithParams is DummyVerify at cost p instead of DefaultParams:
// it verifies plaintext against a reference hash carrying p's parameters,
// a zero salt and an all-zero digest of p.KeyLength bytes, so it runs
// exactly one Argon2id computation, the same as a real Verify at cost p.
func DummyVerifyWithParams(plaintext string, p Params) {
	if p.SaltLength < minSaltLength {
		p.SaltLength = minSaltLength
	}
	reference := fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		p.Memory, p.Iterations, p.Parallelism,
		base64.RawStdEncoding.EncodeToString(make([]byte, p.SaltLength)),
		base64.RawStdEncoding.EncodeToString(make([]byte, p.KeyLength)),
	)
	_, _ = Verify(plaintext, reference)
}

func decode(encodedHash string) (Params, []byte, []byte, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return Params{}, nil, nil, errs.New(errs.CorruptRecord, "malformed password hash")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return Params{}, nil, nil, errs.Wrap(errs.CorruptRecord, "malformed password hash version", err)
	}
	if version != argon2.Version {
		return Params{}, nil, nil, errs.New(errs.CorruptRecord, "unsupported argon2 version")
	}

	var p Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Iterations, &p.Parallelism); err != nil {
		return Params{}, nil, nil, errs.Wrap(errs.CorruptRecord, "malformed password hash parameters", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return Params{}, nil, nil, errs.Wrap(errs.CorruptRecord, "malformed password hash salt", err)
	}

	digest, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return Params{}, nil, nil, errs.Wrap(errs.CorruptRecord, "malformed password hash digest", err)
	}

	return p, salt, digest, nil
}

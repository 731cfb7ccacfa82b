// Package store implements the credential store: a thin projection of
// user records onto a replicated KV bucket with optimistic concurrency,
// built on top of internal/codec for serialization and internal/hash
// for password hashing.
//
// Grounded on warren's pkg/storage.Store interface (a narrow
// contract in front of a swappable backend) and pkg/manager/fsm.go's
// apply-and-retry shape, generalized into a compare-and-swap retry loop
// for concurrent group/password mutations on the same user.
package store

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/cuemby/snas/internal/codec"
	"github.com/cuemby/snas/internal/errs"
	"github.com/cuemby/snas/internal/hash"
	"github.com/cuemby/snas/internal/log"
	"github.com/cuemby/snas/internal/metrics"
)

// KV is the minimal contract the credential store needs from a
// replicated key-value bucket: get-with-revision, create-if-absent,
// compare-and-swap update, delete, and key enumeration. The production
// implementation is backed by a NATS JetStream KV bucket (see
// kv_nats.go); kv_memory.go provides an in-process fake with identical
// CAS semantics for tests.
type KV interface {
	// Get returns the current value and revision for key, or
	// errs.NotFound if key is absent.
	Get(ctx context.Context, key string) ([]byte, uint64, error)
	// Create stores value under key only if key is currently absent,
	// returning errs.AlreadyExists otherwise.
	Create(ctx context.Context, key string, value []byte) (uint64, error)
	// Update stores value under key only if the current revision
	// equals revision, returning errs.Conflict on mismatch and
	// errs.NotFound if key is absent.
	Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error)
	// Delete removes key, returning errs.NotFound if already absent.
	Delete(ctx context.Context, key string) error
	// Keys lists every key currently present in the bucket.
	Keys(ctx context.Context) ([]string, error)
}

// Hasher is the password-hashing contract the store depends on. The
// default implementation wraps internal/hash with production Argon2id
// parameters; tests inject a low-cost Hasher to keep suites fast.
// DummyVerify must cost the same as Verify against a real hash produced
// by this Hasher, so callers authenticating an unknown username can
// burn equivalent time to a known-username wrong-password check.
type Hasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, encoded string) (bool, error)
	DummyVerify(plaintext string)
}

type defaultHasher struct{ params hash.Params }

func (h defaultHasher) Hash(plaintext string) (string, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.HashDuration)
	return hash.HashWithParams(plaintext, h.params)
}

func (defaultHasher) Verify(plaintext, encoded string) (bool, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.HashDuration)
	return hash.Verify(plaintext, encoded)
}

func (h defaultHasher) DummyVerify(plaintext string) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.HashDuration)
	hash.DummyVerifyWithParams(plaintext, h.params)
}

// NewDefaultHasher returns a Hasher using production Argon2id parameters.
func NewDefaultHasher() Hasher {
	return defaultHasher{params: hash.DefaultParams()}
}

// VersionedRecord pairs a decoded user record with the opaque revision
// the backend returned alongside it.
type VersionedRecord struct {
	Record   codec.Record
	Revision uint64
}

// Mutator transforms the current record into its next state. Mutators
// must be pure: the store may invoke one multiple times under
// contention before a write succeeds.
type Mutator func(codec.Record) (codec.Record, error)

// RetryConfig bounds the compare-and-swap retry loop in Update.
type RetryConfig struct {
	MaxAttempts  int
	BaseBackoff  time.Duration
	TotalBudget  time.Duration
}

// DefaultRetryConfig gives Update 5 attempts at exponential backoff
// with jitter, bounded to 100ms total: enough headroom to ride out a
// handful of concurrent writers on the same user without leaving a
// caller waiting noticeably longer than a single successful write.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 5, BaseBackoff: 2 * time.Millisecond, TotalBudget: 100 * time.Millisecond}
}

// Store is the credential store: CRUD over a KV bucket of codec-encoded
// user records, with an optimistic-concurrency retry loop for mutation.
type Store struct {
	kv     KV
	hasher Hasher
	retry  RetryConfig
}

// New constructs a Store over kv using hasher for password hashing and
// the default retry budget.
func New(kv KV, hasher Hasher) *Store {
	return &Store{kv: kv, hasher: hasher, retry: DefaultRetryConfig()}
}

// WithRetryConfig returns a copy of s using the given retry budget.
func (s *Store) WithRetryConfig(rc RetryConfig) *Store {
	clone := *s
	clone.retry = rc
	return &clone
}

// Get returns the current versioned record for username.
func (s *Store) Get(ctx context.Context, username string) (VersionedRecord, error) {
	raw, rev, err := s.kv.Get(ctx, username)
	if err != nil {
		return VersionedRecord{}, err
	}
	rec, err := codec.Decode(raw)
	if err != nil {
		return VersionedRecord{}, err
	}
	return VersionedRecord{Record: rec, Revision: rev}, nil
}

// Create stores a new user record with a freshly hashed password. It
// fails with errs.AlreadyExists if username is already present.
func (s *Store) Create(ctx context.Context, username, password string, groups []string, needsReset bool) error {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDurationVec(metrics.StoreOperationDuration, "create")
		logSlowOperation("create", timer.Duration())
	}()

	err := s.create(ctx, username, password, groups, needsReset)
	recordStoreResult("create", err)
	if err == nil {
		s.refreshUserCount(ctx)
	}
	return err
}

func (s *Store) create(ctx context.Context, username, password string, groups []string, needsReset bool) error {
	if username == "" {
		return errs.New(errs.InvalidInput, "username must not be empty")
	}
	if password == "" {
		return errs.New(errs.InvalidInput, "password must not be empty")
	}

	hashed, err := s.hasher.Hash(password)
	if err != nil {
		return errs.Wrap(errs.Backend, "hashing password", err)
	}

	rec := codec.Record{
		Username:           username,
		PasswordHash:       []byte(hashed),
		Groups:             dedupe(groups),
		NeedsPasswordReset: needsReset,
	}

	_, err = s.kv.Create(ctx, username, codec.Encode(rec))
	return err
}

// Delete removes username's record. It fails with errs.NotFound if
// already absent.
func (s *Store) Delete(ctx context.Context, username string) error {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDurationVec(metrics.StoreOperationDuration, "delete")
		logSlowOperation("delete", timer.Duration())
	}()

	err := s.kv.Delete(ctx, username)
	recordStoreResult("delete", err)
	if err == nil {
		s.refreshUserCount(ctx)
	}
	return err
}

// slowOperationThreshold is well above the latency a healthy KV backend
// should ever add on top of hashing; crossing it is a signal worth a
// log line rather than silent accumulation in a histogram bucket.
const slowOperationThreshold = 500 * time.Millisecond

func logSlowOperation(op string, d time.Duration) {
	if d > slowOperationThreshold {
		log.Warn(fmt.Sprintf("store: %s took %s", op, d))
	}
}

// refreshUserCount updates the users-total gauge after a membership
// change. Best-effort: a failed recount leaves the previous value in
// place rather than failing the caller's mutation.
func (s *Store) refreshUserCount(ctx context.Context) {
	if keys, err := s.kv.Keys(ctx); err == nil {
		metrics.UsersTotal.Set(float64(len(keys)))
	}
}

func recordStoreResult(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.StoreOperationsTotal.WithLabelValues(op, result).Inc()
}

// List returns every username currently stored.
func (s *Store) List(ctx context.Context) ([]string, error) {
	return s.kv.Keys(ctx)
}

// Update reads the current record, applies mutate to produce the next
// state, and writes it back conditional on the revision observed at
// read time. On a revision conflict it retries with bounded,
// exponential-with-jitter backoff; after the retry budget it returns
// errs.Conflict. Errors returned by mutate itself (e.g. validation
// failures) propagate immediately without retry.
func (s *Store) Update(ctx context.Context, username string, mutate Mutator) (codec.Record, error) {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDurationVec(metrics.StoreOperationDuration, "update")
		logSlowOperation("update", timer.Duration())
	}()

	rec, err := s.update(ctx, username, mutate)
	recordStoreResult("update", err)
	return rec, err
}

func (s *Store) update(ctx context.Context, username string, mutate Mutator) (codec.Record, error) {
	deadline := time.Now().Add(s.retry.TotalBudget)

	var lastErr error
	for attempt := 0; attempt < s.retry.MaxAttempts; attempt++ {
		current, err := s.Get(ctx, username)
		if err != nil {
			return codec.Record{}, err
		}

		next, err := mutate(current.Record)
		if err != nil {
			return codec.Record{}, err
		}

		_, err = s.kv.Update(ctx, username, codec.Encode(next), current.Revision)
		if err == nil {
			return next, nil
		}
		if !errs.Is(err, errs.Conflict) {
			return codec.Record{}, err
		}
		lastErr = err
		metrics.StoreConflictRetriesTotal.Inc()

		if attempt == s.retry.MaxAttempts-1 {
			break
		}
		if err := sleepWithJitter(ctx, backoffFor(attempt, s.retry.BaseBackoff), deadline); err != nil {
			return codec.Record{}, err
		}
	}

	return codec.Record{}, errs.Wrap(errs.Conflict, "update retry budget exhausted", lastErr)
}

func backoffFor(attempt int, base time.Duration) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
	}
	return d
}

// sleepWithJitter sleeps a random fraction of [0, d), capped so the
// cumulative retry loop never runs past deadline, and returns early
// with ctx.Err() if ctx is cancelled first.
func sleepWithJitter(ctx context.Context, d time.Duration, deadline time.Time) error {
	wait := jitterFraction(d)
	if remaining := time.Until(deadline); wait > remaining {
		wait = remaining
	}
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func dedupe(groups []string) []string {
	seen := make(map[string]struct{}, len(groups))
	out := make([]string, 0, len(groups))
	for _, g := range groups {
		if _, ok := seen[g]; ok {
			continue
		}
		seen[g] = struct{}{}
		out = append(out, g)
	}
	return out
}

// jitterFraction returns a random duration in [0, d) using the crypto
// RNG, avoiding math/rand's global lock under heavy concurrent retry.
func jitterFraction(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(d)))
	if err != nil {
		return 0
	}
	return time.Duration(n.Int64())
}

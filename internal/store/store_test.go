package store

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/cuemby/snas/internal/codec"
	"github.com/cuemby/snas/internal/errs"
	"github.com/cuemby/snas/internal/hash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fastHasher struct{}

func (fastHasher) Hash(plaintext string) (string, error) {
	return hash.HashWithParams(plaintext, hash.Params{Memory: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 16})
}

func (fastHasher) Verify(plaintext, encoded string) (bool, error) {
	return hash.Verify(plaintext, encoded)
}

func (fastHasher) DummyVerify(plaintext string) {
	hash.DummyVerifyWithParams(plaintext, hash.Params{Memory: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 16})
}

func newTestStore() *Store {
	return New(NewMemoryKV(), fastHasher{})
}

func TestCreateAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	err := s.Create(ctx, "alice", "supersecure", []string{"testers", "testers"}, false)
	require.NoError(t, err)

	vr, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", vr.Record.Username)
	assert.Equal(t, []string{"testers"}, vr.Record.Groups, "duplicate groups must collapse")
	assert.False(t, vr.Record.NeedsPasswordReset)

	ok, err := fastHasher{}.Verify("supersecure", string(vr.Record.PasswordHash))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCreateRejectsDuplicateUsername(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	require.NoError(t, s.Create(ctx, "alice", "pw", nil, false))
	err := s.Create(ctx, "alice", "pw2", nil, false)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.AlreadyExists))
}

func TestCreateRejectsEmptyInputs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	err := s.Create(ctx, "", "pw", nil, false)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.InvalidInput))

	err = s.Create(ctx, "alice", "", nil, false)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.InvalidInput))
}

func TestGetMissingUserReturnsNotFound(t *testing.T) {
	_, err := newTestStore().Get(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.NotFound))
}

func TestDeleteTwiceReturnsNotFoundNeverPanics(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	require.NoError(t, s.Create(ctx, "alice", "pw", nil, false))

	require.NoError(t, s.Delete(ctx, "alice"))

	err := s.Delete(ctx, "alice")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.NotFound))
}

func TestListReturnsAllUsernames(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	require.NoError(t, s.Create(ctx, "alice", "pw", nil, false))
	require.NoError(t, s.Create(ctx, "bob", "pw", nil, false))

	usernames, err := s.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, usernames)
}

func TestUpdateAppliesMutator(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	require.NoError(t, s.Create(ctx, "alice", "pw", []string{"testers"}, false))

	_, err := s.Update(ctx, "alice", func(r codec.Record) (codec.Record, error) {
		r.NeedsPasswordReset = true
		return r, nil
	})
	require.NoError(t, err)

	vr, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, vr.Record.NeedsPasswordReset)
}

func TestUpdateOnMissingUserReturnsNotFound(t *testing.T) {
	_, err := newTestStore().Update(context.Background(), "ghost", func(r codec.Record) (codec.Record, error) {
		return r, nil
	})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.NotFound))
}

func TestUpdatePropagatesMutatorErrorWithoutRetry(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	require.NoError(t, s.Create(ctx, "alice", "pw", nil, false))

	sentinel := errs.New(errs.InvalidInput, "bad mutation")
	_, err := s.Update(ctx, "alice", func(r codec.Record) (codec.Record, error) {
		return codec.Record{}, sentinel
	})
	assert.Same(t, sentinel, err)
}

// TestConcurrentGroupAdditionsAllSurvive exercises the CAS retry loop
// under genuine contention: 32 goroutines each add a distinct group
// concurrently; the retry budget must let every one of them land.
func TestConcurrentGroupAdditionsAllSurvive(t *testing.T) {
	ctx := context.Background()
	s := newTestStore().WithRetryConfig(RetryConfig{MaxAttempts: 50, BaseBackoff: 1e6, TotalBudget: 1e9})
	require.NoError(t, s.Create(ctx, "alice", "pw", nil, false))

	const n = 32
	var wg sync.WaitGroup
	errCh := make(chan error, n)
	for i := 0; i < n; i++ {
		group := fmt.Sprintf("g%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update(ctx, "alice", func(r codec.Record) (codec.Record, error) {
				r.Groups = addGroup(r.Groups, group)
				return r, nil
			})
			errCh <- err
		}()
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		assert.NoError(t, err)
	}

	vr, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, vr.Record.Groups, n)
}

func addGroup(groups []string, g string) []string {
	for _, existing := range groups {
		if existing == g {
			return groups
		}
	}
	return append(groups, g)
}

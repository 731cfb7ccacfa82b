package store

import (
	"context"
	"errors"
	"strings"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/cuemby/snas/internal/errs"
)

// NatsKV implements KV over a NATS JetStream key-value bucket. It is
// the production backend: the bucket's own compare-and-swap semantics
// provide the atomicity a concurrent Update retry loop needs, so NatsKV
// performs no locking of its own.
type NatsKV struct {
	kv jetstream.KeyValue
}

// OpenBucket creates (if absent) or opens the named JetStream KV bucket
// and returns a NatsKV over it. replicas controls the bucket's
// replication factor; pass 1 for a single-node deployment.
func OpenBucket(ctx context.Context, js jetstream.JetStream, bucket string, replicas int) (*NatsKV, error) {
	kv, err := js.KeyValue(ctx, bucket)
	if err != nil {
		if errors.Is(err, jetstream.ErrBucketNotFound) {
			kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
				Bucket:   bucket,
				Replicas: replicas,
			})
			if err != nil {
				return nil, errs.Wrap(errs.Backend, "creating kv bucket "+bucket, err)
			}
			return &NatsKV{kv: kv}, nil
		}
		return nil, errs.Wrap(errs.Backend, "opening kv bucket "+bucket, err)
	}
	return &NatsKV{kv: kv}, nil
}

func (n *NatsKV) Get(ctx context.Context, key string) ([]byte, uint64, error) {
	entry, err := n.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, 0, errs.New(errs.NotFound, "key not found: "+key)
		}
		return nil, 0, errs.Wrap(errs.Backend, "getting key "+key, err)
	}
	return entry.Value(), entry.Revision(), nil
}

func (n *NatsKV) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	rev, err := n.kv.Create(ctx, key, value)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return 0, errs.New(errs.AlreadyExists, "key already exists: "+key)
		}
		return 0, errs.Wrap(errs.Backend, "creating key "+key, err)
	}
	return rev, nil
}

func (n *NatsKV) Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	rev, err := n.kv.Update(ctx, key, value, revision)
	if err != nil {
		if isRevisionConflict(err) {
			return 0, errs.New(errs.Conflict, "revision mismatch for key "+key)
		}
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return 0, errs.New(errs.NotFound, "key not found: "+key)
		}
		return 0, errs.Wrap(errs.Backend, "updating key "+key, err)
	}
	return rev, nil
}

func (n *NatsKV) Delete(ctx context.Context, key string) error {
	// Confirm existence first: JetStream KV Delete is an upsert of a
	// deletion marker and otherwise succeeds silently on an absent key,
	// but callers need to distinguish "deleted" from "there was nothing
	// to delete", so this surfaces errs.NotFound instead.
	if _, err := n.kv.Get(ctx, key); err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return errs.New(errs.NotFound, "key not found: "+key)
		}
		return errs.Wrap(errs.Backend, "checking key before delete "+key, err)
	}

	if err := n.kv.Delete(ctx, key); err != nil {
		return errs.Wrap(errs.Backend, "deleting key "+key, err)
	}
	return nil
}

func (n *NatsKV) Keys(ctx context.Context) ([]string, error) {
	lister, err := n.kv.ListKeys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.Backend, "listing keys", err)
	}

	var keys []string
	for k := range lister.Keys() {
		keys = append(keys, k)
	}
	return keys, nil
}

// isRevisionConflict reports whether err is JetStream's wrong-last-
// revision error. The jetstream package does not always expose a typed
// sentinel for this across versions, so we fall back to matching the
// server's well-known error text alongside the typed check.
func isRevisionConflict(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	return strings.Contains(err.Error(), "wrong last sequence")
}

package handler

import (
	"context"

	"github.com/cuemby/snas/internal/codec"
	"github.com/cuemby/snas/internal/errs"
	"github.com/cuemby/snas/internal/metrics"
	"github.com/cuemby/snas/internal/store"
)

// authFailedMessage is the single fixed string returned for every
// user-visible authentication failure, so it never discloses whether a
// username exists or a password was merely wrong.
const authFailedMessage = "invalid credentials"

// VerifyResult is the outcome of User.Verify.
type VerifyResult struct {
	Valid              bool
	NeedsPasswordReset bool
	Groups             []string
	Message            string
}

// User implements the credential operations a logged-in end user needs:
// verifying a password and changing their own, as opposed to the
// administrative operations Admin exposes.
type User struct {
	store  *store.Store
	hasher store.Hasher
}

// NewUser constructs a User handler over store using hasher for
// verification and password changes.
func NewUser(s *store.Store, hasher store.Hasher) *User {
	return &User{store: s, hasher: hasher}
}

// Verify checks username/password. It never reveals whether username
// exists: an unknown user and a wrong password both yield the same
// {Valid: false, Message: authFailedMessage}, after performing a dummy
// hash computation on the unknown-user path so response timing does
// not distinguish the two cases. Only a successful match populates
// Groups and NeedsPasswordReset.
func (u *User) Verify(ctx context.Context, username, password string) (VerifyResult, error) {
	result, err := u.verify(ctx, username, password)
	if err == nil {
		label := "failure"
		if result.Valid {
			label = "success"
		}
		metrics.AuthVerifyTotal.WithLabelValues(label).Inc()
	}
	return result, err
}

func (u *User) verify(ctx context.Context, username, password string) (VerifyResult, error) {
	vr, err := u.store.Get(ctx, username)
	if err != nil {
		if errs.Is(err, errs.NotFound) {
			u.hasher.DummyVerify(password)
			return VerifyResult{Valid: false, Message: authFailedMessage}, nil
		}
		return VerifyResult{}, err
	}

	ok, err := u.hasher.Verify(password, string(vr.Record.PasswordHash))
	if err != nil {
		if errs.Is(err, errs.CorruptRecord) {
			return VerifyResult{}, err
		}
		return VerifyResult{}, errs.Wrap(errs.Backend, "verifying password", err)
	}
	if !ok {
		return VerifyResult{Valid: false, Message: authFailedMessage}, nil
	}

	return VerifyResult{
		Valid:              true,
		NeedsPasswordReset: vr.Record.NeedsPasswordReset,
		Groups:             vr.Record.Groups,
	}, nil
}

// ChangePassword requires oldPassword to verify against the stored
// hash, then sets newPassword and clears needs_password_reset.
// Rejects an empty newPassword and a newPassword identical to
// oldPassword as errs.InvalidInput: this is a hard rule, not a
// configurable policy, since allowing a no-op "change" would let a
// caller clear needs_password_reset without actually rotating the
// credential. A verification failure returns errs.AuthFailed with the
// same fixed message as Verify, never distinguishing "unknown user"
// from "wrong password".
func (u *User) ChangePassword(ctx context.Context, username, oldPassword, newPassword string) error {
	if newPassword == "" {
		return errs.New(errs.InvalidInput, "new password must not be empty")
	}
	if newPassword == oldPassword {
		return errs.New(errs.InvalidInput, "new password must differ from the current password")
	}

	verifyResult, err := u.Verify(ctx, username, oldPassword)
	if err != nil {
		return err
	}
	if !verifyResult.Valid {
		return errs.New(errs.AuthFailed, authFailedMessage)
	}

	hashed, err := u.hasher.Hash(newPassword)
	if err != nil {
		return errs.Wrap(errs.Backend, "hashing password", err)
	}

	_, err = u.store.Update(ctx, username, func(r codec.Record) (codec.Record, error) {
		r.PasswordHash = []byte(hashed)
		r.NeedsPasswordReset = false
		return r, nil
	})
	return err
}

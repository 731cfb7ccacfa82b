// Package handler implements the transport-independent admin and user
// operations. Handlers take and return plain values; they know nothing
// about NATS subjects or socket framing, so they are testable without
// either transport running.
//
// Grounded on warren's pkg/manager.Manager: a pure orchestration
// layer that calls into a storage interface and returns plain
// results, leaving transport concerns (gRPC there, NATS/socket here)
// to a separate package.
package handler

import (
	"context"

	"github.com/cuemby/snas/internal/codec"
	"github.com/cuemby/snas/internal/errs"
	"github.com/cuemby/snas/internal/store"
)

// Limits bounds admin input sizes.
type Limits struct {
	MaxUsernameLen int
	MaxPasswordLen int
}

// DefaultLimits returns generous but finite bounds: long enough for any
// realistic username or password, short enough to keep a malicious
// caller from parking an unbounded string in the store.
func DefaultLimits() Limits {
	return Limits{MaxUsernameLen: 64, MaxPasswordLen: 1024}
}

// Admin implements the administrative operations: creating, deleting,
// and inspecting users, and editing their group memberships and
// passwords on an operator's behalf.
type Admin struct {
	store  *store.Store
	hasher store.Hasher
	limits Limits
}

// NewAdmin constructs an Admin handler over store using hasher for
// operator-issued password changes and the given input-size limits.
func NewAdmin(s *store.Store, hasher store.Hasher, limits Limits) *Admin {
	return &Admin{store: s, hasher: hasher, limits: limits}
}

// UserView is a user record with the password hash stripped, returned
// by Get and the group-editing operations — a password hash must never
// cross a transport boundary, even to an authenticated administrator.
type UserView struct {
	Username           string
	Groups             []string
	NeedsPasswordReset bool
}

func viewOf(username string, r codec.Record) UserView {
	return UserView{Username: username, Groups: r.Groups, NeedsPasswordReset: r.NeedsPasswordReset}
}

func (a *Admin) validateUsername(username string) error {
	if username == "" {
		return errs.New(errs.InvalidInput, "username must not be empty")
	}
	if len(username) > a.limits.MaxUsernameLen {
		return errs.New(errs.InvalidInput, "username exceeds maximum length")
	}
	return nil
}

func (a *Admin) validatePassword(password string) error {
	if password == "" {
		return errs.New(errs.InvalidInput, "password must not be empty")
	}
	if len(password) > a.limits.MaxPasswordLen {
		return errs.New(errs.InvalidInput, "password exceeds maximum length")
	}
	return nil
}

// Add creates a new user. Returns errs.AlreadyExists if username is
// taken, errs.InvalidInput on bad arguments.
func (a *Admin) Add(ctx context.Context, username, password string, groups []string, forceReset bool) error {
	if err := a.validateUsername(username); err != nil {
		return err
	}
	if err := a.validatePassword(password); err != nil {
		return err
	}
	return a.store.Create(ctx, username, password, groups, forceReset)
}

// Delete removes username. Returns errs.NotFound if absent.
func (a *Admin) Delete(ctx context.Context, username string) error {
	return a.store.Delete(ctx, username)
}

// List returns every username in the store.
func (a *Admin) List(ctx context.Context) ([]string, error) {
	return a.store.List(ctx)
}

// Get returns username's record without its password hash. Returns
// errs.NotFound if absent.
func (a *Admin) Get(ctx context.Context, username string) (UserView, error) {
	vr, err := a.store.Get(ctx, username)
	if err != nil {
		return UserView{}, err
	}
	return viewOf(username, vr.Record), nil
}

// AddGroups adds groups to username's membership. Set-semantic: adding
// an already-present group is a no-op that still succeeds.
func (a *Admin) AddGroups(ctx context.Context, username string, groups []string) (UserView, error) {
	rec, err := a.store.Update(ctx, username, func(r codec.Record) (codec.Record, error) {
		r.Groups = unionGroups(r.Groups, groups)
		return r, nil
	})
	if err != nil {
		return UserView{}, err
	}
	return viewOf(username, rec), nil
}

// RemoveGroups removes groups from username's membership. Set-semantic:
// removing an absent group is a no-op that still succeeds.
func (a *Admin) RemoveGroups(ctx context.Context, username string, groups []string) (UserView, error) {
	rec, err := a.store.Update(ctx, username, func(r codec.Record) (codec.Record, error) {
		r.Groups = subtractGroups(r.Groups, groups)
		return r, nil
	})
	if err != nil {
		return UserView{}, err
	}
	return viewOf(username, rec), nil
}

// SetPassword sets username's password to newPassword, optionally
// forcing a reset flag. Used by administrators to issue a new password
// directly (distinct from the user-initiated ChangePassword in user.go,
// which additionally requires the old password).
func (a *Admin) SetPassword(ctx context.Context, username, newPassword string, forceReset bool) error {
	if err := a.validatePassword(newPassword); err != nil {
		return err
	}

	hashed, err := a.hasher.Hash(newPassword)
	if err != nil {
		return errs.Wrap(errs.Backend, "hashing password", err)
	}

	_, err = a.store.Update(ctx, username, func(r codec.Record) (codec.Record, error) {
		r.PasswordHash = []byte(hashed)
		r.NeedsPasswordReset = forceReset
		return r, nil
	})
	return err
}

// ForceReset sets username's needs_password_reset flag to true.
func (a *Admin) ForceReset(ctx context.Context, username string) error {
	_, err := a.store.Update(ctx, username, func(r codec.Record) (codec.Record, error) {
		r.NeedsPasswordReset = true
		return r, nil
	})
	return err
}

func unionGroups(current, add []string) []string {
	present := make(map[string]struct{}, len(current))
	out := append([]string(nil), current...)
	for _, g := range current {
		present[g] = struct{}{}
	}
	for _, g := range add {
		if _, ok := present[g]; ok {
			continue
		}
		present[g] = struct{}{}
		out = append(out, g)
	}
	return out
}

func subtractGroups(current, remove []string) []string {
	drop := make(map[string]struct{}, len(remove))
	for _, g := range remove {
		drop[g] = struct{}{}
	}
	out := make([]string, 0, len(current))
	for _, g := range current {
		if _, ok := drop[g]; ok {
			continue
		}
		out = append(out, g)
	}
	return out
}

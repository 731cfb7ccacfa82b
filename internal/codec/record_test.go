package codec

import (
	"testing"

	"github.com/cuemby/snas/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		record Record
	}{
		{
			name: "basic record",
			record: Record{
				Username:           "alice",
				PasswordHash:       []byte("$argon2id$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA"),
				Groups:             []string{"admins", "testers"},
				NeedsPasswordReset: false,
			},
		},
		{
			name: "no groups",
			record: Record{
				Username:           "bob",
				PasswordHash:       []byte("hash"),
				Groups:             nil,
				NeedsPasswordReset: true,
			},
		},
		{
			name: "empty password hash and groups with empty strings",
			record: Record{
				Username:           "carol",
				PasswordHash:       []byte{},
				Groups:             []string{"", "a"},
				NeedsPasswordReset: false,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := Encode(tt.record)
			decoded, err := Decode(encoded)
			require.NoError(t, err)
			assert.Equal(t, tt.record.Username, decoded.Username)
			assert.Equal(t, tt.record.PasswordHash, decoded.PasswordHash)
			// Decode always returns a non-nil slice, so an empty or nil
			// group list comes back as an empty one.
			if len(tt.record.Groups) == 0 {
				assert.Empty(t, decoded.Groups)
			} else {
				assert.Equal(t, tt.record.Groups, decoded.Groups)
			}
			assert.Equal(t, tt.record.NeedsPasswordReset, decoded.NeedsPasswordReset)
		})
	}
}

func TestDecodeRejectsUnknownVersion(t *testing.T) {
	encoded := Encode(Record{Username: "alice", PasswordHash: []byte("hash")})
	// Bump the version tag one past what this codec understands.
	corrupted := append([]byte(nil), encoded...)
	corrupted[0] = formatVersion1 + 1

	_, err := Decode(corrupted)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.CorruptRecord))
}

func TestDecodeRejectsTruncatedPayload(t *testing.T) {
	encoded := Encode(Record{Username: "alice", PasswordHash: []byte("hash"), Groups: []string{"g1"}})

	_, err := Decode(encoded[:len(encoded)-2])
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.CorruptRecord))
}

func TestDecodeRejectsEmptyInput(t *testing.T) {
	_, err := Decode(nil)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.CorruptRecord))
}

func TestDecodeRejectsInvalidResetFlag(t *testing.T) {
	encoded := Encode(Record{Username: "alice", PasswordHash: []byte("hash")})
	encoded[len(encoded)-1] = 7

	_, err := Decode(encoded)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.CorruptRecord))
}

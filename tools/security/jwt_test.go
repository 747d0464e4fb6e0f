package security

import (
	"errors"
	"testing"
	"time"

	"PPLive/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateVerify(t *testing.T) {
	opts := DefaultOptions([]byte("test-secret"))
	tok, exp, err := Generate(opts, "u1", "Alice", []string{"live"})
	require.NoError(t, err)
	assert.True(t, exp.After(time.Now()))

	id, err := Verify(opts, tok)
	require.NoError(t, err)
	assert.Equal(t, "u1", id.UserID)
	assert.Equal(t, "Alice", id.DisplayName)
	assert.Equal(t, []string{"live"}, id.Scopes)
}

func TestVerifyRejects(t *testing.T) {
	opts := DefaultOptions([]byte("test-secret"))
	tok, _, err := Generate(opts, "u1", "", nil)
	require.NoError(t, err)

	tests := []struct {
		name  string
		opts  Options
		token string
		want  error
	}{
		{"wrong secret", DefaultOptions([]byte("other")), tok, errs.ErrTokenInvalid},
		{"garbage", opts, "not-a-token", errs.ErrTokenInvalid},
		{"bad alg", Options{Secret: opts.Secret, Alg: "RS256"}, tok, errs.ErrArgs},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Verify(tt.opts, tt.token)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestVerifyExpired(t *testing.T) {
	// exp is second precision, so a 1ns TTL is expired once the second rolls over
	opts := Options{Secret: []byte("s"), TTL: time.Nanosecond}
	tok, _, err := Generate(opts, "u1", "", nil)
	require.NoError(t, err)
	time.Sleep(1100 * time.Millisecond)

	_, err = Verify(opts, tok)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrTokenExpired))
	assert.True(t, errors.Is(err, errs.ErrTokenInvalid))
}

func TestGenerateEmptyUser(t *testing.T) {
	_, _, err := Generate(DefaultOptions([]byte("s")), "", "", nil)
	assert.True(t, errors.Is(err, errs.ErrArgs))
}

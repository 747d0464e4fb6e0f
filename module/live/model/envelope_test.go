package model

import (
	"errors"
	"testing"

	"PPLive/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeDecode(t *testing.T) {
	env, err := NewEnvelope(TypeMessage, "a", MessageData{Content: "hi"})
	require.NoError(t, err)
	env.SessionID = "R1"
	env.TempID = "t1"

	raw, err := env.Marshal()
	require.NoError(t, err)

	got, err := UnmarshalEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, TypeMessage, got.Type)
	assert.Equal(t, "R1", got.SessionID)
	assert.Equal(t, "t1", got.TempID)
	assert.NotZero(t, got.Timestamp)

	var data MessageData
	require.NoError(t, got.Decode(&data))
	assert.Equal(t, "hi", data.Content)
}

func TestUnmarshalEnvelopeRejects(t *testing.T) {
	for _, in := range []string{`{`, `{"data":{}}`} {
		_, err := UnmarshalEnvelope([]byte(in))
		assert.True(t, errors.Is(err, errs.ErrArgs), in)
	}
	var d MessageData
	assert.Error(t, (&Envelope{Type: TypeMessage}).Decode(&d))
}

func TestDurable(t *testing.T) {
	durable := map[EnvelopeType]bool{
		TypeMessage: true, TypeReaction: true, TypeRead: true, TypeDelete: true,
		TypeTyping: false, TypePresenceJoin: false, TypePresenceLeave: false,
	}
	for typ, want := range durable {
		assert.Equal(t, want, typ.Durable(), string(typ))
	}
}

func TestErrorEnvelope(t *testing.T) {
	env := ErrorEnvelope("a", "R1", "t1", errs.ErrTimeout.WrapMsg("append message"))
	var data ErrorData
	require.NoError(t, env.Decode(&data))
	assert.Equal(t, errs.TimeoutError, data.Code)
	assert.Equal(t, "t1", env.TempID)
	assert.Equal(t, TypeError, env.Type)
}

func TestParseRole(t *testing.T) {
	assert.Equal(t, RoleHost, ParseRole("host"))
	assert.Equal(t, RoleViewer, ParseRole(""))
	assert.Equal(t, RoleViewer, ParseRole("admin"))
}

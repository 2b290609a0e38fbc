package handler

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterLookupFreeze(t *testing.T) {
	r := NewRegistry()

	echo := HandlerFunc(func(_ context.Context, payload json.RawMessage) (any, error) {
		return string(payload), nil
	})

	require.NoError(t, r.Register("echo", echo))

	h, ok := r.Lookup("echo")
	require.True(t, ok)

	result, err := h.Invoke(context.Background(), json.RawMessage(`"hi"`))
	require.NoError(t, err)
	assert.Equal(t, `"hi"`, result)

	_, ok = r.Lookup("missing")
	assert.False(t, ok)
}

func TestRegistry_RegisterAfterFreezeFails(t *testing.T) {
	r := NewRegistry()
	r.Freeze()

	err := r.Register("late", HandlerFunc(func(context.Context, json.RawMessage) (any, error) {
		return nil, nil
	}))
	require.Error(t, err)
}

func TestGenericWebhook_NormalizesPayload(t *testing.T) {
	payload := json.RawMessage(`{"args":["github", {"id": 42, "action": "opened"}]}`)

	result, err := GenericWebhook.Invoke(context.Background(), payload)
	require.NoError(t, err)

	wr, ok := result.(webhookResult)
	require.True(t, ok)
	assert.Equal(t, "github", wr.Source)
	assert.Equal(t, "42", wr.EventID)
	assert.Equal(t, []string{"action", "id"}, wr.PayloadKeys)
}

func TestGenericWebhook_RejectsMissingArgs(t *testing.T) {
	_, err := GenericWebhook.Invoke(context.Background(), json.RawMessage(`{"args":["only-source"]}`))
	require.Error(t, err)
}

package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJSONRequest(body string) *http.Request {
	return httptest.NewRequest(http.MethodPost, "/webhooks/github", strings.NewReader(body))
}

func TestDecodeJSONObject_AcceptsObject(t *testing.T) {
	obj, err := decodeJSONObject(newJSONRequest(`{"id": "evt-1", "x": 1}`), 1<<20)
	require.NoError(t, err)
	assert.Equal(t, "evt-1", obj["id"])
}

func TestDecodeJSONObject_RejectsArray(t *testing.T) {
	_, err := decodeJSONObject(newJSONRequest(`[1, 2, 3]`), 1<<20)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errPayloadMustBeObject))
}

func TestDecodeJSONObject_RejectsInvalidJSON(t *testing.T) {
	_, err := decodeJSONObject(newJSONRequest(`not json`), 1<<20)
	require.Error(t, err)
}

func TestDecodeJSONObject_RejectsOversizedBody(t *testing.T) {
	_, err := decodeJSONObject(newJSONRequest(`{"padding": "aaaaaaaaaa"}`), 4)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errPayloadTooLarge))
}

func TestDecodeJSONObject_IgnoresLeadingWhitespace(t *testing.T) {
	obj, err := decodeJSONObject(newJSONRequest("   \n\t {\"id\": \"evt-2\"}"), 1<<20)
	require.NoError(t, err)
	assert.Equal(t, "evt-2", obj["id"])
}

package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidateRoundTrip(t *testing.T) {
	ring := NewKeyring()

	key, full, err := ring.Generate("front-desk")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(full, "sgk_"))
	require.Len(t, key.KeyID, 16)

	got, err := ring.Validate(full)
	require.NoError(t, err)
	require.Equal(t, "front-desk", got.Name)
}

func TestValidateRejectsBadKeys(t *testing.T) {
	ring := NewKeyring()
	_, full, err := ring.Generate("ops")
	require.NoError(t, err)

	cases := []string{
		"",
		"sgk_",
		"sgk_nosuchid.deadbeef",
		strings.Replace(full, "sgk_", "api_", 1),
		full + "0",
	}
	for _, bad := range cases {
		_, err := ring.Validate(bad)
		require.ErrorIs(t, err, ErrInvalidKey, "key %q", bad)
	}
}

func TestParseKeyringRoundTrip(t *testing.T) {
	ring := NewKeyring()
	key, full, err := ring.Generate("night-shift")
	require.NoError(t, err)

	loaded, err := ParseKeyring(key.EnvEntry() + " , ")
	require.NoError(t, err)

	got, err := loaded.Validate(full)
	require.NoError(t, err)
	require.Equal(t, key.KeyID, got.KeyID)
	require.Equal(t, "night-shift", got.Name)
}

func TestParseKeyringRejectsMalformedEntries(t *testing.T) {
	_, err := ParseKeyring("justanid")
	require.Error(t, err)

	_, err = ParseKeyring(":hashonly")
	require.Error(t, err)
}

func TestMiddlewareEnforcesKeys(t *testing.T) {
	ring := NewKeyring()
	_, full, err := ring.Generate("ops")
	require.NoError(t, err)

	var seenName string
	handler := ring.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if key, ok := GetOperator(r.Context()); ok {
			seenName = key.Name
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	// No credentials.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/settings", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// Bearer token.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/settings", nil)
	req.Header.Set("Authorization", "Bearer "+full)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "ops", seenName)

	// X-Api-Key fallback.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/settings", nil)
	req.Header.Set("X-Api-Key", full)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestMiddlewareOpenWhenUnprovisioned(t *testing.T) {
	handler := NewKeyring().Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/settings", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
}

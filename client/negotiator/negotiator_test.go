package negotiator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	model "snapshot-service/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticToken string

func (s staticToken) Token(context.Context) (string, error) { return string(s), nil }

func writeEnvelope(w http.ResponseWriter, status, code int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"code":           code,
		"message":        message,
		"processingTime": 1,
		"data":           data,
	})
}

func TestClassify(t *testing.T) {
	body := func(code int, data string) []byte {
		return []byte(`{"code":` + itoa(code) + `,"message":"m","processingTime":0,"data":` + data + `}`)
	}

	_, err := Classify(http.StatusUnauthorized, []byte("not json"))
	assert.ErrorIs(t, err, ErrAuthRequired)

	_, err = Classify(http.StatusForbidden, body(codeQuotaExceeded, "null"))
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	_, err = Classify(http.StatusConflict, body(codeSessionNotWritable, "null"))
	assert.ErrorIs(t, err, ErrSessionNotWritable)

	_, err = Classify(http.StatusGone, body(codeGone, "null"))
	assert.ErrorIs(t, err, ErrSnapshotGone)

	_, err = Classify(http.StatusBadRequest, body(codeCapExceeded, `{"kind":"per_file","path":"a.bin","size_bytes":10,"limit_bytes":5}`))
	var capErr *model.CapExceededError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, "a.bin", capErr.Path)

	_, err = Classify(http.StatusConflict, body(codeReconciliation, `{"missing":["missing.png"]}`))
	var recErr *model.ReconciliationError
	require.ErrorAs(t, err, &recErr)
	assert.Equal(t, []string{"missing.png"}, recErr.Missing)

	_, err = Classify(http.StatusBadGateway, []byte("<html>bad gateway</html>"))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)

	data, err := Classify(http.StatusOK, body(codeSuccess, `{"id":"abc"}`))
	require.NoError(t, err)
	assert.Equal(t, "abc", data.Get("id").String())
}

func itoa(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestOpenSessionSendsBearer(t *testing.T) {
	var gotAuth string
	var gotBody model.OpenSessionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/snapshots", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		writeEnvelope(w, http.StatusOK, 0, "success", model.SessionInfo{ID: "s1", Status: model.SessionStatusCreating})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	c.SetTokenSource(staticToken("tok"))
	info, err := c.OpenSession(context.Background(), model.OpenSessionRequest{ExpiryDays: 3})
	require.NoError(t, err)
	assert.Equal(t, "s1", info.ID)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, 3, gotBody.ExpiryDays)
}

func TestAuthenticatedCallWithoutCredential(t *testing.T) {
	c := New("http://127.0.0.1:1", time.Second)
	_, err := c.OpenSession(context.Background(), model.OpenSessionRequest{})
	assert.ErrorIs(t, err, ErrAuthRequired)
}

func TestDestinationUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusUnauthorized, codeUnauthorized, "invalid or expired token", nil)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	c.SetTokenSource(staticToken("expired"))
	_, err := c.GetUploadDestination(context.Background(), "s1", model.DestinationRequest{Path: "a.js"})
	assert.True(t, errors.Is(err, ErrAuthRequired))
}

func TestFetchCapsAndIssueToken(t *testing.T) {
	expires := time.Date(2026, 5, 1, 11, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/config":
			assert.Empty(t, r.Header.Get("Authorization"))
			writeEnvelope(w, http.StatusOK, 0, "success", ServerConfig{
				Caps:              model.Caps{MaxFileBytes: 5, MaxTotalBytes: 10, MaxExpiryDays: 7},
				DefaultExpiryDays: 1,
			})
		case "/api/v1/auth/token":
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			if body["api_key"] != "k" {
				writeEnvelope(w, http.StatusUnauthorized, codeUnauthorized, "invalid api key", nil)
				return
			}
			writeEnvelope(w, http.StatusOK, 0, "success", map[string]interface{}{"token": "t", "expires_at": expires})
		}
	}))
	defer srv.Close()

	c := New(srv.URL+"/", time.Second)
	cfg, err := c.FetchCaps(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), cfg.Caps.MaxFileBytes)

	token, exp, err := c.IssueToken(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "t", token)
	assert.True(t, exp.Equal(expires))

	_, _, err = c.IssueToken(context.Background(), "wrong")
	assert.ErrorIs(t, err, ErrAuthRequired)
}

func TestProxyURL(t *testing.T) {
	c := New("https://snap.example/root/", time.Second)
	assert.Equal(t, "https://snap.example/root/api/v1/snapshots/s/files/a.js", c.ProxyURL("/api/v1/snapshots/s/files/a.js"))
	assert.Equal(t, "https://other/x", c.ProxyURL("https://other/x"))
}

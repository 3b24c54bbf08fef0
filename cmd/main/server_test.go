package main

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/CTAG07/Lyrebird/pkg/markov"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (e *testEnv) publicRequest(t *testing.T, method, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, path, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rr := httptest.NewRecorder()
	e.server.publicMux.ServeHTTP(rr, req)
	return rr
}

func TestFrontEndPages(t *testing.T) {
	env := newTestEnv(t, nil)

	cases := []struct {
		method, path string
		status       int
		body         string
	}{
		{http.MethodGet, "/", http.StatusOK, "[Home] index"},
		{http.MethodGet, "/index", http.StatusOK, "[Home] index"},
		{http.MethodGet, "/about", http.StatusOK, "[About] about"},
		{http.MethodPost, "/about", http.StatusOK, "[About] about"},
		{http.MethodGet, "/missing", http.StatusNotFound, "[Not Found] error 404: That page does not exist."},
		{http.MethodGet, "/lyrics", http.StatusMethodNotAllowed, ""},
		{http.MethodPost, "/", http.StatusMethodNotAllowed, ""},
	}
	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			rr := env.publicRequest(t, tc.method, tc.path, nil)
			requireStatus(t, rr, tc.status)
			if tc.body != "" {
				assert.Equal(t, tc.body, rr.Body.String())
				assert.Equal(t, "text/html; charset=utf-8", rr.Header().Get("Content-Type"))
			}
		})
	}
}

func TestHandleLyrics(t *testing.T) {
	engine := DefaultEngineConfig()
	engine.DefaultLength = 300
	env := newTestEnv(t, engine)

	t.Run("Generates lyrics", func(t *testing.T) {
		rr := env.publicRequest(t, http.MethodPost, "/lyrics", url.Values{"artist": {testLyrics}})
		requireStatus(t, rr, http.StatusOK)
		body := rr.Body.String()
		assert.True(t, strings.HasPrefix(body, "[Lyrics]<p>"), body)
		assert.GreaterOrEqual(t, strings.Count(body, "<p>"), 1)
	})

	t.Run("Empty corpus", func(t *testing.T) {
		rr := env.publicRequest(t, http.MethodPost, "/lyrics", url.Values{"artist": {""}})
		requireStatus(t, rr, http.StatusBadRequest)
		assert.Equal(t, "[Error] error 400: Enter some text to start generating.", rr.Body.String())
	})

	t.Run("Corpus shorter than the order", func(t *testing.T) {
		rr := env.publicRequest(t, http.MethodPost, "/lyrics", url.Values{"artist": {"abc"}})
		requireStatus(t, rr, http.StatusBadRequest)
		assert.Contains(t, rr.Body.String(), "Enter at least 6 characters")
	})

	summary, err := env.server.statsAPI.Summary(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int64(3), summary.ByChannel[channelWeb])
	assert.Equal(t, int64(1), summary.Successful)
}

func TestDescribeError(t *testing.T) {
	limits := markov.Limits{MaxCorpusLength: 50, MaxOutputLength: 1000}

	status, msg := describeError(markov.ErrInvalidParameter, strings.Repeat("x", 100), 5, limits)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "That text is too long to generate from. The limit is 50 characters.", msg)

	status, msg = describeError(markov.ErrInvalidParameter, "abc", 5, limits)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Enter at least 6 characters to start generating.", msg)

	// Valid text rejected by the engine settings is not the user's fault.
	status, _ = describeError(markov.ErrInvalidParameter, strings.Repeat("x", 20), 5, limits)
	assert.Equal(t, http.StatusInternalServerError, status)

	status, _ = describeError(errors.New("boom"), "text", 5, limits)
	assert.Equal(t, http.StatusInternalServerError, status)
}

func TestHandleLyricsOutputLimit(t *testing.T) {
	env := newTestEnv(t, nil)

	// The validated config never lets the default length exceed the limit, so
	// lower the limit on the generator directly.
	env.server.Generator().SetLimits(markov.Limits{MaxOutputLength: 10})
	rr := env.publicRequest(t, http.MethodPost, "/lyrics", url.Values{"artist": {testLyrics}})
	requireStatus(t, rr, http.StatusInternalServerError)
	assert.NotContains(t, rr.Body.String(), "too long")

	env.server.Generator().SetLimits(markov.Limits{MaxCorpusLength: 20})
	rr = env.publicRequest(t, http.MethodPost, "/lyrics", url.Values{"artist": {testLyrics}})
	requireStatus(t, rr, http.StatusBadRequest)
	assert.Contains(t, rr.Body.String(), "The limit is 20 characters.")
}

func TestClientIP(t *testing.T) {
	env := newTestEnv(t, nil)
	cfg := env.cm.Get()
	serverCfg := *cfg.Server
	serverCfg.TrustedProxies = []string{"192.0.2.0/24"}
	require.NoError(t, env.cm.Update(Config{Server: &serverCfg, Engine: cfg.Engine, Templates: cfg.Templates}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:4567"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 192.0.2.10")
	assert.Equal(t, "203.0.113.7", clientIP(req, env.cm))

	req.RemoteAddr = "198.51.100.1:4567"
	assert.Equal(t, "198.51.100.1", clientIP(req, env.cm), "untrusted peers cannot spoof their address")

	req.RemoteAddr = "192.0.2.10:4567"
	req.Header.Set("X-Forwarded-For", "garbage")
	assert.Equal(t, "192.0.2.10", clientIP(req, env.cm))
}

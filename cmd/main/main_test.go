package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const testLyrics = `I've been walking down this road so long
I've been singing the same old song
and the road keeps walking on and on
and the song keeps singing, singing on
`

// testTemplates are small page templates that make assertions easy.
var testTemplates = map[string]string{
	"layout.part.html": `{{define "title"}}[{{.Title}}]{{end}}`,
	"index.tmpl.html":  `{{template "title" .}} index`,
	"about.tmpl.html":  `{{template "title" .}} about`,
	"lyrics.tmpl.html": `{{template "title" .}}{{range lines .Output}}<p>{{.}}</p>{{end}}`,
	"error.tmpl.html":  `{{template "title" .}} error {{.Status}}: {{.Message}}`,
}

type testEnv struct {
	server *Server
	cm     *ConfigManager
	dir    string
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestEnv builds a Server over a temporary data directory and SQLite file.
// engine is applied on top of the default engine config when non-nil.
func newTestEnv(t *testing.T, engine *EngineConfig) *testEnv {
	t.Helper()

	dir := t.TempDir()
	templatesDir := filepath.Join(dir, "templates")
	require.NoError(t, os.Mkdir(templatesDir, 0755))
	for name, content := range testTemplates {
		require.NoError(t, os.WriteFile(filepath.Join(templatesDir, name), []byte(content), 0644))
	}

	cm, err := NewConfigManager(filepath.Join(dir, "config.json"))
	require.NoError(t, err)
	cm.SetLogger(testLogger())

	cfg := cm.Get()
	serverCfg := *cfg.Server
	serverCfg.DataDir = dir
	serverCfg.DatabasePath = filepath.Join(dir, "lyrebird.db")
	serverCfg.WatchFiles = false
	if engine == nil {
		engine = DefaultEngineConfig()
	}
	require.NoError(t, cm.Update(Config{Server: &serverCfg, Engine: engine, Templates: cfg.Templates}))

	db, err := initDB(serverCfg.DatabasePath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, setupSchemas(db))

	server, err := NewServer(cm, testLogger(), db, make(chan string, 1))
	require.NoError(t, err)

	return &testEnv{server: server, cm: cm, dir: dir}
}

// apiRequest sends a request through the authenticated API mux.
func (e *testEnv) apiRequest(t *testing.T, method, path string, body any, apiKey string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			reader = bytes.NewBufferString(b)
		default:
			data, err := json.Marshal(b)
			require.NoError(t, err)
			reader = bytes.NewReader(data)
		}
	}
	req := httptest.NewRequest(method, path, reader)
	if apiKey != "" {
		req.Header.Set(authHeader, apiKey)
	}
	rr := httptest.NewRecorder()
	e.server.apiMux.ServeHTTP(rr, req)
	return rr
}

func decodeJSON[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), "body: %s", rr.Body.String())
	return v
}

func requireStatus(t *testing.T, rr *httptest.ResponseRecorder, status int) {
	t.Helper()
	require.Equal(t, status, rr.Code, "body: %s", rr.Body.String())
}

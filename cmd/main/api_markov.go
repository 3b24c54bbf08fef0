package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/CTAG07/Lyrebird/pkg/markov"
	"github.com/gorilla/websocket"
)

// Error codes reported in API error bodies and in the request log.
const (
	codeEmptyCorpus      = "empty_corpus"
	codeInvalidParameter = "invalid_parameter"
	codeContextNotFound  = "context_not_found"
	codeCancelled        = "cancelled"
	codeInternal         = "internal"
)

// GenerateRequest is the JSON body of a generation request. Order and Length
// fall back to engine_config defaults when omitted.
type GenerateRequest struct {
	Text   string  `json:"text"`
	Order  *int    `json:"order,omitempty"`
	Length *int    `json:"length,omitempty"`
	Seed   *uint64 `json:"seed,omitempty"`
}

// GenerateResponse is the JSON response to a successful generation.
type GenerateResponse struct {
	Output   string   `json:"output"`
	Lines    []string `json:"lines"`
	Order    int      `json:"order"`
	Length   int      `json:"length"`
	SeedUsed uint64   `json:"seed_used"`
}

// AnalyzeRequest is the JSON body of an analyze request.
type AnalyzeRequest struct {
	Text  string `json:"text"`
	Order *int   `json:"order,omitempty"`
}

// StreamMessage is one websocket message of a generation stream.
type StreamMessage struct {
	State string `json:"state"`
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`
	Seed  uint64 `json:"seed,omitempty"`
}

// MarkovAPI holds the dependencies for the generation handlers.
type MarkovAPI struct {
	gen      *markov.Generator
	cm       *ConfigManager
	stats    *StatsAPI
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewMarkovAPI(gen *markov.Generator, cm *ConfigManager, stats *StatsAPI, logger *slog.Logger) *MarkovAPI {
	return &MarkovAPI{
		gen:    gen,
		cm:     cm,
		stats:  stats,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Callers are authenticated by API key, not by origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// RegisterRoutes sets up the routing for all /api/markov endpoints.
func (a *MarkovAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/markov/generate", a.handleGenerate)
	mux.HandleFunc("/api/markov/analyze", a.handleAnalyze)
	mux.HandleFunc("/api/markov/stream", a.handleStream)
	mux.HandleFunc("/api/markov/cache", a.handleCache)
}

// classifyError maps a generation error to an HTTP status and error code.
func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, markov.ErrEmptyCorpus):
		return http.StatusBadRequest, codeEmptyCorpus
	case errors.Is(err, markov.ErrInvalidParameter):
		return http.StatusBadRequest, codeInvalidParameter
	case errors.Is(err, markov.ErrContextNotFound):
		return http.StatusInternalServerError, codeContextNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, codeCancelled
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

// outcomeFor is the request log outcome for err.
func outcomeFor(err error) string {
	if err == nil {
		return outcomeOK
	}
	_, code := classifyError(err)
	return code
}

// maxBodyBytes bounds request bodies by the corpus limit. A rune is at most
// four bytes, and JSON escaping can double that.
func (a *MarkovAPI) maxBodyBytes() int64 {
	limit := a.gen.Limits().MaxCorpusLength
	if limit <= 0 {
		return 64 << 20
	}
	return int64(limit)*8 + 4096
}

// resolve fills omitted request fields from the engine defaults.
func (a *MarkovAPI) resolve(req *GenerateRequest) (order, length int, seed uint64) {
	engine := a.cm.Get().Engine
	order, length = engine.DefaultOrder, engine.DefaultLength
	if req.Order != nil {
		order = *req.Order
	}
	if req.Length != nil {
		length = *req.Length
	}
	if req.Seed != nil {
		seed = *req.Seed
	} else {
		seed = rand.Uint64()
	}
	return order, length, seed
}

func (a *MarkovAPI) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !requireScope(w, r, scopeMarkovGenerate) {
		return
	}

	var req GenerateRequest
	r.Body = http.MaxBytesReader(w, r.Body, a.maxBodyBytes())
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}
	order, length, seed := a.resolve(&req)

	start := time.Now()
	output, err := a.gen.Generate(r.Context(), req.Text, order, length, markov.WithSeed(seed))
	a.stats.record(r.Context(), GenerationRecord{
		RemoteAddr:   clientIP(r, a.cm),
		Channel:      channelAPI,
		CorpusLength: utf8.RuneCountInString(req.Text),
		Order:        order,
		Length:       length,
		Outcome:      outcomeFor(err),
		Duration:     time.Since(start),
	})
	if err != nil {
		status, code := classifyError(err)
		if status >= http.StatusInternalServerError {
			a.logger.Error("Generation failed", "error", err, "order", order, "length", length)
		}
		respondWithErrorCode(w, status, code, err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, GenerateResponse{
		Output:   output,
		Lines:    strings.Split(output, "\n"),
		Order:    order,
		Length:   length,
		SeedUsed: seed,
	})
}

func (a *MarkovAPI) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !requireScope(w, r, scopeMarkovGenerate) {
		return
	}

	var req AnalyzeRequest
	r.Body = http.MaxBytesReader(w, r.Body, a.maxBodyBytes())
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}
	order := a.cm.Get().Engine.DefaultOrder
	if req.Order != nil {
		order = *req.Order
	}

	table, err := a.gen.BuildTable(r.Context(), req.Text, order)
	if err != nil {
		status, code := classifyError(err)
		respondWithErrorCode(w, status, code, err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, table.Stats())
}

// handleStream upgrades to a websocket, reads one GenerateRequest and writes
// one StreamMessage per generated chunk. Closing the socket cancels generation.
func (a *MarkovAPI) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !requireScope(w, r, scopeMarkovGenerate) {
		return
	}

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		a.logger.Warn("Websocket upgrade failed", "error", err)
		return
	}
	defer func(conn *websocket.Conn) {
		_ = conn.Close()
	}(conn)

	conn.SetReadLimit(a.maxBodyBytes())
	var req GenerateRequest
	if err = conn.ReadJSON(&req); err != nil {
		_ = conn.WriteJSON(StreamMessage{State: markov.StateFailed.String(), Error: "Invalid JSON request", Code: codeInvalidParameter})
		return
	}
	order, length, seed := a.resolve(&req)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The client sends nothing after the request; any read result means it went away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	rec := GenerationRecord{
		RemoteAddr:   clientIP(r, a.cm),
		Channel:      channelStream,
		CorpusLength: utf8.RuneCountInString(req.Text),
		Order:        order,
		Length:       length,
	}
	start := time.Now()

	stream, err := a.gen.GenerateStream(ctx, req.Text, order, length, markov.WithSeed(seed))
	if err != nil {
		_, code := classifyError(err)
		rec.Outcome, rec.Duration = code, time.Since(start)
		a.stats.record(r.Context(), rec)
		_ = conn.WriteJSON(StreamMessage{State: markov.StateFailed.String(), Error: err.Error(), Code: code})
		return
	}

	var streamErr error
	for chunk := range stream {
		if chunk.State == markov.StateFailed {
			streamErr = chunk.Err
		}
		if err = conn.WriteJSON(streamMessage(chunk, seed)); err != nil {
			streamErr = fmt.Errorf("%w: %v", context.Canceled, err)
			cancel()
			break
		}
	}
	if streamErr == nil && ctx.Err() != nil {
		streamErr = ctx.Err()
	}

	rec.Outcome, rec.Duration = outcomeFor(streamErr), time.Since(start)
	a.stats.record(r.Context(), rec)
	if streamErr == nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"),
			time.Now().Add(time.Second))
	}
}

// streamMessage converts a generation chunk into its websocket message.
func streamMessage(chunk markov.Chunk, seed uint64) StreamMessage {
	msg := StreamMessage{State: chunk.State.String(), Text: chunk.Text}
	switch chunk.State {
	case markov.StateSeeded:
		msg.Seed = seed
	case markov.StateFailed:
		if chunk.Err != nil {
			_, msg.Code = classifyError(chunk.Err)
			msg.Error = chunk.Err.Error()
		}
	}
	return msg
}

func (a *MarkovAPI) handleCache(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, scopeMarkovAdmin) {
		return
	}
	cache := a.gen.Cache()
	if cache == nil {
		respondWithError(w, http.StatusNotFound, "Table cache is disabled")
		return
	}

	switch r.Method {
	case http.MethodGet:
		respondWithJSON(w, http.StatusOK, cache.Stats())
	case http.MethodDelete:
		cache.Purge()
		a.logger.Info("Table cache purged via API")
		w.WriteHeader(http.StatusNoContent)
	default:
		w.Header().Set("Allow", "GET, DELETE")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

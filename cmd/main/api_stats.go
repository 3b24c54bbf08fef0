package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

const statsSchema = `
CREATE TABLE IF NOT EXISTS stats_generations (
    id             INTEGER  PRIMARY KEY,
    created_at     DATETIME NOT NULL,
    remote_addr    TEXT     NOT NULL,
    channel        TEXT     NOT NULL,
    corpus_length  INTEGER  NOT NULL,
    model_order    INTEGER  NOT NULL,
    output_length  INTEGER  NOT NULL,
    outcome        TEXT     NOT NULL,
    duration_us    INTEGER  NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_stats_generations_created_at ON stats_generations(created_at);
`

// Channels a generation request can arrive through.
const (
	channelWeb    = "web"
	channelAPI    = "api"
	channelStream = "stream"
)

// outcomeOK is recorded for successful generations; failures record their error code.
const outcomeOK = "ok"

const (
	defaultRecentLimit = 50
	maxRecentLimit     = 500
)

// GenerationRecord is one row of the request log.
type GenerationRecord struct {
	ID           int64         `json:"id"`
	CreatedAt    time.Time     `json:"created_at"`
	RemoteAddr   string        `json:"remote_addr"`
	Channel      string        `json:"channel"`
	CorpusLength int           `json:"corpus_length"`
	Order        int           `json:"order"`
	Length       int           `json:"length"`
	Outcome      string        `json:"outcome"`
	Duration     time.Duration `json:"duration_ns"`
}

// StatsSummary is a high-level overview of the request log.
type StatsSummary struct {
	TotalGenerations int64            `json:"total_generations"`
	Successful       int64            `json:"successful"`
	ByOutcome        map[string]int64 `json:"by_outcome"`
	ByChannel        map[string]int64 `json:"by_channel"`
	CharsGenerated   int64            `json:"chars_generated"`
	AvgDurationMs    float64          `json:"avg_duration_ms"`
	UniqueClients    int64            `json:"unique_clients"`
}

// StatsAPI holds the dependencies for the statistics handlers.
type StatsAPI struct {
	db     *sql.DB
	logger *slog.Logger
}

func setupStatsSchema(db *sql.DB) error {
	_, err := db.Exec(statsSchema)
	return err
}

func NewStatsAPI(db *sql.DB, logger *slog.Logger) *StatsAPI {
	return &StatsAPI{
		db:     db,
		logger: logger,
	}
}

func (s *StatsAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/stats/summary", s.handleSummary)
	mux.HandleFunc("/api/stats/recent", s.handleRecent)
}

// LogGeneration appends rec to the request log. A zero CreatedAt is set to now.
func (s *StatsAPI) LogGeneration(ctx context.Context, rec GenerationRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stats_generations
			(created_at, remote_addr, channel, corpus_length, model_order, output_length, outcome, duration_us)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.CreatedAt, rec.RemoteAddr, rec.Channel, rec.CorpusLength, rec.Order, rec.Length,
		rec.Outcome, rec.Duration.Microseconds(),
	)
	if err != nil {
		return fmt.Errorf("could not insert generation record: %w", err)
	}
	return nil
}

// record logs rec and only reports failures to the logger. Request handlers use
// it so a broken request log never fails a generation.
func (s *StatsAPI) record(ctx context.Context, rec GenerationRecord) {
	// The request context may already be cancelled by the time we get here.
	if err := s.LogGeneration(context.WithoutCancel(ctx), rec); err != nil {
		s.logger.Error("Failed to log generation", "error", err, "channel", rec.Channel)
	}
}

// Summary aggregates the whole request log.
func (s *StatsAPI) Summary(ctx context.Context) (*StatsSummary, error) {
	summary := &StatsSummary{
		ByOutcome: map[string]int64{},
		ByChannel: map[string]int64{},
	}

	var avgUs sql.NullFloat64
	var chars sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN outcome = ? THEN output_length ELSE 0 END), 0),
		       AVG(duration_us),
		       COUNT(DISTINCT remote_addr)
		FROM stats_generations`, outcomeOK,
	).Scan(&summary.TotalGenerations, &chars, &avgUs, &summary.UniqueClients)
	if err != nil {
		return nil, fmt.Errorf("could not query summary: %w", err)
	}
	summary.CharsGenerated = chars.Int64
	if avgUs.Valid {
		summary.AvgDurationMs = avgUs.Float64 / 1000
	}

	if err = s.countBy(ctx, "outcome", summary.ByOutcome); err != nil {
		return nil, err
	}
	if err = s.countBy(ctx, "channel", summary.ByChannel); err != nil {
		return nil, err
	}
	summary.Successful = summary.ByOutcome[outcomeOK]
	return summary, nil
}

// countBy fills into with row counts grouped by column. column must be a
// trusted identifier.
func (s *StatsAPI) countBy(ctx context.Context, column string, into map[string]int64) error {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s, COUNT(*) FROM stats_generations GROUP BY %s", column, column))
	if err != nil {
		return fmt.Errorf("could not group by %s: %w", column, err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	for rows.Next() {
		var key string
		var count int64
		if err = rows.Scan(&key, &count); err != nil {
			return fmt.Errorf("could not scan %s count: %w", column, err)
		}
		into[key] = count
	}
	return rows.Err()
}

// Recent returns the newest limit records, newest first.
func (s *StatsAPI) Recent(ctx context.Context, limit int) ([]GenerationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, remote_addr, channel, corpus_length, model_order, output_length, outcome, duration_us
		FROM stats_generations
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("could not query recent generations: %w", err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	records := []GenerationRecord{}
	for rows.Next() {
		var rec GenerationRecord
		var durationUs int64
		if err = rows.Scan(&rec.ID, &rec.CreatedAt, &rec.RemoteAddr, &rec.Channel, &rec.CorpusLength,
			&rec.Order, &rec.Length, &rec.Outcome, &durationUs); err != nil {
			return nil, fmt.Errorf("could not scan generation record: %w", err)
		}
		rec.Duration = time.Duration(durationUs) * time.Microsecond
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *StatsAPI) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !requireScope(w, r, scopeStatsRead) {
		return
	}

	summary, err := s.Summary(r.Context())
	if err != nil {
		s.logger.Error("Failed to build stats summary", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to query statistics")
		return
	}
	respondWithJSON(w, http.StatusOK, summary)
}

func (s *StatsAPI) handleRecent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !requireScope(w, r, scopeStatsRead) {
		return
	}

	limit := defaultRecentLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondWithError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRecentLimit)
	}

	records, err := s.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to query recent generations", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to query statistics")
		return
	}
	respondWithJSON(w, http.StatusOK, records)
}

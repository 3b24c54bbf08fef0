package main

import (
	"bytes"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/CTAG07/Lyrebird/pkg/markov"
	"github.com/CTAG07/Lyrebird/pkg/templating"
)

// maxFormBytes bounds the lyrics form body.
const maxFormBytes = 8 << 20

// PageData is passed to every front end template.
type PageData struct {
	Title   string
	Output  string
	Order   int
	Length  int
	Message string
	Status  int
}

type Server struct {
	cm          *ConfigManager
	db          *sql.DB
	logger      *slog.Logger
	gen         *markov.Generator
	tm          *templating.TemplateManager
	authAPI     *AuthAPI
	markovAPI   *MarkovAPI
	statsAPI    *StatsAPI
	serverAPI   *ServerAPI
	templateAPI *TemplateAPI
	publicMux   *http.ServeMux
	apiMux      *http.ServeMux
}

func NewServer(cm *ConfigManager, logger *slog.Logger, db *sql.DB, actionChan chan string) (*Server, error) {
	config := cm.Get()

	var opts []markov.Option
	if config.Engine.CacheSize > 0 {
		cache, err := markov.NewTableCache(config.Engine.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("error creating table cache: %w", err)
		}
		opts = append(opts, markov.WithCache(cache))
	}
	gen := markov.NewGenerator(opts...)
	gen.SetLogger(logger)
	cm.SetGenerator(gen)

	tm, err := templating.NewTemplateManager(logger, config.Templates, config.Server.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create template manager: %w", err)
	}
	cm.SetTemplateManager(tm)

	statsAPI := NewStatsAPI(db, logger)
	server := &Server{
		cm:          cm,
		db:          db,
		logger:      logger,
		gen:         gen,
		tm:          tm,
		authAPI:     NewAuthAPI(db, logger),
		markovAPI:   NewMarkovAPI(gen, cm, statsAPI, logger),
		statsAPI:    statsAPI,
		serverAPI:   NewServerAPI(cm, actionChan, logger),
		templateAPI: NewTemplateAPI(tm, cm, logger),
		publicMux:   http.NewServeMux(),
		apiMux:      http.NewServeMux(),
	}

	apiMux := http.NewServeMux()
	server.authAPI.RegisterRoutes(apiMux)
	server.markovAPI.RegisterRoutes(apiMux)
	server.statsAPI.RegisterRoutes(apiMux)
	server.serverAPI.RegisterRoutes(apiMux)
	server.templateAPI.RegisterRoutes(apiMux)

	// Every api route passes through authentication first.
	server.apiMux.Handle("/api/", server.authAPI.Authenticate(apiMux))

	server.publicMux.HandleFunc("/", server.handleIndex)
	server.publicMux.HandleFunc("/index", server.handleIndex)
	server.publicMux.HandleFunc("/about", server.handleAbout)
	server.publicMux.HandleFunc("/lyrics", server.handleLyrics)

	return server, nil
}

// Generator returns the generator shared by the front end and the API.
func (s *Server) Generator() *markov.Generator {
	return s.gen
}

// TemplateManager returns the template manager serving the front end.
func (s *Server) TemplateManager() *templating.TemplateManager {
	return s.tm
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	// "/" is a catch-all pattern.
	if r.URL.Path != "/" && r.URL.Path != "/index" {
		s.renderPage(w, r, http.StatusNotFound, "error.tmpl.html", PageData{
			Title:   "Not Found",
			Message: "That page does not exist.",
			Status:  http.StatusNotFound,
		})
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	s.renderPage(w, r, http.StatusOK, "index.tmpl.html", PageData{Title: "Home"})
}

func (s *Server) handleAbout(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodPost:
		s.renderPage(w, r, http.StatusOK, "about.tmpl.html", PageData{Title: "About"})
	default:
		w.Header().Set("Allow", "GET, HEAD, POST")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	}
}

// handleLyrics trains on the submitted text and renders the generated lyrics.
func (s *Server) handleLyrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		s.renderPage(w, r, http.StatusBadRequest, "error.tmpl.html", PageData{
			Title:   "Error",
			Message: "The submitted form could not be read.",
			Status:  http.StatusBadRequest,
		})
		return
	}
	text := r.PostFormValue("artist")

	engine := s.cm.Get().Engine
	order, length := engine.DefaultOrder, engine.DefaultLength

	start := time.Now()
	output, err := s.gen.Generate(r.Context(), text, order, length)
	s.statsAPI.record(r.Context(), GenerationRecord{
		RemoteAddr:   clientIP(r, s.cm),
		Channel:      channelWeb,
		CorpusLength: utf8.RuneCountInString(text),
		Order:        order,
		Length:       length,
		Outcome:      outcomeFor(err),
		Duration:     time.Since(start),
	})
	if err != nil {
		status, message := describeError(err, text, order, s.gen.Limits())
		if status >= http.StatusInternalServerError {
			s.logger.Error("Lyrics generation failed", "error", err, "remote_addr", clientIP(r, s.cm))
		}
		s.renderPage(w, r, status, "error.tmpl.html", PageData{
			Title:   "Error",
			Message: message,
			Status:  status,
			Order:   order,
		})
		return
	}

	s.logger.Debug("Serving lyrics", "order", order, "length", length, "duration", time.Since(start))
	s.renderPage(w, r, http.StatusOK, "lyrics.tmpl.html", PageData{
		Title:  "Lyrics",
		Output: output,
		Order:  order,
		Length: length,
	})
}

// describeError turns a generation error into a status and a message fit for
// the error page. An invalid parameter that the submitted text does not
// explain comes from the engine configuration and is reported as a 500.
func describeError(err error, text string, order int, limits markov.Limits) (int, string) {
	const internalMessage = "Something went wrong while generating. Please try again."

	switch {
	case errors.Is(err, markov.ErrEmptyCorpus):
		return http.StatusBadRequest, "Enter some text to start generating."
	case errors.Is(err, markov.ErrInvalidParameter):
		n := utf8.RuneCountInString(text)
		if n <= order {
			return http.StatusBadRequest, fmt.Sprintf("Enter at least %d characters to start generating.", order+1)
		}
		if limits.MaxCorpusLength > 0 && n > limits.MaxCorpusLength {
			return http.StatusBadRequest, fmt.Sprintf("That text is too long to generate from. The limit is %d characters.", limits.MaxCorpusLength)
		}
		return http.StatusInternalServerError, internalMessage
	default:
		return http.StatusInternalServerError, internalMessage
	}
}

// renderPage executes a template into a buffer so a template error can still
// produce a clean 500.
func (s *Server) renderPage(w http.ResponseWriter, r *http.Request, status int, name string, data PageData) {
	var buf bytes.Buffer
	if err := s.tm.Execute(&buf, name, data); err != nil {
		s.logger.Error("Failed to execute template", "template", name, "error", err, "path", r.URL.Path)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	setPageHeaders(w)
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func setPageHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'self' 'unsafe-inline';")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
}

// clientIP returns the address of the client, honoring X-Forwarded-For only
// when the direct peer is a trusted proxy.
func clientIP(r *http.Request, cm *ConfigManager) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" && cm.IsTrusted(host) {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); net.ParseIP(ip) != nil {
			return ip
		}
	}
	return host
}

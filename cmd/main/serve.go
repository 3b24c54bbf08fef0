package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the web front end and the API server",
	Long: "Serves the lyrics front end on server_addr and the authenticated JSON/websocket API " +
		"on api_addr. The server restarts in place when asked to through the API.",
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	baseLogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	path := resolvedConfigPath()

	actionChan := make(chan string, 1)

	go func() {
		osSignalChan := make(chan os.Signal, 1)
		signal.Notify(osSignalChan, syscall.SIGINT, syscall.SIGTERM)
		<-osSignalChan
		baseLogger.Info("OS signal received, initiating shutdown.")
		actionChan <- actionShutdown
	}()

	for {
		action, err := run(path, actionChan)
		if err != nil {
			baseLogger.Error("An error occurred during server run, shutting down.", "error", err)
			return err
		}

		if action != actionRestart {
			break
		}
		baseLogger.Info("--- Server Restarting ---")
	}

	baseLogger.Info("Lyrebird has shut down.")
	return nil
}

// run hosts both servers for one cycle and returns when the server is shut down
// or restarted.
func run(path string, actionChan chan string) (string, error) {
	cm, err := NewConfigManager(path)
	if err != nil {
		return "", fmt.Errorf("failed to load configuration: %w", err)
	}
	config := cm.Get()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(config.Server.LogLevel)}))
	cm.SetLogger(logger)
	logger.Info("Starting server cycle...", "config", path, "version", Version)

	db, err := initDB(config.Server.DatabasePath)
	if err != nil {
		return "", fmt.Errorf("failed to initialize database: %w", err)
	}
	if err = setupSchemas(db); err != nil {
		_ = db.Close()
		return "", fmt.Errorf("failed to set up database schema: %w", err)
	}

	server, err := NewServer(cm, logger, db, actionChan)
	if err != nil {
		_ = db.Close()
		return "", fmt.Errorf("failed to create server object: %w", err)
	}

	var watcher *FileWatcher
	if config.Server.WatchFiles {
		watcher, err = startWatcher(cm, server, logger)
		if err != nil {
			// Hot reload is a convenience; the server still works without it.
			logger.Warn("File watching disabled", "error", err)
		}
	}

	publicHttpServer := &http.Server{Addr: config.Server.ServerAddr, Handler: server.publicMux, ReadHeaderTimeout: 10 * time.Second}
	apiHttpServer := &http.Server{Addr: config.Server.ApiAddr, Handler: server.apiMux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		logger.Info("Starting api server", "address", apiHttpServer.Addr)
		if err := apiHttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Api server failed", "error", err)
		}
	}()

	go func() {
		logger.Info("Starting Lyrebird front end", "address", publicHttpServer.Addr)
		if err := publicHttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Front end server failed", "error", err)
		}
	}()

	action := <-actionChan // Block here until API or OS signal sends an action.

	logger.Info("Stopping servers for " + action + "...")
	if watcher != nil {
		_ = watcher.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err = apiHttpServer.Shutdown(ctx); err != nil {
		logger.Error("Api server shutdown failed", "error", err)
	}
	if err = publicHttpServer.Shutdown(ctx); err != nil {
		logger.Error("Front end server shutdown failed", "error", err)
	}
	logger.Info("HTTP servers stopped.")

	logger.Info("Closing database connection.")
	if err = db.Close(); err != nil {
		logger.Error("Failed to close database", "error", err)
	}

	return action, nil
}

// startWatcher reloads config.json and the templates when they change on disk.
func startWatcher(cm *ConfigManager, server *Server, logger *slog.Logger) (*FileWatcher, error) {
	watcher, err := NewFileWatcher(logger)
	if err != nil {
		return nil, err
	}

	err = watcher.WatchFile(cm.Path(), func(string) {
		if err := cm.Reload(); err != nil {
			logger.Error("Failed to reload configuration, keeping the previous one", "error", err)
		}
	})
	if err != nil {
		_ = watcher.Stop()
		return nil, err
	}

	tm := server.TemplateManager()
	err = watcher.Watch(tm.TemplateDir(), func(name string) bool {
		return strings.HasSuffix(name, ".html")
	}, func(path string) {
		if err := tm.Refresh(); err != nil {
			logger.Error("Failed to reload templates, keeping the previous set", "file", path, "error", err)
		}
	})
	if err != nil {
		_ = watcher.Stop()
		return nil, err
	}
	return watcher, nil
}

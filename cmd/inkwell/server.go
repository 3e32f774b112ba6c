package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/marrec/inkwell/internal/api"
	"github.com/marrec/inkwell/internal/config"
	"github.com/marrec/inkwell/internal/engine"
	"github.com/marrec/inkwell/internal/insight"
	"github.com/marrec/inkwell/internal/llm"
	"github.com/marrec/inkwell/internal/manuscript"
	"github.com/marrec/inkwell/internal/queue"
	"github.com/marrec/inkwell/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the inkwell server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running inkwell server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show inkwell system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "inkwell.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func logLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "inkwell version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.Log.Level)}))
	slog.SetDefault(logger)

	// Ensure the API token exists in the platform secret store before
	// anything binds to it.
	apiToken, err := config.GetAPIToken(config.NewKeychain())
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}

	// Write PID file. Check if a server is already running via the health
	// endpoint first.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("inkwell is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("inkwell is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Analysis stack: chat client -> analyst -> insight service -> worker.
	chat := llm.New(cfg.Engine.BaseURL, cfg.Engine.APIKey, cfg.Engine.Model, logger)
	analyst := engine.NewAnalyst(chat, logger)
	library := manuscript.NewLibrary(store)
	insights := insight.NewService(library, store, analyst, cfg.Analysis.PerSceneChars, logger)

	worker := queue.NewWorker[insight.Job](func(jobCtx context.Context, job insight.Job) (any, error) {
		return insights.RunJob(jobCtx, job)
	}, logger)
	insights.AttachQueue(worker)

	handler := api.NewHandler(api.Deps{
		Store:    store,
		Insights: insights,
		Token:    apiToken,
		Version:  version,
		Logger:   logger,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		worker.Run(gctx)
		return nil
	})

	// Drain worker events into the job_runs audit table and the log.
	g.Go(func() error {
		drainEvents(worker.Events(), store, logger)
		return nil
	})

	// MCP server over stdio, for agent clients launched alongside us.
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Store:    store,
		Insights: insights,
		Version:  version,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("MCP stdio server error", "error", err)
		}
	}()
	logger.Info("MCP server started (stdio transport)")

	// Start HTTP server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "inkwell listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-gctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			stop()
			worker.Stop()
			g.Wait()
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown: stop HTTP first, then the worker (discards pending
	// jobs), then wait for the drain goroutine.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	shutdownErr := srv.Shutdown(shutdownCtx)
	worker.Stop()
	if err := g.Wait(); err != nil {
		return err
	}
	return shutdownErr
}

// drainEvents mirrors queue progress into job_runs so `inkwell status` and
// /jobs/recent can show what ran after the fact.
func drainEvents(events <-chan queue.Event[insight.Job], store *storage.Store, logger *slog.Logger) {
	for ev := range events {
		job := ev.Job
		switch ev.Type {
		case queue.EventStarted:
			run := storage.JobRun{
				ID:        job.ID,
				Kind:      job.Kind.String(),
				ProjectID: job.ProjectID,
				Status:    "running",
				StartedAt: time.Now().UTC(),
			}
			if job.ChapterID != "" {
				chapterID := job.ChapterID
				run.ScopeID = &chapterID
			}
			if err := store.RecordJobRun(run); err != nil {
				logger.Warn("recording job run", "job", job.ID, "error", err)
			}
			logger.Info("analysis started", "kind", job.Kind.String(), "project", job.ProjectID, "chapter", job.ChapterID)
		case queue.EventFinished:
			if err := store.FinishJobRun(job.ID, "finished", ""); err != nil {
				logger.Warn("finishing job run", "job", job.ID, "error", err)
			}
			logger.Info("analysis finished", "kind", job.Kind.String(), "project", job.ProjectID)
		case queue.EventFailed:
			msg := ""
			if ev.Err != nil {
				msg = ev.Err.Error()
			}
			if err := store.FinishJobRun(job.ID, "failed", msg); err != nil {
				logger.Warn("finishing job run", "job", job.ID, "error", err)
			}
			logger.Error("analysis failed", "kind", job.Kind.String(), "project", job.ProjectID, "error", ev.Err)
		}
	}
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("inkwell is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop inkwell (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to inkwell (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	running := false
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Engine", "%s (model %s)", cfg.Engine.BaseURL, cfg.Engine.Model)

	// Queue depth and recent runs need the authenticated API.
	if running {
		if api, err := newAPIClient(); err == nil {
			statusResp, err := api.get(ctx, "/status")
			if err == nil {
				var st struct {
					QueueDepth int `json:"queue_depth"`
				}
				if decodeJSON(statusResp, &st) == nil {
					printStatus("Queue depth", "%d", st.QueueDepth)
				}
			}
			runsResp, err := api.get(ctx, "/jobs/recent?limit=5")
			if err == nil {
				var runs []struct {
					Kind   string `json:"kind"`
					Status string `json:"status"`
				}
				if decodeJSON(runsResp, &runs) == nil && len(runs) > 0 {
					for _, run := range runs {
						printStatus("Recent job", "%s (%s)", run.Kind, run.Status)
					}
				}
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

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

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/avercamp/lectern/internal/api"
	"github.com/avercamp/lectern/internal/chat"
	"github.com/avercamp/lectern/internal/checkpoint"
	"github.com/avercamp/lectern/internal/config"
	"github.com/avercamp/lectern/internal/document"
	"github.com/avercamp/lectern/internal/fidelity"
	"github.com/avercamp/lectern/internal/formulate"
	"github.com/avercamp/lectern/internal/gateway"
	"github.com/avercamp/lectern/internal/quiz"
	"github.com/avercamp/lectern/internal/storage"
	"github.com/avercamp/lectern/internal/supervisor"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the lectern server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running lectern server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show lectern system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "lectern.pid")
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

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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
	fmt.Fprintf(os.Stderr, "lectern version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)})))

	apiToken := cfg.Server.APIToken
	if apiToken == "" {
		apiToken = uuid.New().String()
		printWarning("no API token configured; generated ephemeral token %s", apiToken)
	}

	// Refuse to double-start: the health endpoint answering means another
	// instance already owns the port.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("lectern is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("lectern is already running on port %d", cfg.Server.Port)
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

	callTimeout, err := time.ParseDuration(cfg.Gateway.CallTimeout)
	if err != nil {
		slog.Warn("invalid gateway call timeout, using default 60s", "value", cfg.Gateway.CallTimeout, "error", err)
		callTimeout = 60 * time.Second
	}
	pollInterval, err := time.ParseDuration(cfg.Fidelity.PollInterval)
	if err != nil {
		slog.Warn("invalid fidelity poll interval, using default 500ms", "value", cfg.Fidelity.PollInterval, "error", err)
		pollInterval = 500 * time.Millisecond
	}

	// Wire the engine: one gateway client and one checkpoint store shared by
	// every workflow.
	gatewayClient := gateway.New(cfg.Gateway.BaseURL, cfg.Gateway.APIKey, cfg.Gateway.Model)
	checkpoints := checkpoint.NewSQLiteStore(store.DB())
	retriever := document.NewRetriever(store, cfg.Document.SnippetLimit)
	chatWorkflow := chat.New(gatewayClient, callTimeout)
	quizMachine := quiz.NewMachine(checkpoints, gatewayClient, callTimeout)
	sampler := fidelity.NewJobSampler(store, cfg.Fidelity.SampleRate)
	formMachine := formulate.NewMachine(checkpoints, gatewayClient, sampler, callTimeout)
	router := supervisor.NewRouter(checkpoints, quizMachine, chatWorkflow, retriever, cfg.Quiz.DefaultQuestions)

	appHandler := api.NewAppHandler(api.AppDeps{
		Turns:       router,
		Formulation: formMachine,
		Store:       store,
		Token:       apiToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: appHandler,
	}

	worker := fidelity.NewWorker(store, gatewayClient, checkpoints, cfg.Fidelity.Threshold, pollInterval)

	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Turns:       router,
		Formulation: formMachine,
		Store:       store,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		worker.Run(gctx)
		return nil
	})

	g.Go(func() error {
		if err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
		return nil
	})

	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "lectern listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
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
		printError("lectern is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop lectern (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to lectern (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Gateway", "%s", cfg.Gateway.BaseURL)
	printStatus("Model", "%s", cfg.Gateway.Model)
	printStatus("Quiz length", "%d questions", cfg.Quiz.DefaultQuestions)
	printStatus("Fidelity", "rate %.2f, threshold %.2f", cfg.Fidelity.SampleRate, cfg.Fidelity.Threshold)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

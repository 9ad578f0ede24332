// GIZMO
//
// An agent orchestration engine: submit a natural-language coding task,
// get a validated code change driven by planner, coder, and tester agents
// against a hermetic per-task workspace.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ShashankBejjanki1241/GIZMO/internal/agent"
	"github.com/ShashankBejjanki1241/GIZMO/internal/archive"
	"github.com/ShashankBejjanki1241/GIZMO/internal/config"
	"github.com/ShashankBejjanki1241/GIZMO/internal/eventbus"
	"github.com/ShashankBejjanki1241/GIZMO/internal/llm"
	"github.com/ShashankBejjanki1241/GIZMO/internal/llm/openai"
	"github.com/ShashankBejjanki1241/GIZMO/internal/logging"
	"github.com/ShashankBejjanki1241/GIZMO/internal/memory"
	"github.com/ShashankBejjanki1241/GIZMO/internal/metrics"
	"github.com/ShashankBejjanki1241/GIZMO/internal/model"
	"github.com/ShashankBejjanki1241/GIZMO/internal/notify"
	"github.com/ShashankBejjanki1241/GIZMO/internal/orchestrator"
	"github.com/ShashankBejjanki1241/GIZMO/internal/server"
)

var (
	version   = "dev"
	serverURL string
)

var rootCmd = &cobra.Command{
	Use:   "gizmo",
	Short: "GIZMO - Agent Orchestration Engine",
	Long: `GIZMO drives planner, coder, and tester agents through a deterministic
pipeline that turns a coding instruction into a validated change.

  gizmo serve                                       Start the server
  gizmo submit t1 react "Add division function"     Submit a task
  gizmo status t1                                   Check task status`,
	Version: version,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the GIZMO API server",
	RunE:  runServe,
}

var submitCmd = &cobra.Command{
	Use:   "submit <task_id> <template> <instruction>",
	Short: "Submit a task to a running server",
	Args:  cobra.ExactArgs(3),
	RunE:  runSubmit,
}

var statusCmd = &cobra.Command{
	Use:   "status <task_id>",
	Short: "Show a task's state and event log",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the GIZMO version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server",
		envOr("GIZMO_SERVER", "http://localhost:8001"), "GIZMO server URL")
	rootCmd.AddCommand(serveCmd, submitCmd, statusCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := logging.New(cfg.Debug)
	if err != nil {
		return err
	}
	defer logger.Sync()

	bus := eventbus.New()
	mem := memory.New(cfg.MaxMemories)
	tracker := metrics.New()

	var completions llm.Client
	if cfg.OpenAIAPIKey != "" {
		completions = openai.New(cfg.OpenAIAPIKey, cfg.Model)
		logger.Info("completion service enabled", zap.String("model", cfg.Model))
	} else {
		logger.Info("no completion credential, agents run on deterministic stubs")
	}

	agents := agent.New(completions, mem, tracker, agent.Config{
		MaxRetries: cfg.MaxRetries,
	}, logger)

	arch, err := archive.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer arch.Close()

	orch := orchestrator.New(orchestrator.Config{
		WorkspaceRoot:  cfg.WorkspaceRoot,
		TemplatesDir:   cfg.TemplatesDir,
		CommandTimeout: cfg.CommandTimeout,
	}, agents, bus, mem, tracker, arch, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var notifiers []notify.Notifier
	if cfg.SlackEnabled() {
		notifiers = append(notifiers, notify.NewSlack(cfg.SlackBotToken, cfg.SlackChannel))
		logger.Info("slack notifier enabled")
	}
	if cfg.TelegramEnabled() {
		tg, tgErr := notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID)
		if tgErr != nil {
			logger.Warn("telegram notifier init failed", zap.Error(tgErr))
		} else {
			notifiers = append(notifiers, tg)
			logger.Info("telegram notifier enabled")
		}
	}
	if len(notifiers) > 0 {
		watcher := notify.NewWatcher(bus, notifiers, logger)
		go watcher.Run(ctx)
	}

	srv := server.New(cfg, orch, bus, tracker, mem, arch, logger)
	return srv.Start(ctx)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	req := model.TaskRequest{
		TaskID:      args[0],
		Template:    model.Template(args[1]),
		Instruction: args[2],
	}
	body, _ := json.Marshal(req)

	resp, err := httpClient().Post(serverURL+"/api/v1/tasks", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("submitting task: %w", err)
	}
	defer resp.Body.Close()
	return printResponse(resp)
}

func runStatus(cmd *cobra.Command, args []string) error {
	resp, err := httpClient().Get(serverURL + "/api/v1/tasks/" + args[0])
	if err != nil {
		return fmt.Errorf("fetching status: %w", err)
	}
	defer resp.Body.Close()
	return printResponse(resp)
}

func printResponse(resp *http.Response) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var pretty bytes.Buffer
	if json.Indent(&pretty, data, "", "  ") == nil {
		data = pretty.Bytes()
	}
	fmt.Println(string(data))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return nil
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Command parrot runs the assistant runtime: the Telegram channel, the
// message router, the scheduler, the bridge session manager, and the
// local tool endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	parrot "github.com/ciana/parrot"
	"github.com/ciana/parrot/bridge"
	"github.com/ciana/parrot/frontend/telegram"
	"github.com/ciana/parrot/gateway"
	"github.com/ciana/parrot/internal/config"
	"github.com/ciana/parrot/observer"
	"github.com/ciana/parrot/tools/host"
	"github.com/ciana/parrot/tools/schedule"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default parrot.toml)")
	toolAddr := flag.String("tool-addr", "127.0.0.1:9843", "listen address for the local tool endpoint")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *toolAddr, logger); err != nil {
		logger.Error("runtime failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, toolAddr string, logger *slog.Logger) error {
	taskStore := parrot.NewTaskStore(filepath.Join(cfg.DataDir, "scheduled_tasks.json"))
	bridgeStore, err := parrot.OpenJSONStore(filepath.Join(cfg.DataDir, "bridge_state.json"))
	if err != nil {
		return err
	}

	var inst *observer.Instruments
	if cfg.Observer.Enabled {
		if cfg.Observer.Endpoint != "" && os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") == "" {
			os.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Observer.Endpoint)
		}
		i, shutdown, err := observer.Init(ctx)
		if err != nil {
			logger.Warn("observer init failed, continuing without", "error", err)
		} else {
			inst = i
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(shutdownCtx); err != nil {
					logger.Warn("observer shutdown failed", "error", err)
				}
			}()
		}
	}

	// Execution path for the bridge CLI: straight subprocess, or through
	// the host gateway when one is configured.
	var gwClient *gateway.Client
	var executor bridge.Executor = bridge.LocalExecutor{}
	if cfg.Gateway.URL != "" {
		clientOpts := []gateway.ClientOption{gateway.WithClientLogger(logger)}
		if inst != nil {
			clientOpts = append(clientOpts, gateway.WithRequestHook(inst.RequestHook()))
		}
		gwClient = gateway.NewClient(cfg.Gateway.URL, cfg.Gateway.Token, clientOpts...)
		executor = bridge.GatewayExecutor{Client: gwClient, Bridge: "claude-code"}
	}

	var agent parrot.Agent = bridge.NewCLIAgent(cfg.Bridge.CLIPath, executor,
		bridge.WithAgentLogger(logger),
		bridge.WithAgentTimeout(cfg.Bridge.Timeout),
	)

	registry := buildTools(cfg, taskStore, gwClient, logger)
	var reg toolRegistry = registry

	if inst != nil {
		agent = observer.WrapAgent(agent, inst)
		reg = observer.WrapTools(registry, inst)
	}

	routerOpts := []parrot.RouterOption{
		parrot.WithRouterLogger(logger),
		parrot.WithAllowedUsers(map[string][]string{"telegram": cfg.Telegram.AllowedUsers}),
		parrot.WithTrigger("telegram", cfg.Telegram.Trigger),
	}
	if inst != nil {
		routerOpts = append(routerOpts, parrot.WithTurnHook(inst.TurnHook()))
	}
	router, err := parrot.NewRouter(agent, cfg.DataDir, routerOpts...)
	if err != nil {
		return err
	}

	bridgeMgr := bridge.NewManager(cfg.Bridge.CLIPath, cfg.Bridge.ProjectsDir, bridgeStore, executor,
		bridge.WithLogger(logger),
		bridge.WithPermissionMode(cfg.Bridge.PermissionMode),
		bridge.WithTimeout(cfg.Bridge.Timeout),
	)
	if ok, detail := bridgeMgr.CheckAvailable(ctx); ok {
		logger.Info("bridge CLI available", "detail", detail)
	} else {
		logger.Warn("bridge CLI unavailable", "detail", detail)
	}

	tg, err := telegram.New(cfg.Telegram.Token, telegram.WithLogger(logger))
	if err != nil {
		return err
	}
	tg.OnMessage(dispatcher(router, bridgeMgr))

	schedOpts := []parrot.SchedulerOption{
		parrot.WithPollInterval(time.Duration(cfg.Scheduler.PollInterval) * time.Second),
		parrot.WithSchedulerLogger(logger),
		parrot.WithChannel(tg),
	}
	if inst != nil {
		schedOpts = append(schedOpts, parrot.WithRunHook(inst.RunHook()))
	}
	sched := parrot.NewScheduler(agent, taskStore, schedOpts...)

	toolSrv := &http.Server{
		Addr:              toolAddr,
		Handler:           newToolServer(reg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := toolSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		if err := tg.Start(gctx); err != nil {
			return err
		}
		if cfg.Scheduler.Enabled {
			sched.Start(gctx)
		}
		logger.Info("parrot started")

		<-gctx.Done()

		if cfg.Scheduler.Enabled {
			sched.Stop()
		}
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := tg.Stop(stopCtx); err != nil {
			logger.Warn("channel stop failed", "error", err)
		}
		shutdownCtx, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		return toolSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// buildTools assembles the tool registry from the configuration.
func buildTools(cfg config.Config, taskStore *parrot.TaskStore, gwClient *gateway.Client, logger *slog.Logger) *parrot.ToolRegistry {
	reg := parrot.NewToolRegistry()
	reg.Add(schedule.New(taskStore, logger))

	bridges := make(map[string][]string, len(cfg.Gateway.Bridges))
	for name, rules := range cfg.Gateway.Bridges {
		bridges[name] = rules.AllowedCommands
	}
	reg.Add(host.New(gwClient, bridges, cfg.Gateway.DefaultTimeout, logger))
	return reg
}

// dispatcher returns the channel message handler: bridge commands and
// bridge-mode intercepts first, the router for everything else.
func dispatcher(router *parrot.MessageRouter, bridgeMgr *bridge.Manager) parrot.MessageHandler {
	return func(ctx context.Context, msg parrot.IncomingMessage) (*parrot.AgentResponse, error) {
		if !msg.ResetSession && router.UserAllowed(msg.Channel, msg.UserID) {
			if reply, handled := bridgeMgr.HandleCommand(ctx, msg.UserID, msg.Text); handled {
				return &parrot.AgentResponse{Text: reply}, nil
			}
			if bridgeMgr.InBridgeMode(msg.UserID) {
				resp := bridgeMgr.SendMessage(ctx, msg.UserID, msg.Text)
				if resp.Error != "" {
					return &parrot.AgentResponse{Text: "Error: " + resp.Error}, nil
				}
				return &parrot.AgentResponse{
					Text:   renderEvents(resp.Events),
					Events: resp.Events,
				}, nil
			}
		}
		return router.HandleMessage(ctx, msg)
	}
}

// renderEvents flattens bridge events into a Telegram-friendly digest:
// tool calls as one-liners, then the final text.
func renderEvents(events []parrot.Event) string {
	var lines []string
	for _, ev := range events {
		if tc, ok := ev.(parrot.ToolCallEvent); ok {
			line := "• " + tc.Name
			if tc.InputSummary != "" {
				line += ": " + tc.InputSummary
			}
			if tc.IsError {
				line += " (failed)"
			}
			lines = append(lines, line)
		}
	}
	text := parrot.FinalText(events)
	if len(lines) > 0 {
		digest := "```\n" + strings.Join(lines, "\n") + "\n```"
		if text != "" {
			return digest + "\n\n" + text
		}
		return digest
	}
	if text == "" {
		return "(empty response)"
	}
	return text
}

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/crew-io/crewd/internal/agent"
	"github.com/crew-io/crewd/internal/bus"
	"github.com/crew-io/crewd/internal/config"
	"github.com/crew-io/crewd/internal/heartbeat"
	"github.com/crew-io/crewd/internal/logbuf"
	"github.com/crew-io/crewd/internal/notify"
	"github.com/crew-io/crewd/internal/planner"
)

func main() {
	configPath := flag.String("config", "", "Path to config YAML file")
	goal := flag.String("goal", "", "High-level objective for the coordinator")
	planOnly := flag.Bool("plan-only", false, "Print the generated plan and exit")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logBuf := logbuf.New(2000)
	jsonHandler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(logbuf.NewCaptureHandler(jsonHandler, logBuf))

	if *goal == "" {
		fmt.Fprintln(os.Stderr, "usage: crewd -goal <objective> [-config crewd.yaml] [-plan-only]")
		os.Exit(2)
	}

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("crewd starting", "goal", *goal)

	var plannerOpts []planner.Option
	if cfg.Planner.BaseURL != "" {
		plannerOpts = append(plannerOpts, planner.WithBaseURL(cfg.Planner.BaseURL))
	}
	plannerOpts = append(plannerOpts, planner.WithModel(cfg.Planner.Model))
	if cfg.Planner.CustomProvider != "" {
		plannerOpts = append(plannerOpts, planner.WithCustomProvider(cfg.Planner.CustomProvider))
	}
	planClient := planner.NewClient(cfg.Planner.APIKey, plannerOpts...)

	b := bus.New()
	rt := agent.Runtime{
		Bus:           b,
		Planner:       planClient,
		Logger:        logger,
		WorkspaceRoot: cfg.WorkspaceRoot,
		BridgeCommand: cfg.Bridge.Command,
		BridgeGrace:   time.Duration(cfg.Bridge.GraceSeconds) * time.Second,
	}
	coord := agent.NewCoordinator(rt, cfg.Coordinator.Prompt, agent.StepPolicy(cfg.Coordinator.UnassignedSteps))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := coord.Start(ctx); err != nil {
		logger.Error("coordinator boot failed", "error", err)
		os.Exit(1)
	}

	if *planOnly {
		plan, err := coord.HandleGoal(ctx, *goal)
		if err != nil {
			logger.Error("plan generation failed", "error", err)
			os.Exit(1)
		}
		printPlan(plan)
		return
	}

	plan, err := coord.Orchestrate(ctx, *goal)
	if err != nil {
		logger.Error("orchestration failed", "error", err)
		os.Exit(1)
	}
	printPlan(plan)

	// Cadence publishing: one heartbeat per role plus the plan-level interval
	// for the coordinator itself.
	hb := heartbeat.New(b, logger.With("component", "heartbeat"))
	hb.Register(agent.CoordinatorName, plan.Communication.IntervalSeconds)
	for _, role := range plan.Roles {
		if err := hb.Register(role.Handle, role.CheckInSeconds); err != nil {
			logger.Warn("heartbeat registration failed", "handle", role.Handle, "error", err)
		}
	}
	go func() { hb.Start(ctx) }()

	if cfg.Notify.SlackWebhookURL != "" {
		sn := notify.NewSlack(cfg.Notify.SlackWebhookURL, logger.With("component", "notify"))
		go sn.Run(ctx, b)
		logger.Info("slack alert notifier enabled")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)

	coord.Shutdown()
	cancel()

	for _, a := range coord.Alerts() {
		if raw, err := json.Marshal(a); err == nil {
			logger.Warn("unresolved alert", "alert", string(raw))
		}
	}
	logger.Info("crewd stopped", "captured_log_entries", len(logBuf.Tail(0)))
}

func printPlan(plan any) {
	out, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to render plan: %v\n", err)
		return
	}
	fmt.Println(string(out))
}

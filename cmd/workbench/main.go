//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Command workbench loads a configuration, attaches the configured MCP
// servers and either answers one prompt with the agent or serves the tool
// registry over MCP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"trpc.group/trpc-go/trpc-agent-pipeline/agent"
	"trpc.group/trpc-go/trpc-agent-pipeline/config"
	"trpc.group/trpc-go/trpc-agent-pipeline/event"
	"trpc.group/trpc-go/trpc-agent-pipeline/log"
)

var (
	configPath = flag.String("config", "", "Path of the YAML configuration")
	prompt     = flag.String("prompt", "", "Answer this prompt with the agent and exit")
	transport  = flag.String("transport", "", "Override server.transport (none, stdio, http)")
	addr       = flag.String("addr", "", "Override server.address")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		log.Fatalf("workbench: %v", err)
	}
}

func run() error {
	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return err
		}
	}
	if *transport != "" {
		cfg.Server.Transport = *transport
	}
	if *addr != "" {
		cfg.Server.Address = *addr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	log.SetLevel(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	if *prompt != "" {
		return a.answer(ctx, *prompt)
	}
	switch cfg.Server.Transport {
	case config.TransportStdio:
		log.Info("serving MCP on stdio")
		return a.server.ServeStdio(ctx)
	case config.TransportHTTP:
		log.Infof("serving MCP on %s%s", cfg.Server.Address, cfg.Server.Path)
		return a.server.ListenAndServe(ctx, cfg.Server.Address)
	default:
		return errors.New("nothing to do: pass -prompt or set server.transport")
	}
}

// answer runs the agent once, logging its steps, and prints the answer.
func (a *app) answer(ctx context.Context, text string) error {
	if a.agent == nil {
		return errors.New("no provider configured for the agent")
	}
	h, err := a.runner.SubmitAgent(ctx, a.agent, text, a.tools, a.cfg.Budget())
	if err != nil {
		return err
	}
	events, err := a.runner.Subscribe(h)
	if err != nil {
		return err
	}
	stopCancel := context.AfterFunc(ctx, func() { _ = a.runner.Cancel(h) })
	defer stopCancel()
	for ev := range events {
		switch ev.Type {
		case event.TypeStepCompleted:
			log.Infof("step %d completed", ev.Step)
		case event.TypeTaskFinished:
			if ev.Error != "" {
				log.Warnf("task %s %s: %s", ev.TaskID, ev.Status, ev.Error)
			}
		}
	}
	// The subscription closed on run.terminated, so the run is over.
	out, err := a.runner.Wait(context.WithoutCancel(ctx), h)
	if err != nil {
		return err
	}
	if out.Agent == nil || out.Status != string(agent.ReasonAnswered) {
		return fmt.Errorf("run %s ended %s: %v", h, out.Status, out.Err)
	}
	fmt.Println(out.Agent.Answer)
	return nil
}

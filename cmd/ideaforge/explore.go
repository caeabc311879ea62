// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/SSJ-07/IB-Research-System-v2-sub000/pkg/logging"
	"github.com/SSJ-07/IB-Research-System-v2-sub000/pkg/ux"
	"github.com/SSJ-07/IB-Research-System-v2-sub000/services/explorer/config"
	"github.com/SSJ-07/IB-Research-System-v2-sub000/services/explorer/mcts"
	"github.com/SSJ-07/IB-Research-System-v2-sub000/services/explorer/server"
	"github.com/SSJ-07/IB-Research-System-v2-sub000/services/explorer/telemetry"
)

func runExploreCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// Interactive runs keep the terminal for progress output.
	if ux.GetPersonality().Level != ux.PersonalityMachine && cfg.Logging.LogDir == "" {
		cfg.Logging.Level = "warn"
	}
	logs := logging.New(cfg.Logging)
	defer logs.Close()
	logger := logs.Slog()

	shutdownTelemetry, err := telemetry.Init(cmd.Context(), telemetryConfig(cfg, os.Stderr))
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	o, err := newOracles(cfg, logger)
	if err != nil {
		return err
	}
	engine, err := engineFactory(cfg, o, tracesEnabled(cfg), logger)(mcts.WithGoal(exploreGoal))
	if err != nil {
		return err
	}
	defer closeCache(engine.Cache)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_, err = runExplore(ctx, cmd.OutOrStdout(), engine, exploreParams(cmd.Flags()), ux.IsInteractive())
	return err
}

// exploreParams builds run parameters from the explore flags. Float flags
// are passed only when given, so an explicit zero is kept.
func exploreParams(flags *pflag.FlagSet) mcts.RunParams {
	p := mcts.RunParams{
		Goal:          exploreGoal,
		MaxIterations: exploreIterations,
		MaxDepth:      exploreDepth,
	}
	if flags.Changed("exploration-constant") {
		p.ExplorationConstant = mcts.Float64(exploreC)
	}
	if flags.Changed("discount") {
		p.DiscountFactor = mcts.Float64(exploreDiscount)
	}
	return p
}

// runExplore runs one exploration on engine, printing a line per iteration
// and finally the tree and the best idea.
//
// Inputs:
//   - ctx: Cancellation requests a cooperative stop; the run still ends with
//     its complete event and the partial tree is printed.
//   - out: Destination for all output.
//   - engine: A fresh engine; its explorer must be Idle.
//   - params: Zero fields use the explorer's configured defaults.
//   - spin: Show a spinner while an action is in flight.
//
// Outputs:
//   - mcts.RunSummary: What happened during the run.
//   - error: Non-nil if the run could not start or an action failed.
func runExplore(ctx context.Context, out io.Writer, engine *server.Engine, params mcts.RunParams, spin bool) (mcts.RunSummary, error) {
	ex := engine.Explorer
	params = params.WithDefaults(ex.Config())
	printer := ux.NewPrinter(out)
	spin = spin && printer.Level() != ux.PersonalityMachine

	printer.Title("Exploring: " + params.Goal)

	events, unsubscribe := ex.Subscribe(ex.Config().EventBuffer)
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		printEvents(printer, events, params.MaxIterations, ux.NewSpinner(out, "Working on the next idea...", spin))
	}()

	// Stop once the caller gives up; the in-flight action finishes first.
	runDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			if err := ex.Stop(); err == nil {
				slog.Default().Info("Stop requested, finishing the current iteration")
			}
		case <-runDone:
		}
	}()

	summary, err := ex.Run(context.WithoutCancel(ctx), params)
	close(runDone)
	unsubscribe()
	<-printed

	if tree := ex.Tree().Format(); tree != "" {
		printer.Block(tree)
	}
	if err != nil {
		printer.Error(err.Error())
		return summary, err
	}

	if summary.Best == nil {
		printer.Warning("No scored idea was produced")
		return summary, nil
	}
	art := summary.Best.Node.Artifact()
	printer.Box(
		fmt.Sprintf("Best idea (%s %.2f)", summary.Best.Metric, summary.Best.Value),
		fmt.Sprintf("%s\n\n%s", art.Title, art.Text))
	printer.Success(fmt.Sprintf("%d iterations, %d nodes, stopped: %s",
		summary.Iterations, ex.Tree().Len(), summary.StopReason))
	return summary, nil
}

// printEvents renders explorer events until the subscription closes.
func printEvents(printer *ux.Printer, events <-chan mcts.Event, total int, spinner *ux.Spinner) {
	spinner.Start()
	defer spinner.Stop()

	for ev := range events {
		spinner.Stop()
		switch ev.Type {
		case mcts.EventSeeded:
			if ev.Node != nil {
				printer.Info("Seed idea: " + ev.Node.Artifact().Title)
			}
		case mcts.EventProgress:
			line := ux.IterationLine{
				Iteration: ev.Iteration,
				Total:     total,
				Action:    string(ev.Action),
				Reward:    ev.Reward,
			}
			if ev.Node != nil {
				line.NodeID = ev.Node.ID
				if score, ok := ev.Node.Score(); ok {
					line.Score = &score
				}
			}
			printer.Iteration(line)
			spinner.UpdateMessage(fmt.Sprintf("Working on iteration %d of %d...", ev.Iteration+1, total))
		case mcts.EventError:
			printer.Warning(fmt.Sprintf("Iteration %d failed (%s): %s", ev.Iteration, ev.Kind, ev.Error))
		}
		if !ev.Type.IsTerminal() {
			spinner.Start()
		}
	}
}

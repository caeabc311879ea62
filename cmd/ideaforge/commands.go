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
	"github.com/spf13/cobra"

	"github.com/SSJ-07/IB-Research-System-v2-sub000/pkg/ux"
)

// --- Global Command Variables ---
var (
	configPath       string
	personalityLevel string // UX personality level (standard/minimal/machine)

	exploreGoal       string
	exploreIterations int
	exploreDepth      int
	exploreC          float64
	exploreDiscount   float64

	rootCmd = &cobra.Command{
		Use:   "ideaforge",
		Short: "Explore and refine research ideas with tree search",
		Long: `ideaforge grows a tree of research ideas from a goal, choosing at
each step whether to review, retrieve literature or start over, and reports
the best-scored idea.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if personalityLevel != "" {
				ux.SetPersonalityLevel(ux.ParsePersonalityLevel(personalityLevel))
			} else {
				ux.InitPersonality()
			}
		},
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the exploration HTTP and WebSocket server",
		Args:  cobra.NoArgs,
		RunE:  runServe, // Defined in serve.go
	}

	exploreCmd = &cobra.Command{
		Use:   "explore",
		Short: "Run one exploration in the terminal and print the best idea",
		Args:  cobra.NoArgs,
		RunE:  runExploreCommand, // Defined in explore.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML or JSON config file")
	rootCmd.PersistentFlags().StringVar(&personalityLevel, "personality", "", "Output style: standard, minimal or machine")

	exploreCmd.Flags().StringVarP(&exploreGoal, "goal", "g", "", "Research goal to explore (required)")
	exploreCmd.Flags().IntVarP(&exploreIterations, "iterations", "n", 0, "Maximum iterations (0 uses the config)")
	exploreCmd.Flags().IntVar(&exploreDepth, "max-depth", 0, "Maximum tree depth (0 uses the config)")
	exploreCmd.Flags().Float64Var(&exploreC, "exploration-constant", 0, "UCT exploration constant; 0 is pure exploitation (unset uses the config)")
	exploreCmd.Flags().Float64Var(&exploreDiscount, "discount", 0, "Backpropagation discount per hop (unset uses the config)")
	_ = exploreCmd.MarkFlagRequired("goal")

	rootCmd.AddCommand(serveCmd, exploreCmd)
}

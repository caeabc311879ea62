// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package oracle

import (
	"fmt"
	"strings"

	"github.com/SSJ-07/IB-Research-System-v2-sub000/services/explorer/catalog"
	"github.com/SSJ-07/IB-Research-System-v2-sub000/services/explorer/mcts"
)

const ideaFormat = `Respond with only a JSON object:
{
  "title": "a concise title naming the core contribution",
  "proposed_method": "step-by-step methodology in markdown, with the intuition for why it works",
  "experiment_plan": "datasets, baselines, metrics and ablations in markdown"
}`

// aspectDescriptions explain the default review aspects to the reviewer.
var aspectDescriptions = map[string]string{
	"novelty":       "Originality compared with existing work.",
	"clarity":       "How well defined and understandable the idea is.",
	"feasibility":   "Technical practicality with current resources.",
	"effectiveness": "How well the approach would solve the stated problem.",
	"impact":        "Scientific and practical significance if it succeeds.",
}

func generatePrompt(goal string) string {
	return fmt.Sprintf(`You are an experienced researcher aiming for a top-tier venue.

Research topic:
%s

Propose one novel, significant and feasible research idea that addresses a real gap in the state of the art.

%s`, goal, ideaFormat)
}

func refreshPrompt(goal string, current *mcts.Artifact) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Research topic:\n%s\n\n", goal)
	fmt.Fprintf(&sb, "Current idea (do not reuse its approach):\n%s\n\n", current.Text)
	if recent := current.Memory.ProblematicAspects; len(recent) > 0 {
		fmt.Fprintf(&sb, "Earlier versions struggled with: %s.\n\n", strings.Join(recent, ", "))
	}
	sb.WriteString("Take a completely different direction: a new method, not a variation of the current one.\n\n")
	sb.WriteString(ideaFormat)
	return sb.String()
}

func refineFeedbackPrompt(req catalog.RefineRequest) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Research idea:\n%s\n\n", req.Current.Text)
	fmt.Fprintf(&sb, "Reviewer feedback:\n%s\n\n", catalog.FormatFeedback(req.Feedback))
	if recent := req.Memory.RecentProblematic(mcts.MaxProblematicAspects); len(recent) > 0 {
		fmt.Fprintf(&sb, "Previously addressed aspects (focus on new issues): %s\n\n", strings.Join(recent, ", "))
	}
	sb.WriteString("Improve the idea with targeted changes that address each critique while keeping its structure.\n\n")
	sb.WriteString(ideaFormat)
	return sb.String()
}

func refineKnowledgePrompt(req catalog.RefineRequest) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Research idea:\n%s\n\n", req.Current.Text)
	fmt.Fprintf(&sb, "Retrieved literature:\n%s\n\n", catalog.FormatSections(req.Knowledge))
	sb.WriteString("Refine the idea using the literature: sharpen what is novel relative to it, borrow sound techniques and cite them by title.\n\n")
	sb.WriteString(ideaFormat)
	return sb.String()
}

func queryPrompt(idea *mcts.Artifact) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Research idea:\n%s\n\n", idea.Text)
	sb.WriteString("Write one short natural-language search query that would retrieve the papers most relevant to the technical core of this idea.\n")
	if idea.Memory.LastQuery != "" {
		fmt.Fprintf(&sb, "The previous query was %q; focus on a different aspect.\n", idea.Memory.LastQuery)
	}
	sb.WriteString(`Respond with only a JSON object: {"query": "..."}`)
	return sb.String()
}

func scoreAllPrompt(idea *mcts.Artifact, aspects []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Evaluate this research idea:\n%s\n\nAspects:\n", idea.Text)
	for i, a := range aspects {
		fmt.Fprintf(&sb, "%d. %s", i+1, a)
		if d := aspectDescriptions[a]; d != "" {
			fmt.Fprintf(&sb, ": %s", d)
		}
		sb.WriteString("\n")
	}
	sb.WriteString(`
Score each aspect from 1 to 10 (10 is best) and give a short critical review of each.
Respond with only a JSON object: {"scores": {"<aspect>": <number>}, "reviews": {"<aspect>": "<review>"}}`)
	return sb.String()
}

func scoreAspectPrompt(idea *mcts.Artifact, aspect string) string {
	return fmt.Sprintf(`Evaluate this research idea only on %s. %s

Research idea:
%s

Quote exactly one weak passage from the idea, copied verbatim, and critique it.
Respond with only a JSON object:
{
  "aspect": %q,
  "score": <number 1-10>,
  "highlight": {"text": "<verbatim quote>", "category": "<short label>", "review": "<the weakness>"},
  "summary": "<one-sentence assessment>"
}`, aspect, aspectDescriptions[aspect], idea.Text, aspect)
}

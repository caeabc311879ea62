// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package mcts

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// AspectNovelty is the review aspect consulted by the retrieval bias.
const AspectNovelty = "novelty"

// MaxProblematicAspects caps the aspects remembered between refinements.
const MaxProblematicAspects = 3

// KnowledgeRef is a literature section the idea was refined against.
type KnowledgeRef struct {
	Title    string `json:"title"`
	Citation string `json:"citation,omitempty"`
	URL      string `json:"url,omitempty"`
	Excerpt  string `json:"excerpt,omitempty"`
}

// Memory is the exploration context carried from parent to child.
type Memory struct {
	// LastQuery is the most recent retrieval query on this path.
	LastQuery string `json:"last_query,omitempty"`

	// ProblematicAspects holds the most recently refined aspects, oldest
	// first, capped at MaxProblematicAspects.
	ProblematicAspects []string `json:"problematic_aspects,omitempty"`

	// ActionCount counts actions taken along the path to this node.
	ActionCount map[ActionType]int `json:"action_count,omitempty"`
}

// Clone returns a deep copy.
func (m Memory) Clone() Memory {
	out := Memory{LastQuery: m.LastQuery}
	if len(m.ProblematicAspects) > 0 {
		out.ProblematicAspects = append([]string(nil), m.ProblematicAspects...)
	}
	if len(m.ActionCount) > 0 {
		out.ActionCount = make(map[ActionType]int, len(m.ActionCount))
		for k, v := range m.ActionCount {
			out.ActionCount[k] = v
		}
	}
	return out
}

// RecordAction increments the count for action.
func (m *Memory) RecordAction(action ActionType) {
	if m.ActionCount == nil {
		m.ActionCount = make(map[ActionType]int)
	}
	m.ActionCount[action]++
}

// NoteProblematic appends aspects, dropping the oldest beyond the cap.
func (m *Memory) NoteProblematic(aspects ...string) {
	m.ProblematicAspects = append(m.ProblematicAspects, aspects...)
	if over := len(m.ProblematicAspects) - MaxProblematicAspects; over > 0 {
		m.ProblematicAspects = append([]string(nil), m.ProblematicAspects[over:]...)
	}
}

// RecentProblematic returns the last n problematic aspects.
func (m Memory) RecentProblematic(n int) []string {
	if n <= 0 || len(m.ProblematicAspects) == 0 {
		return nil
	}
	if n > len(m.ProblematicAspects) {
		n = len(m.ProblematicAspects)
	}
	return m.ProblematicAspects[len(m.ProblematicAspects)-n:]
}

// Artifact is a research idea snapshot plus its review.
//
// Thread Safety: Treat as immutable once attached to a node. Use Clone to
// derive a modified copy.
type Artifact struct {
	Title  string            `json:"title,omitempty"`
	Text   string            `json:"text"`
	Fields map[string]string `json:"fields,omitempty"`

	// Review results. Nil maps and a nil AverageScore mean "not scored".
	ReviewScores   map[string]float64 `json:"review_scores,omitempty"`
	ReviewFeedback map[string]string  `json:"review_feedback,omitempty"`
	AverageScore   *float64           `json:"average_score,omitempty"`

	RetrievedKnowledge []KnowledgeRef `json:"retrieved_knowledge,omitempty"`
	Feedback           string         `json:"feedback,omitempty"`
	Memory             Memory         `json:"memory"`
}

// Clone returns a deep copy of the artifact. A nil receiver returns nil.
func (a *Artifact) Clone() *Artifact {
	if a == nil {
		return nil
	}
	out := &Artifact{
		Title:    a.Title,
		Text:     a.Text,
		Feedback: a.Feedback,
		Memory:   a.Memory.Clone(),
	}
	if a.Fields != nil {
		out.Fields = make(map[string]string, len(a.Fields))
		for k, v := range a.Fields {
			out.Fields[k] = v
		}
	}
	if a.ReviewScores != nil {
		out.ReviewScores = make(map[string]float64, len(a.ReviewScores))
		for k, v := range a.ReviewScores {
			out.ReviewScores[k] = v
		}
	}
	if a.ReviewFeedback != nil {
		out.ReviewFeedback = make(map[string]string, len(a.ReviewFeedback))
		for k, v := range a.ReviewFeedback {
			out.ReviewFeedback[k] = v
		}
	}
	if a.AverageScore != nil {
		v := *a.AverageScore
		out.AverageScore = &v
	}
	if len(a.RetrievedKnowledge) > 0 {
		out.RetrievedKnowledge = append([]KnowledgeRef(nil), a.RetrievedKnowledge...)
	}
	return out
}

// Label returns the title, or the first line of the text when untitled.
func (a *Artifact) Label() string {
	if a == nil {
		return ""
	}
	if a.Title != "" {
		return a.Title
	}
	line, _, _ := strings.Cut(strings.TrimSpace(a.Text), "\n")
	return line
}

// Score returns the average review score and whether one is present.
func (a *Artifact) Score() (float64, bool) {
	if a == nil || a.AverageScore == nil {
		return 0, false
	}
	return *a.AverageScore, true
}

// Reward normalizes the average score to [0,1], or returns def when the
// artifact is unscored.
func (a *Artifact) Reward(def float64) float64 {
	score, ok := a.Score()
	if !ok {
		return def
	}
	return clamp(score/10, 0, 1)
}

// ContentHash returns a SHA256 of the idea text, used as a review cache key.
func (a *Artifact) ContentHash() string {
	h := sha256.New()
	h.Write([]byte(a.Title))
	h.Write([]byte{0})
	h.Write([]byte(a.Text))
	return hex.EncodeToString(h.Sum(nil))
}

// SetReview attaches a review to the artifact, replacing any previous one.
func (a *Artifact) SetReview(r *Review) {
	if r == nil {
		a.ReviewScores, a.ReviewFeedback, a.AverageScore = nil, nil, nil
		return
	}
	c := r.Clone()
	a.ReviewScores = c.Scores
	a.ReviewFeedback = c.Narratives
	a.AverageScore = c.Average
}

// Review returns the artifact's attached review, or nil when unscored.
func (a *Artifact) Review() *Review {
	if a == nil || len(a.ReviewScores) == 0 {
		return nil
	}
	r := &Review{
		Scores:     a.ReviewScores,
		Narratives: a.ReviewFeedback,
		Average:    a.AverageScore,
	}
	return r.Clone()
}

// Review is the result of scoring an artifact on all aspects.
type Review struct {
	Scores     map[string]float64 `json:"scores"`
	Narratives map[string]string  `json:"narratives,omitempty"`
	Average    *float64           `json:"average,omitempty"`
}

// Clone returns a deep copy.
func (r *Review) Clone() *Review {
	if r == nil {
		return nil
	}
	out := &Review{}
	if r.Scores != nil {
		out.Scores = make(map[string]float64, len(r.Scores))
		for k, v := range r.Scores {
			out.Scores[k] = v
		}
	}
	if r.Narratives != nil {
		out.Narratives = make(map[string]string, len(r.Narratives))
		for k, v := range r.Narratives {
			out.Narratives[k] = v
		}
	}
	if r.Average != nil {
		v := *r.Average
		out.Average = &v
	}
	return out
}

// LowAspects returns aspects scored strictly below threshold, lowest first.
// Equal scores are ordered by name.
func (r *Review) LowAspects(threshold float64) []string {
	if r == nil {
		return nil
	}
	low := make([]string, 0, len(r.Scores))
	for aspect, score := range r.Scores {
		if score < threshold {
			low = append(low, aspect)
		}
	}
	sort.Slice(low, func(i, j int) bool {
		si, sj := r.Scores[low[i]], r.Scores[low[j]]
		if si != sj {
			return si < sj
		}
		return low[i] < low[j]
	})
	return low
}

// AspectScore returns the score for aspect and whether it is present.
func (r *Review) AspectScore(aspect string) (float64, bool) {
	if r == nil {
		return 0, false
	}
	v, ok := r.Scores[aspect]
	return v, ok
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

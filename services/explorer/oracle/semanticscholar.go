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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/SSJ-07/IB-Research-System-v2-sub000/services/explorer/catalog"
)

// DefaultSemanticScholarURL is the public Graph API root.
const DefaultSemanticScholarURL = "https://api.semanticscholar.org"

const (
	s2Fields       = "title,abstract,url,year,venue,authors"
	s2ChunkSize    = 512
	s2ChunkOverlap = 64
)

var abstractSeparators = []string{"\n\n", "\n", ". ", " ", ""}

type s2Author struct {
	Name string `json:"name"`
}

type s2Paper struct {
	PaperID  string     `json:"paperId"`
	Title    string     `json:"title"`
	Abstract string     `json:"abstract"`
	URL      string     `json:"url"`
	Year     int        `json:"year"`
	Venue    string     `json:"venue"`
	Authors  []s2Author `json:"authors"`
}

type s2SearchResponse struct {
	Total int       `json:"total"`
	Data  []s2Paper `json:"data"`
}

// SemanticScholarSearcher searches paper abstracts through the Semantic
// Scholar Graph API. Each abstract is split into passages and the passage
// sharing the most terms with the query becomes the section text.
type SemanticScholarSearcher struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	splitter   textsplitter.TextSplitter
	logger     *slog.Logger
}

// NewSemanticScholarSearcher returns a searcher rooted at baseURL. An empty
// baseURL uses the public API; apiKey is optional.
func NewSemanticScholarSearcher(baseURL, apiKey string, logger *slog.Logger) *SemanticScholarSearcher {
	if baseURL == "" {
		baseURL = DefaultSemanticScholarURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SemanticScholarSearcher{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(s2ChunkSize),
			textsplitter.WithChunkOverlap(s2ChunkOverlap),
			textsplitter.WithSeparators(abstractSeparators),
		),
		logger: logger,
	}
}

// Search implements Searcher. Papers without an abstract are skipped.
func (s *SemanticScholarSearcher) Search(ctx context.Context, query string, limit int) ([]catalog.Section, error) {
	if limit <= 0 {
		limit = 5
	}
	params := url.Values{}
	params.Set("query", query)
	params.Set("limit", strconv.Itoa(limit))
	params.Set("fields", s2Fields)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/graph/v1/paper/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create semantic scholar request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set("x-api-key", s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("semantic scholar request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read semantic scholar response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		s.logger.Error("semantic scholar returned an error",
			slog.Int("status_code", resp.StatusCode),
			slog.String("response", truncate(string(body), 256)),
		)
		return nil, fmt.Errorf("semantic scholar failed with status %d", resp.StatusCode)
	}

	var parsed s2SearchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse semantic scholar response: %w", err)
	}

	terms := queryTerms(query)
	sections := make([]catalog.Section, 0, len(parsed.Data))
	for _, p := range parsed.Data {
		if strings.TrimSpace(p.Abstract) == "" {
			continue
		}
		text, score := s.bestPassage(p.Abstract, terms)
		sections = append(sections, catalog.Section{
			Title:    p.Title,
			Citation: citation(p),
			URL:      paperURL(p),
			Text:     text,
			Score:    score,
		})
	}
	s.logger.Debug("semantic scholar search",
		slog.String("query", query),
		slog.Int("total", parsed.Total),
		slog.Int("sections", len(sections)),
	)
	return sections, nil
}

// bestPassage returns the abstract passage with the highest share of query
// terms. The first passage wins ties.
func (s *SemanticScholarSearcher) bestPassage(abstract string, terms map[string]struct{}) (string, float64) {
	chunks, err := s.splitter.SplitText(abstract)
	if err != nil || len(chunks) == 0 {
		return abstract, termOverlap(abstract, terms)
	}
	best, bestScore := chunks[0], termOverlap(chunks[0], terms)
	for _, c := range chunks[1:] {
		if sc := termOverlap(c, terms); sc > bestScore {
			best, bestScore = c, sc
		}
	}
	return best, bestScore
}

func queryTerms(query string) map[string]struct{} {
	terms := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(query)) {
		w = strings.Trim(w, `.,;:!?"'()[]`)
		if len(w) > 2 {
			terms[w] = struct{}{}
		}
	}
	return terms
}

func termOverlap(text string, terms map[string]struct{}) float64 {
	if len(terms) == 0 {
		return 0
	}
	seen := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, `.,;:!?"'()[]`)
		if _, ok := terms[w]; ok {
			seen[w] = struct{}{}
		}
	}
	return float64(len(seen)) / float64(len(terms))
}

func citation(p s2Paper) string {
	var who string
	switch len(p.Authors) {
	case 0:
		who = p.Venue
	case 1:
		who = p.Authors[0].Name
	default:
		who = p.Authors[0].Name + " et al."
	}
	if p.Year > 0 {
		if who == "" {
			return strconv.Itoa(p.Year)
		}
		return fmt.Sprintf("%s, %d", who, p.Year)
	}
	return who
}

func paperURL(p s2Paper) string {
	if p.URL != "" {
		return p.URL
	}
	if p.PaperID != "" {
		return "https://www.semanticscholar.org/paper/" + p.PaperID
	}
	return ""
}

func truncate(s string, n int) string {
	if r := []rune(s); len(r) > n {
		return string(r[:n]) + "..."
	}
	return s
}

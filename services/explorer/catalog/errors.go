// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package catalog

import "errors"

var (
	// ErrCircuitOpen is wrapped when an oracle's breaker rejects a call.
	ErrCircuitOpen = errors.New("oracle circuit breaker is open")

	// ErrEmptyQuery is wrapped when the derived retrieval query is blank.
	ErrEmptyQuery = errors.New("retrieval query is empty")

	// ErrNoSections is wrapped when retrieval returns nothing.
	ErrNoSections = errors.New("retrieval returned no sections")

	// ErrNoScores is wrapped when a review covers none of the configured aspects.
	ErrNoScores = errors.New("review returned no configured aspect scores")

	// ErrEmptyIdea is wrapped when the idea oracle returns blank text.
	ErrEmptyIdea = errors.New("idea oracle returned an empty idea")

	// ErrMissingOracle is returned by NewCatalog when an oracle is nil.
	ErrMissingOracle = errors.New("oracle must not be nil")

	// ErrInvalidConfig is returned for invalid catalog configuration.
	ErrInvalidConfig = errors.New("invalid catalog config")
)

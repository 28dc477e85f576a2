// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
)

var (
	// ErrMissingAPIKey is returned by constructors when no key is configured.
	ErrMissingAPIKey = errors.New("api key is missing")

	// ErrEmptyResponse is returned when the provider answered without content.
	ErrEmptyResponse = errors.New("provider returned no choices")
)

// ProviderError describes a failed provider call.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// rateLimitMarkers are matched case-insensitively against error text.
var rateLimitMarkers = []string{
	"rate limit",
	"rate_limit",
	"ratelimit",
	"too many requests",
	"429",
}

// IsRateLimited reports whether err is a provider rate-limit response:
// HTTP 429 or an error message carrying a rate-limit marker.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) && pe.StatusCode == http.StatusTooManyRequests {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range rateLimitMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

var statusCodePattern = regexp.MustCompile(`status code:?\s*(\d{3})`)

// statusFromMessage extracts "status code: NNN" from free-form error text.
func statusFromMessage(msg string) int {
	m := statusCodePattern.FindStringSubmatch(strings.ToLower(msg))
	if m == nil {
		return 0
	}
	code, _ := strconv.Atoi(m[1])
	return code
}

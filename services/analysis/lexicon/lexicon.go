// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package lexicon bakes the heuristic keyword lists into the binary. The YAML
travels with the executable so the fallback analyzer behaves the same on
every host, and Parse lets operators load a replacement file.
*/
package lexicon

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"gopkg.in/yaml.v3"
)

//go:embed lexicon.yaml
var embedded []byte

// Lexicon holds curated keyword lists. Toxic words are grouped by category.
type Lexicon struct {
	Positive []string            `yaml:"positive"`
	Negative []string            `yaml:"negative"`
	Toxic    map[string][]string `yaml:"toxic"`
}

var (
	defaultOnce sync.Once
	defaultLex  *Lexicon
	defaultErr  error
)

// Default returns the embedded lexicon, parsed once.
func Default() (*Lexicon, error) {
	defaultOnce.Do(func() {
		defaultLex, defaultErr = Parse(embedded)
	})
	return defaultLex, defaultErr
}

// Parse decodes and normalizes a lexicon document. Entries are lower-cased
// and trimmed; empty entries and duplicates are dropped.
func Parse(data []byte) (*Lexicon, error) {
	var lex Lexicon
	if err := yaml.Unmarshal(data, &lex); err != nil {
		return nil, fmt.Errorf("parse lexicon: %w", err)
	}
	lex.Positive = normalize(lex.Positive)
	lex.Negative = normalize(lex.Negative)
	for category, words := range lex.Toxic {
		lex.Toxic[category] = normalize(words)
	}
	if len(lex.Positive) == 0 || len(lex.Negative) == 0 {
		return nil, fmt.Errorf("parse lexicon: positive and negative lists must not be empty")
	}
	return &lex, nil
}

// Categories returns the toxic categories in sorted order.
func (l *Lexicon) Categories() []string {
	out := make([]string, 0, len(l.Toxic))
	for c := range l.Toxic {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// dotless maps both Turkish i forms onto ASCII i.
var dotless = strings.NewReplacer("İ", "i", "ı", "i")

// Fold lower-cases text for matching. Dotted and dotless i collapse to plain
// i on both sides of the match, so "HIZLI", "hızlı" and "hizli" are the same
// token whichever casing rules produced them.
func Fold(text string) string {
	return strings.ToLower(dotless.Replace(text))
}

// Tokens splits folded text into letter/digit runs.
func Tokens(folded string) []string {
	return strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// Count returns how many times entries from words occur in the text. Single
// words match token prefixes; multi-word phrases match as substrings of the
// folded text.
func Count(folded string, tokens []string, words []string) int {
	n := 0
	for _, w := range words {
		if strings.Contains(w, " ") {
			n += strings.Count(folded, w)
			continue
		}
		for _, tok := range tokens {
			if strings.HasPrefix(tok, w) {
				n++
			}
		}
	}
	return n
}

func normalize(words []string) []string {
	seen := make(map[string]struct{}, len(words))
	out := make([]string, 0, len(words))
	for _, w := range words {
		w = Fold(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}

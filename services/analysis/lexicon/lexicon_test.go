// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lexicon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_Loads(t *testing.T) {
	lex, err := Default()
	require.NoError(t, err)

	assert.Contains(t, lex.Positive, "harika")
	assert.Contains(t, lex.Positive, "mükemmel")
	assert.Contains(t, lex.Negative, "berbat")
	assert.Equal(t, []string{"harassment", "insult", "profanity"}, lex.Categories())

	again, err := Default()
	require.NoError(t, err)
	assert.Same(t, lex, again)
}

func TestParse_Normalizes(t *testing.T) {
	lex, err := Parse([]byte(`
positive: [" Good ", good, "", GREAT]
negative: [Bad]
toxic:
  insult: [Idiot]
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"good", "great"}, lex.Positive)
	assert.Equal(t, []string{"bad"}, lex.Negative)
	assert.Equal(t, []string{"idiot"}, lex.Toxic["insult"])
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse([]byte("positive: [a"))
	assert.Error(t, err)

	_, err = Parse([]byte("positive: [good]\n"))
	assert.Error(t, err, "negative list is required")
}

func TestFoldAndTokens(t *testing.T) {
	folded := Fold("İYİ, Harikaydı!")
	assert.Equal(t, "iyi, harikaydi!", folded)
	assert.Equal(t, []string{"iyi", "harikaydi"}, Tokens(folded))
}

func TestFold_TurkishCapitals(t *testing.T) {
	assert.Equal(t, Fold("hızlı"), Fold("HIZLI"))
	assert.Equal(t, Fold("ilgisiz"), Fold("İLGİSİZ"))

	lex, err := Default()
	require.NoError(t, err)
	folded := Fold("SERVİS ÇOK HIZLI VE GÜZEL")
	assert.Equal(t, 2, Count(folded, Tokens(folded), lex.Positive))
}

func TestCount(t *testing.T) {
	folded := Fold("Harika bir yer, harikaydı. Hayal kırıklığı yok, good")
	tokens := Tokens(folded)

	tests := []struct {
		name  string
		words []string
		want  int
	}{
		{"prefix matches inflections", []string{"harika"}, 2},
		{"phrase", []string{"hayal kırıklığı"}, 1},
		{"several words", []string{"harika", "good"}, 3},
		{"no match", []string{"berbat"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			words := make([]string, len(tt.words))
			for i, w := range tt.words {
				words[i] = Fold(w)
			}
			assert.Equal(t, tt.want, Count(folded, tokens, words))
		})
	}
}

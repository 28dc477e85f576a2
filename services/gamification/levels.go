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
Package gamification holds the XP and level arithmetic.

Level n needs Threshold(n) = floor(BasePerLevel * Multiplier^(n-1)) XP, so
with the default curve level 1 spans [0, 1000), level 2 spans [1000, 2500),
level 3 spans [2500, 4750), and so on. Every function is total: negative or
non-finite XP counts as zero and an invalid curve falls back to the default.
*/
package gamification

import "math"

const (
	defaultBasePerLevel = 1000
	defaultMultiplier   = 1.5

	// MaxLevel bounds the level walk. XP beyond the MaxLevel threshold
	// stays at MaxLevel with full progress.
	MaxLevel = 100_000
)

// LevelCurve defines per-level XP thresholds.
type LevelCurve struct {
	BasePerLevel float64 `json:"base_per_level" yaml:"base_per_level"`
	Multiplier   float64 `json:"multiplier" yaml:"multiplier"`
}

// DefaultCurve is 1000 XP for level 1, growing 1.5x per level.
func DefaultCurve() LevelCurve {
	return LevelCurve{BasePerLevel: defaultBasePerLevel, Multiplier: defaultMultiplier}
}

// Valid reports whether the curve can be used as is.
func (c LevelCurve) Valid() bool {
	return finite(c.BasePerLevel) && finite(c.Multiplier) &&
		c.BasePerLevel >= 1 && c.Multiplier >= 1
}

func (c LevelCurve) normalized() LevelCurve {
	if !c.Valid() {
		return DefaultCurve()
	}
	return c
}

// LevelProgress is the full picture for one XP value.
type LevelProgress struct {
	XP              float64 `json:"xp"`
	Level           int     `json:"level"`
	ProgressPercent float64 `json:"progress_percent"`
	XPIntoLevel     float64 `json:"xp_into_level"`
	XPToNextLevel   float64 `json:"xp_to_next_level"`
	LevelStartXP    float64 `json:"level_start_xp"`
	LevelThreshold  float64 `json:"level_threshold"`
}

// Threshold returns the XP needed to finish level n. n below 1 is treated
// as 1.
func (c LevelCurve) Threshold(n int) float64 {
	c = c.normalized()
	if n < 1 {
		n = 1
	}
	return math.Floor(c.BasePerLevel * math.Pow(c.Multiplier, float64(n-1)))
}

// XPAtLevelStart returns the cumulative XP at which level begins.
func (c LevelCurve) XPAtLevelStart(level int) float64 {
	c = c.normalized()
	level = min(max(level, 1), MaxLevel)
	total := 0.0
	for n := 1; n < level; n++ {
		total += c.Threshold(n)
		if math.IsInf(total, 1) {
			return math.MaxFloat64
		}
	}
	return total
}

// walk finds the level containing xp together with the XP at which that
// level starts and its threshold.
func (c LevelCurve) walk(xp float64) (level int, start, threshold float64) {
	c = c.normalized()
	xp = clampXP(xp)

	level, start = 1, 0
	threshold = c.Threshold(1)
	for level < MaxLevel {
		next := start + threshold
		if math.IsInf(next, 1) || xp < next {
			break
		}
		start = next
		level++
		threshold = c.Threshold(level)
		if math.IsInf(threshold, 1) {
			break
		}
	}
	return level, start, threshold
}

// LevelForXP returns the level reached with xp accumulated. Always >= 1.
func (c LevelCurve) LevelForXP(xp float64) int {
	level, _, _ := c.walk(xp)
	return level
}

// XPToNextLevel returns the XP still missing for the next level.
func (c LevelCurve) XPToNextLevel(xp float64) float64 {
	_, start, threshold := c.walk(xp)
	return math.Max(start+threshold-clampXP(xp), 0)
}

// LevelProgressPercent returns progress through the current level in
// [0,100].
func (c LevelCurve) LevelProgressPercent(xp float64) float64 {
	_, start, threshold := c.walk(xp)
	return percent(clampXP(xp)-start, threshold)
}

// Progress computes every level figure for xp in one walk.
func (c LevelCurve) Progress(xp float64) LevelProgress {
	xp = clampXP(xp)
	level, start, threshold := c.walk(xp)
	return LevelProgress{
		XP:              xp,
		Level:           level,
		ProgressPercent: percent(xp-start, threshold),
		XPIntoLevel:     math.Max(xp-start, 0),
		XPToNextLevel:   math.Max(start+threshold-xp, 0),
		LevelStartXP:    start,
		LevelThreshold:  threshold,
	}
}

// LevelForXP uses the default curve.
func LevelForXP(xp float64) int { return DefaultCurve().LevelForXP(xp) }

// XPToNextLevel uses the default curve.
func XPToNextLevel(xp float64) float64 { return DefaultCurve().XPToNextLevel(xp) }

// LevelProgressPercent uses the default curve.
func LevelProgressPercent(xp float64) float64 { return DefaultCurve().LevelProgressPercent(xp) }

func percent(into, threshold float64) float64 {
	if threshold <= 0 || math.IsInf(threshold, 0) {
		return 100
	}
	return math.Min(math.Max(into/threshold*100, 0), 100)
}

func clampXP(xp float64) float64 {
	if math.IsNaN(xp) || math.IsInf(xp, 0) || xp < 0 {
		return 0
	}
	return xp
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

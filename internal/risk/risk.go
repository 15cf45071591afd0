// Package risk scores entities on a 0-100 scale and assigns them a tier.
//
// A backend-supplied risk_score always wins. Otherwise a per-kind heuristic is
// computed from the entity's typed details. Tiers come from a single threshold
// function, LevelFor, which is used for every client-side decision.
package risk

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/htrap1211/GraphX-OSINT/api/schemas"
)

// Level is the risk tier of an entity.
type Level string

const (
	LevelLow    Level = "LOW"
	LevelMedium Level = "MEDIUM"
	LevelHigh   Level = "HIGH"
)

// Canonical tier thresholds.
const (
	HighThreshold   = 60
	MediumThreshold = 30
	MaxScore        = 100
)

func (l Level) String() string { return string(l) }

// Rank orders levels for sorting: Low < Medium < High.
func (l Level) Rank() int {
	switch l {
	case LevelHigh:
		return 2
	case LevelMedium:
		return 1
	}
	return 0
}

// ParseLevel accepts a backend risk_level string case-insensitively.
func ParseLevel(s string) (Level, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LOW":
		return LevelLow, true
	case "MEDIUM":
		return LevelMedium, true
	case "HIGH":
		return LevelHigh, true
	}
	return "", false
}

// LevelFor maps a score to its tier.
func LevelFor(score int) Level {
	switch {
	case score >= HighThreshold:
		return LevelHigh
	case score >= MediumThreshold:
		return LevelMedium
	default:
		return LevelLow
	}
}

// Source records where a score came from.
type Source string

const (
	SourceBackend   Source = "backend"
	SourceHeuristic Source = "heuristic"
)

// Assessment is the classifier's verdict for one entity.
type Assessment struct {
	Score   int      `json:"score" yaml:"score"`
	Level   Level    `json:"level" yaml:"level"`
	Display string   `json:"display" yaml:"display"`
	Source  Source   `json:"source" yaml:"source"`
	Reasons []string `json:"reasons,omitempty" yaml:"reasons,omitempty"`
}

// Classify scores an entity. It has no side effects and returns the same
// assessment for identical input.
func Classify(e schemas.Entity) Assessment {
	if score, ok := backendScore(e.Properties); ok {
		a := Assessment{
			Score:   score,
			Level:   LevelFor(score),
			Source:  SourceBackend,
			Reasons: e.Properties.Strings(schemas.PropRiskReasons),
		}
		a.Display = string(a.Level)
		if raw, ok := e.Properties.String(schemas.PropRiskLevel); ok && strings.TrimSpace(raw) != "" {
			a.Display = raw
			if lvl, ok := ParseLevel(raw); ok {
				a.Level = lvl
			}
		}
		return a
	}

	raw, reasons := heuristic(e)
	score := clamp(raw)
	lvl := LevelFor(score)
	return Assessment{
		Score:   score,
		Level:   lvl,
		Display: string(lvl),
		Source:  SourceHeuristic,
		Reasons: reasons,
	}
}

// backendScore returns the risk_score field if it holds a number or a numeric
// string; anything else is treated as absent.
func backendScore(p schemas.Properties) (int, bool) {
	if n, ok := p.Number(schemas.PropRiskScore); ok {
		return clamp(n), true
	}
	return 0, false
}

func heuristic(e schemas.Entity) (float64, []string) {
	details, err := schemas.DecodeDetails(e)
	if err != nil {
		return 0, nil
	}

	var score float64
	var reasons []string
	switch d := details.(type) {
	case schemas.EmailDetails:
		if d.BreachCount != nil && *d.BreachCount > 0 {
			score += 20 * *d.BreachCount
			reasons = append(reasons, fmt.Sprintf("found in %s known breaches", formatNumber(*d.BreachCount)))
		}
		// A zero score or age means the provider had no value.
		if d.Score != nil && *d.Score != 0 && *d.Score < 50 {
			score += 30
			reasons = append(reasons, fmt.Sprintf("low deliverability score (%s)", formatNumber(*d.Score)))
		}
	case schemas.DomainDetails:
		if d.DomainAgeDays != nil && *d.DomainAgeDays != 0 {
			age := *d.DomainAgeDays
			switch {
			case age < 30:
				score += 40
				reasons = append(reasons, fmt.Sprintf("domain registered %s days ago", formatNumber(age)))
			case age < 90:
				score += 20
				reasons = append(reasons, fmt.Sprintf("recently registered domain (%s days)", formatNumber(age)))
			}
		}
	case schemas.IPDetails:
		if d.IsProxy != nil && *d.IsProxy {
			score += 30
			reasons = append(reasons, "proxy or VPN address")
		}
		if d.IsHosting != nil && *d.IsHosting {
			score += 20
			reasons = append(reasons, "hosting provider address")
		}
	}
	return score, reasons
}

// clamp rounds a raw score and bounds it to [0, MaxScore]. NaN scores as 0.
func clamp(v float64) int {
	switch {
	case math.IsNaN(v), v <= 0:
		return 0
	case v >= MaxScore:
		return MaxScore
	}
	return int(math.Round(v))
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

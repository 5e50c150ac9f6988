// Package moderation applies warnings and bans and enforces the automatic
// ban escalation ladder.
package moderation

import (
	"fmt"
	"sort"
	"time"
)

// Threshold is one rung of the escalation ladder.
type Threshold struct {
	Warnings  int
	Duration  time.Duration
	Permanent bool
}

// Policy is an ordered escalation ladder.
type Policy struct {
	thresholds []Threshold
}

// DefaultPolicy is 1 day at 5 warnings, 3 days at 10, 7 days at 15, 14 days
// at 20 and a permanent ban at 25.
func DefaultPolicy() Policy {
	p, _ := NewPolicy([]Threshold{
		{Warnings: 5, Duration: 1440 * time.Minute},
		{Warnings: 10, Duration: 4320 * time.Minute},
		{Warnings: 15, Duration: 10080 * time.Minute},
		{Warnings: 20, Duration: 20160 * time.Minute},
		{Warnings: 25, Permanent: true},
	})
	return p
}

// NewPolicy validates and sorts thresholds.
func NewPolicy(thresholds []Threshold) (Policy, error) {
	sorted := append([]Threshold(nil), thresholds...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Warnings < sorted[j].Warnings })
	for i, t := range sorted {
		if t.Warnings <= 0 {
			return Policy{}, fmt.Errorf("moderation: threshold warnings must be positive, got %d", t.Warnings)
		}
		if !t.Permanent && t.Duration <= 0 {
			return Policy{}, fmt.Errorf("moderation: threshold at %d warnings needs a duration", t.Warnings)
		}
		if i > 0 && sorted[i-1].Warnings == t.Warnings {
			return Policy{}, fmt.Errorf("moderation: duplicate threshold at %d warnings", t.Warnings)
		}
	}
	return Policy{thresholds: sorted}, nil
}

// Thresholds returns a copy of the ladder.
func (p Policy) Thresholds() []Threshold {
	return append([]Threshold(nil), p.thresholds...)
}

// Next returns the highest threshold reached by warns that lies above the
// already applied level.
func (p Policy) Next(warns, level int) (Threshold, bool) {
	for i := len(p.thresholds) - 1; i >= 0; i-- {
		t := p.thresholds[i]
		if t.Warnings > warns {
			continue
		}
		if t.Warnings > level {
			return t, true
		}
		return Threshold{}, false
	}
	return Threshold{}, false
}

// Clamp returns the highest threshold at or below warns, or zero.
func (p Policy) Clamp(warns int) int {
	for i := len(p.thresholds) - 1; i >= 0; i-- {
		if p.thresholds[i].Warnings <= warns {
			return p.thresholds[i].Warnings
		}
	}
	return 0
}

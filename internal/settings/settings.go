// Package settings holds the live shift configuration: clock-out cutoffs,
// warm-up tuning, and cooldown windows. The value is swapped wholesale by
// the watcher; readers always observe a complete old or new snapshot.
package settings

import (
	"encoding/json"
	"fmt"
	"time"
)

// GroupCommitMode controls what happens to admissions that arrive while a
// group commit is running.
type GroupCommitMode string

const (
	GroupCommitReject GroupCommitMode = "reject_admissions"
	GroupCommitQueue  GroupCommitMode = "queue_admissions"
)

// MinuteOfDay is a time of day in minutes since midnight, parsed from and
// rendered as "HH:MM".
type MinuteOfDay int

// ParseMinuteOfDay parses "HH:MM" (24h).
func ParseMinuteOfDay(s string) (MinuteOfDay, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("time of day %q out of range", s)
	}
	return MinuteOfDay(h*60 + m), nil
}

func (m MinuteOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(m)/60, int(m)%60)
}

// OnDay anchors the minute to t's calendar day in t's timezone.
func (m MinuteOfDay) OnDay(t time.Time) time.Time {
	y, mo, d := t.Date()
	return time.Date(y, mo, d, int(m)/60, int(m)%60, 0, 0, t.Location())
}

// MarshalYAML renders "HH:MM".
func (m MinuteOfDay) MarshalYAML() (interface{}, error) { return m.String(), nil }

// UnmarshalYAML accepts "HH:MM".
func (m *MinuteOfDay) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	parsed, err := ParseMinuteOfDay(raw)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// MarshalJSON renders "HH:MM".
func (m MinuteOfDay) MarshalJSON() ([]byte, error) { return json.Marshal(m.String()) }

// UnmarshalJSON accepts "HH:MM".
func (m *MinuteOfDay) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	parsed, err := ParseMinuteOfDay(raw)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Shift is the complete live settings snapshot. All fields are scalar so
// the struct is comparable and copies are cheap.
type Shift struct {
	EarlyShiftMinClockout    MinuteOfDay     `yaml:"early_shift_min_clockout" json:"early_shift_min_clockout"`
	RegularShiftMinClockout  MinuteOfDay     `yaml:"regular_shift_min_clockout" json:"regular_shift_min_clockout"`
	WarmupEnabled            bool            `yaml:"warmup_enabled" json:"warmup_enabled"`
	WarmupFrames             int             `yaml:"warmup_frames" json:"warmup_frames"`
	WarmupStabilityThreshold float64         `yaml:"warmup_stability_threshold" json:"warmup_stability_threshold"`
	RecognitionCooldownSec   float64         `yaml:"recognition_cooldown" json:"recognition_cooldown"`
	ScanCooldownFaceSec      float64         `yaml:"scan_cooldown_face" json:"scan_cooldown_face"`
	ScanCooldownCodeSec      float64         `yaml:"scan_cooldown_code" json:"scan_cooldown_code"`
	GroupCommitMode          GroupCommitMode `yaml:"group_commit_mode" json:"group_commit_mode"`
}

// Default returns the factory settings. Sources start from this value and
// overlay whatever the blob carries, so absent keys keep their defaults.
func Default() Shift {
	return Shift{
		EarlyShiftMinClockout:    MinuteOfDay(17 * 60),
		RegularShiftMinClockout:  MinuteOfDay(17*60 + 15),
		WarmupEnabled:            true,
		WarmupFrames:             15,
		WarmupStabilityThreshold: 0.08,
		RecognitionCooldownSec:   3.0,
		ScanCooldownFaceSec:      5.0,
		ScanCooldownCodeSec:      5.0,
		GroupCommitMode:          GroupCommitReject,
	}
}

// RecognitionCooldown is the global gap between two ready sightings.
func (s Shift) RecognitionCooldown() time.Duration {
	return time.Duration(s.RecognitionCooldownSec * float64(time.Second))
}

// ScanCooldown returns the per-method window; methods without a window
// return zero.
func (s Shift) ScanCooldown(method string) time.Duration {
	switch method {
	case "face":
		return time.Duration(s.ScanCooldownFaceSec * float64(time.Second))
	case "code":
		return time.Duration(s.ScanCooldownCodeSec * float64(time.Second))
	}
	return 0
}

// rangeCheck is one numeric validation rule.
type rangeCheck struct {
	name     string
	value    float64
	min, max float64
}

// Validate rejects settings a kiosk could not safely run with.
func (s Shift) Validate() error {
	checks := []rangeCheck{
		{"warmup_frames", float64(s.WarmupFrames), 1, 300},
		{"warmup_stability_threshold", s.WarmupStabilityThreshold, 0.001, 1.0},
		{"recognition_cooldown", s.RecognitionCooldownSec, 0, 600},
		{"scan_cooldown_face", s.ScanCooldownFaceSec, 0, 600},
		{"scan_cooldown_code", s.ScanCooldownCodeSec, 0, 600},
	}
	for _, c := range checks {
		if c.value < c.min || c.value > c.max {
			return fmt.Errorf("settings: %s=%v outside [%v, %v]", c.name, c.value, c.min, c.max)
		}
	}
	switch s.GroupCommitMode {
	case GroupCommitReject, GroupCommitQueue:
	default:
		return fmt.Errorf("settings: unknown group_commit_mode %q", s.GroupCommitMode)
	}
	return nil
}

// Package tuning holds every numeric knob of the simulation. The values in
// Default are the reference experiment parameters; a YAML file can override
// any subset of them per deployment.
package tuning

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Window is a deadline or delay window split by ticket severity.
type Window struct {
	NormalMs   int `yaml:"normal_ms"`
	CriticalMs int `yaml:"critical_ms"`
}

// For returns the window for the given criticality as a duration.
func (w Window) For(critical bool) time.Duration {
	if critical {
		return time.Duration(w.CriticalMs) * time.Millisecond
	}
	return time.Duration(w.NormalMs) * time.Millisecond
}

// Range is a randomized delay interval.
type Range struct {
	MinMs int `yaml:"min_ms"`
	MaxMs int `yaml:"max_ms"`
}

// AITuning controls the autonomous AI resolver.
type AITuning struct {
	ThinkDelayMs int `yaml:"think_delay_ms"`
	// Percent chance the AI never attempts the ticket.
	MissNormalPct   int `yaml:"miss_normal_pct"`
	MissCriticalPct int `yaml:"miss_critical_pct"`
	// Percent chance an attempted ticket fails and is released.
	FailNormalPct   int   `yaml:"fail_normal_pct"`
	FailCriticalPct int   `yaml:"fail_critical_pct"`
	SolveNormal     Range `yaml:"solve_normal"`
	SolveCritical   Range `yaml:"solve_critical"`
}

// DelegateTuning controls the delegate-colleague resolver.
type DelegateTuning struct {
	RefusalDelay    Range `yaml:"refusal_delay"`
	SolveNormal     Range `yaml:"solve_normal"`
	SolveCritical   Range `yaml:"solve_critical"`
	CriticalFailPct int   `yaml:"critical_fail_pct"`
}

// RosterTuning controls the colleague availability toggler.
type RosterTuning struct {
	CheckIntervalMs   int     `yaml:"check_interval_ms"`
	LeaveProbability  float64 `yaml:"leave_probability"`
	ReturnProbability float64 `yaml:"return_probability"`
}

// Tuning is the full simulation parameter set.
type Tuning struct {
	ShiftDurationMs    int     `yaml:"shift_duration_ms"`
	StageTickMs        int     `yaml:"stage_tick_ms"`
	SweepIntervalMs    int     `yaml:"sweep_interval_ms"`
	SpawnIntervalMs    int     `yaml:"spawn_interval_ms"`
	SpawnProbability   float64 `yaml:"spawn_probability"`
	CriticalCooldownMs int     `yaml:"critical_cooldown_ms"`

	AssignDeadline Window `yaml:"assign_deadline"`
	SolveDeadline  Window `yaml:"solve_deadline"`
	ReopenDeadline Window `yaml:"reopen_deadline"`

	// Delay before the simulated client reviews a submitted solution.
	ReviewDelayMs int `yaml:"review_delay_ms"`
	// Delay before the client acknowledges a resolved ticket.
	ClientReplyDelayMs int `yaml:"client_reply_delay_ms"`
	// Delay before the AI assistant announces a new ticket in normal mode.
	NewTicketNoticeMs int `yaml:"new_ticket_notice_ms"`
	// Free-text solutions must be strictly longer than this to satisfy the
	// client when no KB article is linked.
	MinSolutionLen int `yaml:"min_solution_len"`

	TutorialTicketCount  int `yaml:"tutorial_ticket_count"`
	TutorialSpawnDelayMs int `yaml:"tutorial_spawn_delay_ms"`

	AI       AITuning       `yaml:"ai"`
	Delegate DelegateTuning `yaml:"delegate"`
	Roster   RosterTuning   `yaml:"roster"`
}

// Default returns the reference parameter set.
func Default() Tuning {
	return Tuning{
		ShiftDurationMs:    600_000,
		StageTickMs:        1_000,
		SweepIntervalMs:    5_000,
		SpawnIntervalMs:    45_000,
		SpawnProbability:   0.3,
		CriticalCooldownMs: 30_000,

		AssignDeadline: Window{NormalMs: 120_000, CriticalMs: 60_000},
		SolveDeadline:  Window{NormalMs: 180_000, CriticalMs: 60_000},
		ReopenDeadline: Window{NormalMs: 120_000, CriticalMs: 60_000},

		ReviewDelayMs:      1_500,
		ClientReplyDelayMs: 1_000,
		NewTicketNoticeMs:  2_000,
		MinSolutionLen:     15,

		TutorialTicketCount:  3,
		TutorialSpawnDelayMs: 1_500,

		AI: AITuning{
			ThinkDelayMs:    1_000,
			MissNormalPct:   20,
			MissCriticalPct: 95,
			FailNormalPct:   40,
			FailCriticalPct: 80,
			SolveNormal:     Range{MinMs: 3_000, MaxMs: 8_000},
			SolveCritical:   Range{MinMs: 2_000, MaxMs: 5_000},
		},
		Delegate: DelegateTuning{
			RefusalDelay:    Range{MinMs: 2_000, MaxMs: 4_000},
			SolveNormal:     Range{MinMs: 10_000, MaxMs: 20_000},
			SolveCritical:   Range{MinMs: 5_000, MaxMs: 10_000},
			CriticalFailPct: 99,
		},
		Roster: RosterTuning{
			CheckIntervalMs:   5_000,
			LeaveProbability:  0.15,
			ReturnProbability: 0.25,
		},
	}
}

// Load reads a YAML tuning file layered over the defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (Tuning, error) {
	t := Default()
	if path == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, fmt.Errorf("tuning: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning: parse %s: %w", path, err)
	}
	return t, nil
}

// ShiftDuration is the stage-2 shift length.
func (t Tuning) ShiftDuration() time.Duration {
	return time.Duration(t.ShiftDurationMs) * time.Millisecond
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// StageTick is the per-second countdown interval.
func (t Tuning) StageTick() time.Duration { return ms(t.StageTickMs) }

// SweepInterval is the deadline-sweep interval.
func (t Tuning) SweepInterval() time.Duration { return ms(t.SweepIntervalMs) }

// SpawnInterval is the ticket-spawner interval.
func (t Tuning) SpawnInterval() time.Duration { return ms(t.SpawnIntervalMs) }

// CriticalCooldown is the minimum gap between spawned critical tickets.
func (t Tuning) CriticalCooldown() time.Duration { return ms(t.CriticalCooldownMs) }

// ReviewDelay is the client's solution-review latency.
func (t Tuning) ReviewDelay() time.Duration { return ms(t.ReviewDelayMs) }

// ClientReplyDelay is the client's acknowledgement latency.
func (t Tuning) ClientReplyDelay() time.Duration { return ms(t.ClientReplyDelayMs) }

// NewTicketNotice is the AI assistant's new-ticket announcement latency.
func (t Tuning) NewTicketNotice() time.Duration { return ms(t.NewTicketNoticeMs) }

// TutorialSpawnDelay is the gap between auto-spawned tutorial tickets.
func (t Tuning) TutorialSpawnDelay() time.Duration { return ms(t.TutorialSpawnDelayMs) }

// RosterCheckInterval is the availability-toggler interval.
func (t Tuning) RosterCheckInterval() time.Duration { return ms(t.Roster.CheckIntervalMs) }

// AIThinkDelay is the pause before the autonomous AI considers a new ticket.
func (t Tuning) AIThinkDelay() time.Duration { return ms(t.AI.ThinkDelayMs) }

/*
policy.go - Versioned policy configuration snapshot

PURPOSE:
  Holds the process-wide policy configuration the validator reads:
  advance notice, consecutive-day caps, auto-approval thresholds,
  carry-over limits, and overlap rules. Mutated only through the
  administrative surface; the engine reads snapshots.

SNAPSHOT SEMANTICS:
  The store swaps whole immutable snapshots behind an atomic pointer.
  A concurrent reader sees either the old or the new configuration,
  never a partial mix. An in-flight validation may use a slightly stale
  snapshot; the balance ledger, not the validator, is the final safety
  backstop.

PER-TYPE OVERRIDES:
  Policy fields may be global or per leave type. For the consecutive-day
  cap the tighter of the two wins; other override fields replace the
  global default.
*/
package engine

import "sync/atomic"

// =============================================================================
// POLICY CONFIG
// =============================================================================

// PolicyConfig is an immutable configuration snapshot. Do not mutate a
// snapshot after publishing it; build a new one and Swap.
type PolicyConfig struct {
	Version int

	AdvanceNoticeDays int
	AllowBackdated    bool

	MaxConsecutiveDays Days
	MinLeaveDuration   Days

	AllowOverlapping bool

	AutoApproveEnabled bool
	AutoApproveMaxDays Days

	CarryOverEnabled      bool
	DefaultCarryOverLimit Days

	// Per-type overrides keyed by leave type.
	TypeOverrides map[LeaveTypeID]TypeOverride
}

// TypeOverride narrows or replaces global policy values for one leave type.
type TypeOverride struct {
	MaxConsecutiveDays *Days
	MinLeaveDuration   *Days
	AdvanceNoticeDays  *int
}

// EffectivePolicy is the resolved view the validator consumes for one
// leave type.
type EffectivePolicy struct {
	Version            int
	AdvanceNoticeDays  int
	AllowBackdated     bool
	MaxConsecutiveDays Days
	MinLeaveDuration   Days
	AllowOverlapping   bool
	AutoApproveEnabled bool
	AutoApproveMaxDays Days
	CarryOverEnabled   bool
	CarryOverLimit     Days
}

// Resolve applies per-type overrides on top of the global defaults.
func (c *PolicyConfig) Resolve(leaveTypeID LeaveTypeID) EffectivePolicy {
	eff := EffectivePolicy{
		Version:            c.Version,
		AdvanceNoticeDays:  c.AdvanceNoticeDays,
		AllowBackdated:     c.AllowBackdated,
		MaxConsecutiveDays: c.MaxConsecutiveDays,
		MinLeaveDuration:   c.MinLeaveDuration,
		AllowOverlapping:   c.AllowOverlapping,
		AutoApproveEnabled: c.AutoApproveEnabled,
		AutoApproveMaxDays: c.AutoApproveMaxDays,
		CarryOverEnabled:   c.CarryOverEnabled,
		CarryOverLimit:     c.DefaultCarryOverLimit,
	}
	ov, ok := c.TypeOverrides[leaveTypeID]
	if !ok {
		return eff
	}
	if ov.MaxConsecutiveDays != nil {
		// Tighter cap wins.
		eff.MaxConsecutiveDays = eff.MaxConsecutiveDays.Min(*ov.MaxConsecutiveDays)
	}
	if ov.MinLeaveDuration != nil {
		eff.MinLeaveDuration = *ov.MinLeaveDuration
	}
	if ov.AdvanceNoticeDays != nil {
		eff.AdvanceNoticeDays = *ov.AdvanceNoticeDays
	}
	return eff
}

// DefaultPolicyConfig returns the configuration used when no administrative
// policy has been published yet.
func DefaultPolicyConfig() *PolicyConfig {
	return &PolicyConfig{
		Version:               1,
		AdvanceNoticeDays:     0,
		AllowBackdated:        false,
		MaxConsecutiveDays:    DaysFromInt(30),
		MinLeaveDuration:      NewDays(0.5),
		AllowOverlapping:      false,
		AutoApproveEnabled:    false,
		AutoApproveMaxDays:    ZeroDays(),
		CarryOverEnabled:      true,
		DefaultCarryOverLimit: DaysFromInt(5),
	}
}

// =============================================================================
// POLICY STORE - Atomic snapshot holder
// =============================================================================

// PolicyStore publishes PolicyConfig snapshots to concurrent readers.
type PolicyStore struct {
	current atomic.Pointer[PolicyConfig]
}

func NewPolicyStore(initial *PolicyConfig) *PolicyStore {
	if initial == nil {
		initial = DefaultPolicyConfig()
	}
	s := &PolicyStore{}
	s.current.Store(initial)
	return s
}

// Snapshot returns the current configuration. Never nil.
func (s *PolicyStore) Snapshot() *PolicyConfig {
	return s.current.Load()
}

// Swap publishes a new snapshot, bumping the version past the current one
// when the caller did not set it.
func (s *PolicyStore) Swap(next *PolicyConfig) {
	prev := s.current.Load()
	if next.Version <= prev.Version {
		next.Version = prev.Version + 1
	}
	s.current.Store(next)
}

package temporal

import "time"

// Core models the two time dimensions every versioned entity carries: the
// valid interval (when the fact was true in the real world) and the stored
// interval (when the system knew it). A nil ValidUntil means currently true; a
// nil StoredUntil means this is the current record.
type Core struct {
	ValidFrom   time.Time  `json:"valid_from"`
	ValidUntil  *time.Time `json:"valid_until,omitempty"`
	StoredFrom  time.Time  `json:"stored_from"`
	StoredUntil *time.Time `json:"stored_until,omitempty"`
}

// Live reports whether this is the current record.
func (c Core) Live() bool { return c.StoredUntil == nil }

// ValidAt reports whether the fact was true in the real world at t.
func (c Core) ValidAt(t time.Time) bool {
	if t.Before(c.ValidFrom) {
		return false
	}
	return c.ValidUntil == nil || t.Before(*c.ValidUntil)
}

// CloseValidity bounds the valid interval, for facts explicitly retired.
func (c *Core) CloseValidity(at time.Time) {
	until := at
	c.ValidUntil = &until
}

// Entity is the contract every versioned entity satisfies. Implementations are
// pointer types; Copy returns a detached duplicate for building the next
// version without mutating the stored one.
type Entity[E any] interface {
	Temporal() *Core
	Copy() E
}

// MakeAudit produces the immutable audit row for a superseded version: a
// detached copy with both intervals closed. validUntil is the event time that
// invalidated the version; storedUntil is when the engine processed the
// superseding message.
func MakeAudit[E Entity[E]](prior E, validUntil, storedUntil time.Time) E {
	audit := prior.Copy()
	core := audit.Temporal()
	vu, su := validUntil, storedUntil
	core.ValidUntil = &vu
	core.StoredUntil = &su
	return audit
}

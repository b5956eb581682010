package temporal

import (
	"time"

	"concord/internal/interchange"
)

// RowState tracks one entity version while a message's fields are folded into
// it. All field writes go through the Assign helpers so the state knows
// whether anything actually changed; unchanged entities produce no write and
// no audit row.
type RowState[E Entity[E]] struct {
	entity     E
	created    bool
	updated    bool
	validFrom  time.Time
	storedFrom time.Time
}

// NewRowState wraps an entity for update tracking. validFrom is the incoming
// event's effective time, storedFrom when the engine started processing the
// message, created whether the entity was built for this message rather than
// loaded.
func NewRowState[E Entity[E]](entity E, validFrom, storedFrom time.Time, created bool) *RowState[E] {
	return &RowState[E]{entity: entity, validFrom: validFrom, storedFrom: storedFrom, created: created}
}

func (r *RowState[E]) Entity() E             { return r.entity }
func (r *RowState[E]) Created() bool         { return r.created }
func (r *RowState[E]) Updated() bool         { return r.updated }
func (r *RowState[E]) ValidFrom() time.Time  { return r.validFrom }
func (r *RowState[E]) StoredFrom() time.Time { return r.storedFrom }

func (r *RowState[E]) touch() {
	r.updated = true
	core := r.entity.Temporal()
	core.ValidFrom = r.validFrom
	core.StoredFrom = r.storedFrom
}

// Assign sets a field when the new value differs from the current one,
// recording the update. Returns true when the field changed.
func Assign[E Entity[E], V comparable](r *RowState[E], newValue, current V, set func(V)) bool {
	if newValue == current {
		return false
	}
	r.touch()
	set(newValue)
	return true
}

// AssignPtr is Assign for nullable fields, comparing pointees rather than
// pointers.
func AssignPtr[E Entity[E], V comparable](r *RowState[E], newValue, current *V, set func(*V)) bool {
	if ptrEqual(newValue, current) {
		return false
	}
	r.touch()
	set(newValue)
	return true
}

// AssignValue folds a tri-state message field into the entity. Unknown fields
// never overwrite recorded values; an explicit delete resets to the zero
// value.
func AssignValue[E Entity[E], V comparable](r *RowState[E], newValue interchange.Value[V], current V, set func(V)) bool {
	if !newValue.Known() {
		return false
	}
	var v V
	if !newValue.IsDelete() {
		v = newValue.Get()
	}
	return Assign(r, v, current, set)
}

// AssignValuePtr folds a tri-state message field into a nullable entity field.
// An explicit delete clears it.
func AssignValuePtr[E Entity[E], V comparable](r *RowState[E], newValue interchange.Value[V], current *V, set func(*V)) bool {
	if !newValue.Known() {
		return false
	}
	return AssignPtr(r, newValue.Ptr(), current, set)
}

func ptrEqual[V comparable](a, b *V) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

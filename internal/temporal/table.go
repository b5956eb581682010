package temporal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"concord/pkg/platform/sentinel"
)

// UpsertResult says what an upsert did to the live row.
type UpsertResult int

const (
	Created UpsertResult = iota
	Updated
	NoChange
	SupersededByNewer
)

func (r UpsertResult) String() string {
	switch r {
	case Created:
		return "created"
	case Updated:
		return "updated"
	case NoChange:
		return "no_change"
	case SupersededByNewer:
		return "superseded_by_newer"
	default:
		return fmt.Sprintf("upsert_result(%d)", int(r))
	}
}

// Table is the persistence capability behind one versioned entity type. The
// storage technology is replaceable; implementations must make ReplaceLive
// atomic per key (close the current row, write its audit row, insert the
// next live row) and guarantee at most one live row per key.
type Table[K comparable, E Entity[E]] interface {
	// GetCurrentLive returns the live row for key, or sentinel.ErrNotFound.
	GetCurrentLive(ctx context.Context, key K) (E, error)
	// InsertLive inserts the first live row for key.
	InsertLive(ctx context.Context, key K, entity E) error
	// ReplaceLive atomically supersedes the live row: audit captures the
	// prior version with closed intervals, next becomes the live row.
	ReplaceLive(ctx context.Context, key K, next E, audit E) error
	// InsertHistory records an out-of-order fact whose validity ended before
	// the live row began. Both intervals are already closed on version.
	InsertHistory(ctx context.Context, key K, version E, note string) error
	// FindHistory returns the historical version for key starting at
	// validFrom, or sentinel.ErrNotFound.
	FindHistory(ctx context.Context, key K, validFrom time.Time) (E, error)
	// AsOf answers "truth as of t": the version of key whose valid interval
	// covers t, searching live, historical and audit rows.
	AsOf(ctx context.Context, key K, at time.Time) (E, error)
	// Audits lists the audit rows written for key, oldest first.
	Audits(ctx context.Context, key K) ([]E, error)
}

// Upsert applies one incoming fact to the live row for key, per the engine's
// reconciliation rules:
//
//  1. no live row: insert one valid from the event time (Created);
//  2. live row already carries the candidate values: do nothing (NoChange);
//  3. event not earlier than the live row: close the live row into an audit
//     row and install the merged version (Updated);
//  4. event earlier than the live row: record the fact as a historical
//     version bounded by the live row's validFrom, leaving current truth
//     untouched (SupersededByNewer).
//
// create builds a blank entity for this key; apply folds the message's fields
// into the wrapped entity through the RowState helpers.
func Upsert[K comparable, E Entity[E]](
	ctx context.Context,
	tbl Table[K, E],
	key K,
	create func() E,
	apply func(*RowState[E]) error,
	eventValidFrom, storedFrom time.Time,
) (UpsertResult, error) {
	live, err := tbl.GetCurrentLive(ctx, key)
	if err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) {
			return NoChange, err
		}
		rs := NewRowState(create(), eventValidFrom, storedFrom, true)
		initCore(rs)
		if err := apply(rs); err != nil {
			return NoChange, err
		}
		if err := tbl.InsertLive(ctx, key, rs.Entity()); err != nil {
			return NoChange, err
		}
		return Created, nil
	}

	if eventValidFrom.Before(live.Temporal().ValidFrom) {
		return insertOlderVersion(ctx, tbl, key, create, apply, live, eventValidFrom, storedFrom)
	}

	rs := NewRowState(live.Copy(), eventValidFrom, storedFrom, false)
	if err := apply(rs); err != nil {
		return NoChange, err
	}
	if !rs.Updated() {
		return NoChange, nil
	}
	audit := MakeAudit(live, eventValidFrom, storedFrom)
	if err := tbl.ReplaceLive(ctx, key, rs.Entity(), audit); err != nil {
		return NoChange, err
	}
	return Updated, nil
}

// insertOlderVersion handles a retroactively-discovered fact: it becomes a
// closed historical version preceding the live row, so "truth as of T"
// queries see it, while current truth stays intact.
func insertOlderVersion[K comparable, E Entity[E]](
	ctx context.Context,
	tbl Table[K, E],
	key K,
	create func() E,
	apply func(*RowState[E]) error,
	live E,
	eventValidFrom, storedFrom time.Time,
) (UpsertResult, error) {
	// Replaying the same out-of-order message must not duplicate history.
	if prior, err := tbl.FindHistory(ctx, key, eventValidFrom); err == nil {
		rs := NewRowState(prior.Copy(), eventValidFrom, storedFrom, false)
		if err := apply(rs); err != nil {
			return NoChange, err
		}
		if !rs.Updated() {
			return NoChange, nil
		}
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return NoChange, err
	}

	rs := NewRowState(create(), eventValidFrom, storedFrom, true)
	initCore(rs)
	if err := apply(rs); err != nil {
		return NoChange, err
	}
	version := rs.Entity()
	core := version.Temporal()
	liveFrom := live.Temporal().ValidFrom
	until := storedFrom
	core.ValidUntil = &liveFrom
	core.StoredUntil = &until
	note := fmt.Sprintf("superseded on arrival by version valid from %s", liveFrom.UTC().Format(time.RFC3339Nano))
	if err := tbl.InsertHistory(ctx, key, version, note); err != nil {
		return NoChange, err
	}
	return SupersededByNewer, nil
}

func initCore[E Entity[E]](rs *RowState[E]) {
	core := rs.Entity().Temporal()
	core.ValidFrom = rs.ValidFrom()
	core.StoredFrom = rs.StoredFrom()
}

package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/pkg/errors"

	"consentchain/core/storage"
)

// Key layout. Positions are zero-padded so LevelDB's lexicographic key
// order matches numeric event order.
//
//	event:<pos>            -> Envelope JSON (the log itself)
//	evtcat:<category>:<pos> -> pos (per-category index)
//	event_seq              -> last assigned position
const (
	eventKeyPrefix = "event:"
	catKeyPrefix   = "evtcat:"
	seqKey         = "event_seq"
)

func eventKey(pos uint64) string {
	return fmt.Sprintf("%s%016d", eventKeyPrefix, pos)
}

func categoryKey(cat Category, pos uint64) string {
	return fmt.Sprintf("%s%s:%016d", catKeyPrefix, cat, pos)
}

// EventLog is the ordered, append-only sequence of emitted events,
// addressable by a monotonically increasing position. Appends are
// staged into the caller's batch so an operation's record writes and
// its event commit atomically together.
type EventLog struct {
	store   storage.Backend
	lastPos uint64 // guarded by the ledger's single-writer lock
}

// OpenEventLog recovers the last assigned position from storage.
func OpenEventLog(store storage.Backend) (*EventLog, error) {
	log := &EventLog{store: store}
	data, err := store.Get(seqKey)
	if err == storage.ErrNotFound {
		return log, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read event sequence")
	}
	pos, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil {
		return nil, errors.Wrap(err, "event sequence corrupt")
	}
	log.lastPos = pos
	return log, nil
}

// LastPosition returns the highest durably committed position.
func (l *EventLog) LastPosition() uint64 {
	return l.lastPos
}

// StageAppend assigns the next position to env and queues its writes
// into batch. The position is not considered assigned until the caller
// commits the batch and calls Commit; a failed batch reuses it.
func (l *EventLog) StageAppend(batch *storage.Batch, env *Envelope) (uint64, error) {
	cat, err := env.Category()
	if err != nil {
		return 0, err
	}
	pos := l.lastPos + 1
	env.Position = pos
	data, err := json.Marshal(env)
	if err != nil {
		return 0, errors.Wrap(err, "marshal event")
	}
	batch.Put(eventKey(pos), data)
	batch.Put(categoryKey(cat, pos), []byte(strconv.FormatUint(pos, 10)))
	batch.Put(seqKey, []byte(strconv.FormatUint(pos, 10)))
	return pos, nil
}

// Commit advances the in-memory sequence after the staged batch has
// been durably written.
func (l *EventLog) Commit(pos uint64) {
	if pos > l.lastPos {
		l.lastPos = pos
	}
}

// Read returns the event at a position.
func (l *EventLog) Read(pos uint64) (Envelope, error) {
	var env Envelope
	data, err := l.store.Get(eventKey(pos))
	if err == storage.ErrNotFound {
		return env, storage.ErrNotFound
	}
	if err != nil {
		return env, errors.Wrapf(err, "read event %d", pos)
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return env, errors.Wrapf(err, "event %d corrupt", pos)
	}
	return env, nil
}

// ReadRange replays events with from <= position <= to, in position
// order. The iterator is positioned at the first requested key, so the
// scan cost tracks the range width rather than the log length. The
// context is checked between events so long replays can be cancelled
// without corrupting anything; the log is read-only here.
func (l *EventLog) ReadRange(ctx context.Context, from, to uint64) ([]Envelope, error) {
	if from < 1 {
		from = 1
	}
	limit := eventKeyPrefix + "\xff"
	if to > 0 {
		limit = eventKey(to + 1)
	}
	var out []Envelope
	iter := l.store.ScanRange(eventKey(from), limit)
	defer iter.Release()
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var env Envelope
		if err := json.Unmarshal(iter.Value(), &env); err != nil {
			return nil, errors.Wrapf(err, "event at key %s corrupt", iter.Key())
		}
		out = append(out, env)
	}
	return out, errors.Wrap(iter.Error(), "scan events")
}

// ReadCategoryAfter returns up to limit events of a category strictly
// after the given position, in position order. This is the projection
// engine's incremental feed.
func (l *EventLog) ReadCategoryAfter(cat Category, after uint64, limit int) ([]Envelope, error) {
	var out []Envelope
	iter := l.store.ScanRange(categoryKey(cat, after+1), catKeyPrefix+string(cat)+":\xff")
	defer iter.Release()
	for iter.Next() {
		pos, err := strconv.ParseUint(string(iter.Value()), 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "category index at %s corrupt", iter.Key())
		}
		env, err := l.Read(pos)
		if err != nil {
			return nil, err
		}
		out = append(out, env)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, errors.Wrap(iter.Error(), "scan category index")
}

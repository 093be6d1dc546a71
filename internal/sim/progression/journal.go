package progression

import (
	"encoding/json"
	"fmt"
	"time"
)

// Record is one journaled transition. Replaying records in order with
// Env.Now pinned to At reproduces the state exactly.
type Record struct {
	Seq      uint64          `json:"seq"`
	At       time.Time       `json:"at"`
	Key      string          `json:"key"`
	Type     string          `json:"type"`
	Event    json.RawMessage `json:"event"`
	Accepted bool            `json:"accepted"`
	XPGained int             `json:"xp_gained,omitempty"`
	XP       int             `json:"xp"`
	Level    int             `json:"level"`
}

// NewRecord journals a committed transition.
func NewRecord(seq uint64, key string, ev Event, next State, out Outcome) (Record, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return Record{}, fmt.Errorf("encode %s event: %w", ev.Type(), err)
	}
	return Record{
		Seq:      seq,
		At:       next.UpdatedAt,
		Key:      key,
		Type:     ev.Type(),
		Event:    b,
		Accepted: out.Accepted,
		XPGained: out.XPGained,
		XP:       next.XP,
		Level:    next.Level,
	}, nil
}

// DecodeEvent turns a journaled payload back into an Event.
func DecodeEvent(typ string, raw json.RawMessage) (Event, error) {
	var ev Event
	var err error
	switch typ {
	case VisitEvent{}.Type():
		var e VisitEvent
		err = json.Unmarshal(raw, &e)
		ev = e
	case ClaimQuestEvent{}.Type():
		var e ClaimQuestEvent
		err = json.Unmarshal(raw, &e)
		ev = e
	case ClaimBadgeEvent{}.Type():
		var e ClaimBadgeEvent
		err = json.Unmarshal(raw, &e)
		ev = e
	case IdentityEvent{}.Type():
		var e IdentityEvent
		err = json.Unmarshal(raw, &e)
		ev = e
	case ResetEvent{}.Type():
		ev = ResetEvent{}
	case VoteEvent{}.Type():
		var e VoteEvent
		err = json.Unmarshal(raw, &e)
		ev = e
	case CollectEvent{}.Type():
		var e CollectEvent
		err = json.Unmarshal(raw, &e)
		ev = e
	case RestoreEvent{}.Type():
		var e RestoreEvent
		err = json.Unmarshal(raw, &e)
		ev = e
	default:
		return nil, fmt.Errorf("unknown event type %q", typ)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s event: %w", typ, err)
	}
	return ev, nil
}

// Replay folds records into s. Records for other keys are skipped when key
// is non-empty.
func Replay(s State, records []Record, rules Rules, catalog Catalog, key string) (State, error) {
	for _, rec := range records {
		if key != "" && rec.Key != key {
			continue
		}
		ev, err := DecodeEvent(rec.Type, rec.Event)
		if err != nil {
			return s, fmt.Errorf("record %d: %w", rec.Seq, err)
		}
		at := rec.At
		s, _ = Apply(s, ev, Env{Rules: rules, Catalog: catalog, Now: func() time.Time { return at }})
	}
	return s, nil
}

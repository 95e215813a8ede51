package packument

import (
	"encoding/json"
	"fmt"
)

// ChangeEvent is the envelope stored as a raw change's raw_json: the
// changes-feed event wrapping a packument doc, per spec §4.2's invariant
// checks ("_id equals the change's package name... _rev... _deleted").
type ChangeEvent struct {
	ID      string          `json:"id"`
	Rev     string          `json:"-"`
	Seq     int64           `json:"seq"`
	Deleted bool            `json:"deleted"`
	Doc     json.RawMessage `json:"doc"`

	// Changes carries the feed's own `changes` array, whose first element's
	// `rev` the C2 follower checks against doc._rev.
	Changes []struct {
		Rev string `json:"rev"`
	} `json:"changes"`
}

// ParseChangeEvent unmarshals a stored raw change's JSON envelope.
func ParseChangeEvent(raw []byte) (ChangeEvent, error) {
	var ev ChangeEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return ChangeEvent{}, fmt.Errorf("packument: failed to unmarshal change event: %w", err)
	}
	if len(ev.Changes) > 0 {
		ev.Rev = ev.Changes[0].Rev
	}
	return ev, nil
}

// VerifyIdentity implements spec §4.2's per-event invariant check: the
// doc's own `_id`/`_rev`/`_deleted` must agree with the envelope's `id`,
// `changes[0].rev`, and `deleted` fields. A mismatch is a fatal protocol
// violation — the caller should treat the stream as tainted.
func VerifyIdentity(ev ChangeEvent) error {
	if len(ev.Doc) == 0 || string(ev.Doc) == "null" {
		return nil
	}
	var doc struct {
		ID      string `json:"_id"`
		Rev     string `json:"_rev"`
		Deleted bool   `json:"_deleted"`
	}
	if err := json.Unmarshal(ev.Doc, &doc); err != nil {
		return fmt.Errorf("packument: failed to unmarshal doc for identity check: %w", err)
	}
	if doc.ID != ev.ID {
		return fmt.Errorf("packument: doc._id %q does not match change id %q", doc.ID, ev.ID)
	}
	if ev.Rev != "" && doc.Rev != ev.Rev {
		return fmt.Errorf("packument: doc._rev %q does not match changes[0].rev %q", doc.Rev, ev.Rev)
	}
	if doc.Deleted != ev.Deleted {
		return fmt.Errorf("packument: doc._deleted %v does not match change deleted %v", doc.Deleted, ev.Deleted)
	}
	return nil
}

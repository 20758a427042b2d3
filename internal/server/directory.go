package server

import (
	"encoding/json"
	"time"
)

// StatusOnline is the only presence status the relay ever assigns.
const StatusOnline = "online"

// PresenceRecord is the liveness and metadata state held for one identity,
// independent of whichever connection currently carries it.
type PresenceRecord struct {
	UserID   string
	UserData json.RawMessage
	LastSeen time.Time
	Status   string
}

// MarshalJSON encodes lastSeen as unix milliseconds like every other
// timestamp on the wire.
func (r PresenceRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		UserID   string          `json:"userId"`
		UserData json.RawMessage `json:"userData"`
		LastSeen int64           `json:"lastSeen"`
		Status   string          `json:"status"`
	}{
		UserID:   r.UserID,
		UserData: r.UserData,
		LastSeen: r.LastSeen.UnixMilli(),
		Status:   r.Status,
	})
}

// Directory maps identities to presence records. It is not safe for
// concurrent use; the Hub serializes access.
type Directory struct {
	records map[string]*PresenceRecord
	order   []string
}

// NewDirectory returns an empty presence directory.
func NewDirectory() *Directory {
	return &Directory{records: make(map[string]*PresenceRecord)}
}

// Upsert sets the metadata for id, marks it online and stamps lastSeen.
func (d *Directory) Upsert(id string, userData json.RawMessage, now time.Time) PresenceRecord {
	rec, ok := d.records[id]
	if !ok {
		rec = &PresenceRecord{UserID: id}
		d.records[id] = rec
		d.order = append(d.order, id)
	}
	rec.UserData = cloneRaw(userData)
	rec.LastSeen = now
	rec.Status = StatusOnline
	return *rec
}

// Touch refreshes lastSeen for id. It reports false if id is unknown.
func (d *Directory) Touch(id string, now time.Time) bool {
	rec, ok := d.records[id]
	if !ok {
		return false
	}
	rec.LastSeen = now
	return true
}

// Remove deletes the record for id, if any.
func (d *Directory) Remove(id string) {
	if _, ok := d.records[id]; !ok {
		return
	}
	delete(d.records, id)
	for i, existing := range d.order {
		if existing == id {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
}

// Get returns a copy of the record for id.
func (d *Directory) Get(id string) (PresenceRecord, bool) {
	rec, ok := d.records[id]
	if !ok {
		return PresenceRecord{}, false
	}
	return *rec, true
}

// Snapshot returns copies of every record in insertion order.
func (d *Directory) Snapshot() []PresenceRecord {
	out := make([]PresenceRecord, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, *d.records[id])
	}
	return out
}

// Len returns the number of records.
func (d *Directory) Len() int {
	return len(d.records)
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("{}")
	}
	return append(json.RawMessage(nil), raw...)
}

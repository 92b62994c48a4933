package realtime

import "chatgenius-backend/internal/model"

const (
	PresenceOnline  = "online"
	PresenceOffline = "offline"
)

// PresenceRecord is the in-memory presence of one identity. Status is the
// free-form value set by status:update and never affects Online.
type PresenceRecord struct {
	Connections int
	Online      bool
	Status      string
}

// Presence counts live connections per identity and reports the 0->1 and
// 1->0 transitions. Ignored identities (the assistant) are never tracked.
type Presence struct {
	records map[model.Identity]*PresenceRecord
	ignored map[model.Identity]struct{}
}

func NewPresence(ignored ...model.Identity) *Presence {
	p := &Presence{
		records: make(map[model.Identity]*PresenceRecord),
		ignored: make(map[model.Identity]struct{}, len(ignored)),
	}
	for _, id := range ignored {
		p.ignored[id] = struct{}{}
	}
	return p
}

func (p *Presence) Ignored(id model.Identity) bool {
	_, ok := p.ignored[id]
	return ok
}

// Connect records a new connection for id. It returns the change to
// broadcast and true only when id went from zero connections to one.
func (p *Presence) Connect(id model.Identity) (model.PresenceChange, bool) {
	if p.Ignored(id) {
		return model.PresenceChange{}, false
	}
	rec, ok := p.records[id]
	if !ok {
		rec = &PresenceRecord{}
		p.records[id] = rec
	}
	rec.Connections++
	if rec.Connections != 1 {
		return model.PresenceChange{}, false
	}
	rec.Online = true
	return p.change(id, rec), true
}

// Disconnect removes one connection for id. It returns the change to
// broadcast and true only when the last connection went away.
func (p *Presence) Disconnect(id model.Identity) (model.PresenceChange, bool) {
	rec, ok := p.records[id]
	if !ok || rec.Connections == 0 {
		return model.PresenceChange{}, false
	}
	rec.Connections--
	if rec.Connections > 0 {
		return model.PresenceChange{}, false
	}
	rec.Online = false
	change := p.change(id, rec)
	if rec.Status == "" {
		delete(p.records, id)
	}
	return change, true
}

// SetStatus overwrites the free-form status of id without touching its
// online state. It reports false for ignored identities.
func (p *Presence) SetStatus(id model.Identity, status string) (model.PresenceChange, bool) {
	if p.Ignored(id) {
		return model.PresenceChange{}, false
	}
	rec, ok := p.records[id]
	if !ok {
		rec = &PresenceRecord{}
		p.records[id] = rec
	}
	rec.Status = status
	return p.change(id, rec), true
}

// Get returns a copy of id's record.
func (p *Presence) Get(id model.Identity) (PresenceRecord, bool) {
	rec, ok := p.records[id]
	if !ok {
		return PresenceRecord{}, false
	}
	return *rec, true
}

func (p *Presence) OnlineCount() int {
	n := 0
	for _, rec := range p.records {
		if rec.Online {
			n++
		}
	}
	return n
}

// Online lists the identities with at least one connection.
func (p *Presence) Online() []model.PresenceChange {
	out := make([]model.PresenceChange, 0, len(p.records))
	for id, rec := range p.records {
		if rec.Online {
			out = append(out, p.change(id, rec))
		}
	}
	return out
}

func (p *Presence) change(id model.Identity, rec *PresenceRecord) model.PresenceChange {
	presence := PresenceOffline
	if rec.Online {
		presence = PresenceOnline
	}
	return model.PresenceChange{
		UserID:   id,
		Online:   rec.Online,
		Presence: presence,
		Status:   rec.Status,
	}
}

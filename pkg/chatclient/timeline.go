// Package chatclient is a Go client for the chat real-time endpoint. It
// applies message writes optimistically and reconciles them with the
// envelopes the server confirms.
package chatclient

import (
	"fmt"
	"sync"
	"time"

	nanoid "github.com/jaevor/go-nanoid"

	"chatgenius-backend/internal/model"
)

// Entry is one line of a room's timeline: either *Pending or *Confirmed.
type Entry interface {
	entry()
}

// Pending is a local write the server has not confirmed yet. ThreadID is
// the parent message of a thread reply and empty for top-level messages.
type Pending struct {
	TempID   string
	Room     string
	ThreadID string
	Sender   model.Identity
	Content  string
	At       time.Time
}

// Confirmed is a message the server has stored.
type Confirmed struct {
	ServerID string
	Room     string
	Sender   model.Identity
	Content  string
	Message  *model.Message
}

func (*Pending) entry()   {}
func (*Confirmed) entry() {}

// Outcome reports what Confirm did with an envelope.
type Outcome int

const (
	// Ignored: the envelope does not carry a message.
	Ignored Outcome = iota
	// Replaced: a pending entry became confirmed in place.
	Replaced
	// Appended: no pending entry matched; the message was added at the end.
	Appended
	// Duplicate: the message was already confirmed.
	Duplicate
)

func (o Outcome) String() string {
	switch o {
	case Replaced:
		return "replaced"
	case Appended:
		return "appended"
	case Duplicate:
		return "duplicate"
	default:
		return "ignored"
	}
}

// Timeline holds the per-room message lists of one client. It is safe for
// concurrent use.
type Timeline struct {
	mu     sync.Mutex
	rooms  map[string][]Entry
	newID  func() string
	now    func() time.Time
	onEdit func(room string)
}

func NewTimeline() (*Timeline, error) {
	gen, err := nanoid.Standard(21)
	if err != nil {
		return nil, fmt.Errorf("temp id generator: %w", err)
	}
	return &Timeline{
		rooms: make(map[string][]Entry),
		newID: func() string { return "tmp_" + gen() },
		now:   time.Now,
	}, nil
}

// OnChange registers fn to be called, outside the lock, after a room's
// entries change.
func (t *Timeline) OnChange(fn func(room string)) {
	t.mu.Lock()
	t.onEdit = fn
	t.mu.Unlock()
}

// AddPending appends a pending top-level message to room.
func (t *Timeline) AddPending(room string, sender model.Identity, content string) *Pending {
	return t.AddPendingReply(room, "", sender, content)
}

// AddPendingReply appends a pending reply to the thread of parentID. Thread
// replies share their channel's room.
func (t *Timeline) AddPendingReply(room, parentID string, sender model.Identity, content string) *Pending {
	t.mu.Lock()
	p := &Pending{
		TempID:   t.newID(),
		Room:     room,
		ThreadID: parentID,
		Sender:   sender,
		Content:  content,
		At:       t.now(),
	}
	t.rooms[room] = append(t.rooms[room], p)
	fn := t.onEdit
	t.mu.Unlock()

	notify(fn, room)
	return p
}

// Confirm applies a message envelope from the server. The oldest pending
// entry in the same room and thread with the same sender and identical
// content is replaced in place. A message already confirmed is a duplicate delivery.
// Anything else is appended.
func (t *Timeline) Confirm(env model.Envelope) Outcome {
	msg := messageOf(env)
	if msg == nil {
		return Ignored
	}
	room := env.Room
	if room == "" {
		room = msg.ChannelID
	}
	sender := env.Sender
	if sender == "" {
		sender = model.Identity(msg.UserID)
	}
	thread := threadOf(msg)
	confirmed := &Confirmed{
		ServerID: msg.ID,
		Room:     room,
		Sender:   sender,
		Content:  msg.Content,
		Message:  msg,
	}

	t.mu.Lock()
	entries := t.rooms[room]
	outcome := Appended
	match := -1
	for i, e := range entries {
		switch e := e.(type) {
		case *Confirmed:
			if e.ServerID == msg.ID {
				t.mu.Unlock()
				return Duplicate
			}
		case *Pending:
			if match < 0 && e.ThreadID == thread && e.Sender == sender && e.Content == msg.Content {
				match = i
			}
		}
	}
	if match >= 0 {
		entries[match] = confirmed
		outcome = Replaced
	} else {
		t.rooms[room] = append(entries, confirmed)
	}
	fn := t.onEdit
	t.mu.Unlock()

	notify(fn, room)
	return outcome
}

// Revert removes a pending entry. It reports false when tempID is unknown
// or was already confirmed.
func (t *Timeline) Revert(tempID string) bool {
	t.mu.Lock()
	for room, entries := range t.rooms {
		for i, e := range entries {
			p, ok := e.(*Pending)
			if !ok || p.TempID != tempID {
				continue
			}
			t.rooms[room] = append(entries[:i:i], entries[i+1:]...)
			fn := t.onEdit
			t.mu.Unlock()
			notify(fn, room)
			return true
		}
	}
	t.mu.Unlock()
	return false
}

// Entries returns a copy of room's timeline in display order.
func (t *Timeline) Entries(room string) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.rooms[room]))
	copy(out, t.rooms[room])
	return out
}

// PendingCount returns the number of unconfirmed entries in room.
func (t *Timeline) PendingCount(room string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, e := range t.rooms[room] {
		if _, ok := e.(*Pending); ok {
			n++
		}
	}
	return n
}

func messageOf(env model.Envelope) *model.Message {
	switch p := env.Payload.(type) {
	case *model.Message:
		return p
	case model.Message:
		return &p
	default:
		return nil
	}
}

func threadOf(msg *model.Message) string {
	if msg.IsThreadReply() {
		return *msg.ThreadID
	}
	return ""
}

func notify(fn func(string), room string) {
	if fn != nil {
		fn(room)
	}
}

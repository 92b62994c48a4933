package realtime

import (
	"chatgenius-backend/internal/model"

	"github.com/rs/zerolog"
)

// Router keeps per-connection room membership and fans envelopes out to a
// room. Rooms exist while they have at least one member.
type Router struct {
	rooms  map[string]map[string]*Conn // room -> connID -> conn
	byConn map[string]map[string]struct{}
	// slow receives connections whose send buffer was full during a
	// broadcast; the hub drops them after the fan-out completes.
	slow func(c *Conn)
	log  zerolog.Logger
}

func NewRouter(log zerolog.Logger) *Router {
	return &Router{
		rooms:  make(map[string]map[string]*Conn),
		byConn: make(map[string]map[string]struct{}),
		log:    log,
	}
}

// RoomForChannel returns the broadcast scope of a channel.
func RoomForChannel(channelID string) string {
	return channelID
}

// RoomForThread returns the room of a thread, which is its parent channel's.
func RoomForThread(parentChannelID string) string {
	return RoomForChannel(parentChannelID)
}

// RoomForMessage returns the room of a message. Thread replies share their
// parent channel's room.
func RoomForMessage(msg *model.Message) string {
	if msg.IsThreadReply() {
		return RoomForThread(msg.ChannelID)
	}
	return RoomForChannel(msg.ChannelID)
}

// Join adds c to room. It reports false if c was already a member.
func (r *Router) Join(c *Conn, room string) bool {
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]*Conn)
		r.rooms[room] = members
	}
	if _, dup := members[c.ID]; dup {
		return false
	}
	members[c.ID] = c

	joined, ok := r.byConn[c.ID]
	if !ok {
		joined = make(map[string]struct{})
		r.byConn[c.ID] = joined
	}
	joined[room] = struct{}{}
	return true
}

// Leave removes c from room. Leaving a room that was never joined is a no-op.
func (r *Router) Leave(c *Conn, room string) bool {
	members, ok := r.rooms[room]
	if !ok {
		return false
	}
	if _, ok := members[c.ID]; !ok {
		return false
	}
	delete(members, c.ID)
	if len(members) == 0 {
		delete(r.rooms, room)
	}

	if joined, ok := r.byConn[c.ID]; ok {
		delete(joined, room)
		if len(joined) == 0 {
			delete(r.byConn, c.ID)
		}
	}
	return true
}

// LeaveAll removes c from every room and returns the rooms it left.
func (r *Router) LeaveAll(c *Conn) []string {
	rooms := r.Rooms(c)
	for _, room := range rooms {
		r.Leave(c, room)
	}
	return rooms
}

// Rooms lists the rooms c belongs to.
func (r *Router) Rooms(c *Conn) []string {
	joined := r.byConn[c.ID]
	rooms := make([]string, 0, len(joined))
	for room := range joined {
		rooms = append(rooms, room)
	}
	return rooms
}

func (r *Router) IsMember(c *Conn, room string) bool {
	_, ok := r.rooms[room][c.ID]
	return ok
}

func (r *Router) Members(room string) []*Conn {
	members := r.rooms[room]
	out := make([]*Conn, 0, len(members))
	for _, c := range members {
		out = append(out, c)
	}
	return out
}

func (r *Router) RoomCount() int {
	return len(r.rooms)
}

// Broadcast encodes env once and queues it to every member of room except
// the connection with id exclude. It returns the number of deliveries.
func (r *Router) Broadcast(room string, env model.Envelope, exclude string) int {
	members := r.rooms[room]
	if len(members) == 0 {
		return 0
	}

	data, err := env.Encode()
	if err != nil {
		r.log.Error().Err(err).Str("room", room).Str("kind", env.Kind).Msg("encode envelope")
		return 0
	}

	delivered := 0
	var stalled []*Conn
	for id, c := range members {
		if id == exclude {
			continue
		}
		if c.deliver(data) {
			delivered++
			continue
		}
		if !c.closed {
			stalled = append(stalled, c)
		}
	}
	if r.slow != nil {
		for _, c := range stalled {
			r.slow(c)
		}
	}
	return delivered
}

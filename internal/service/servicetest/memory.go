// Package servicetest provides in-memory implementations of the service
// ports for tests.
package servicetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"chatgenius-backend/internal/model"
	"chatgenius-backend/internal/repository"
)

type Users struct {
	mu    sync.Mutex
	users map[string]*model.User
}

func NewUsers(ids ...string) *Users {
	u := &Users{users: map[string]*model.User{}}
	for _, id := range ids {
		u.users[id] = &model.User{ID: id, Username: id, Presence: "offline"}
	}
	return u
}

func (u *Users) Ensure(_ context.Context, id, username string) (*model.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if existing, ok := u.users[id]; ok {
		if username != "" {
			existing.Username = username
		}
		return existing, nil
	}
	user := &model.User{ID: id, Username: username, Presence: "offline"}
	u.users[id] = user
	return user, nil
}

func (u *Users) GetByID(_ context.Context, id string) (*model.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if user, ok := u.users[id]; ok {
		return user, nil
	}
	return nil, repository.ErrNotFound
}

func (u *Users) List(_ context.Context, limit int) ([]*model.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]*model.User, 0, len(u.users))
	for _, user := range u.users {
		out = append(out, user)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type Channels struct {
	mu       sync.Mutex
	seq      int
	channels map[string]*model.Channel
	members  map[string]map[string]bool
}

func NewChannels() *Channels {
	return &Channels{channels: map[string]*model.Channel{}, members: map[string]map[string]bool{}}
}

// Add inserts a channel directly, bypassing validation.
func (c *Channels) Add(ch *model.Channel, members ...string) *model.Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels[ch.ID] = ch
	c.members[ch.ID] = map[string]bool{ch.OwnerID: true}
	for _, m := range members {
		c.members[ch.ID][m] = true
	}
	return ch
}

func (c *Channels) Create(_ context.Context, ownerID string, req *model.CreateChannelRequest) (*model.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.channels {
		if ch.Name == req.Name {
			return nil, repository.ErrConflict
		}
	}
	c.seq++
	ch := &model.Channel{
		ID:          fmt.Sprintf("ch-%d", c.seq),
		Name:        req.Name,
		Description: req.Description,
		IsPrivate:   req.IsPrivate,
		IsDM:        req.IsDM,
		OwnerID:     ownerID,
	}
	c.channels[ch.ID] = ch
	c.members[ch.ID] = map[string]bool{ownerID: true}
	for _, m := range req.MemberIDs {
		c.members[ch.ID][m] = true
	}
	return ch, nil
}

func (c *Channels) GetByID(_ context.Context, id string) (*model.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.channels[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *ch
	cp.MemberCount = len(c.members[id])
	return &cp, nil
}

func (c *Channels) ListVisible(_ context.Context, userID string) ([]*model.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*model.Channel
	for id, ch := range c.channels {
		if (!ch.IsPrivate && !ch.IsDM) || c.members[id][userID] {
			out = append(out, ch)
		}
	}
	return out, nil
}

func (c *Channels) ListPublic(_ context.Context, limit int) ([]*model.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*model.Channel
	for _, ch := range c.channels {
		if !ch.IsPrivate && !ch.IsDM && len(out) < limit {
			out = append(out, ch)
		}
	}
	return out, nil
}

func (c *Channels) Update(_ context.Context, id string, req *model.UpdateChannelRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.channels[id]
	if !ok {
		return repository.ErrNotFound
	}
	if req.Name != nil {
		ch.Name = *req.Name
	}
	if req.Description != nil {
		ch.Description = *req.Description
	}
	if req.IsPrivate != nil {
		ch.IsPrivate = *req.IsPrivate
	}
	return nil
}

func (c *Channels) Delete(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.channels[id]; !ok {
		return repository.ErrNotFound
	}
	delete(c.channels, id)
	delete(c.members, id)
	return nil
}

func (c *Channels) AddMember(_ context.Context, channelID, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.channels[channelID]; !ok {
		return repository.ErrNotFound
	}
	c.members[channelID][userID] = true
	return nil
}

func (c *Channels) RemoveMember(_ context.Context, channelID, userID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.members[channelID][userID] {
		return false, nil
	}
	delete(c.members[channelID], userID)
	return true, nil
}

func (c *Channels) IsMember(_ context.Context, channelID, userID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.members[channelID][userID], nil
}

func (c *Channels) Members(_ context.Context, channelID string) ([]*model.ChannelMember, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*model.ChannelMember
	for id := range c.members[channelID] {
		out = append(out, &model.ChannelMember{ChannelID: channelID, UserID: id, Username: id})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

type Messages struct {
	mu       sync.Mutex
	seq      int
	channels *Channels
	messages map[string]*model.Message
	order    []string
}

func NewMessages(channels *Channels) *Messages {
	return &Messages{channels: channels, messages: map[string]*model.Message{}}
}

func (m *Messages) Create(ctx context.Context, in model.NewMessage) (*model.Message, error) {
	if _, err := m.channels.GetByID(ctx, in.ChannelID); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	now := time.Now().UTC()
	msg := &model.Message{
		ID:        fmt.Sprintf("msg-%d", m.seq),
		ChannelID: in.ChannelID,
		ThreadID:  in.ThreadID,
		UserID:    in.UserID,
		Username:  in.UserID,
		Content:   in.Content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.messages[msg.ID] = msg
	m.order = append(m.order, msg.ID)
	return msg, nil
}

func (m *Messages) GetByID(_ context.Context, id string) (*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *msg
	return &cp, nil
}

func (m *Messages) ListByChannel(_ context.Context, channelID string, _ *time.Time, limit int) ([]*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Message
	for _, id := range m.order {
		msg := m.messages[id]
		if msg.ChannelID == channelID && !msg.IsThreadReply() {
			cp := *msg
			out = append(out, &cp)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *Messages) ListReplies(_ context.Context, parentID string) ([]*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Message
	for _, id := range m.order {
		msg := m.messages[id]
		if msg.ThreadID != nil && *msg.ThreadID == parentID {
			cp := *msg
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Messages) UpdateContent(_ context.Context, id, content string) (*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	msg.Content = content
	cp := *msg
	return &cp, nil
}

func (m *Messages) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.messages[id]; !ok {
		return repository.ErrNotFound
	}
	delete(m.messages, id)
	return nil
}

// All returns every stored message in creation order.
func (m *Messages) All() []model.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Message
	for _, id := range m.order {
		if msg, ok := m.messages[id]; ok {
			out = append(out, *msg)
		}
	}
	return out
}

type Reactions struct {
	Messages *Messages

	mu        sync.Mutex
	reactions []model.Reaction
}

func (r *Reactions) Add(ctx context.Context, messageID, userID, emoji string) (*model.Reaction, error) {
	msg, err := r.Messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.reactions {
		if existing.MessageID == messageID && existing.UserID == userID && existing.Emoji == emoji {
			return nil, repository.ErrConflict
		}
	}
	re := model.Reaction{
		ID:        fmt.Sprintf("r-%d", len(r.reactions)+1),
		MessageID: messageID,
		ChannelID: msg.ChannelID,
		UserID:    userID,
		Emoji:     emoji,
	}
	r.reactions = append(r.reactions, re)
	return &re, nil
}

func (r *Reactions) Remove(_ context.Context, messageID, userID, emoji string) (*model.Reaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.reactions {
		if existing.MessageID == messageID && existing.UserID == userID && existing.Emoji == emoji {
			r.reactions = append(r.reactions[:i], r.reactions[i+1:]...)
			return &existing, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *Reactions) ListByMessages(_ context.Context, ids []string) ([]model.Reaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	want := map[string]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var out []model.Reaction
	for _, re := range r.reactions {
		if want[re.MessageID] {
			out = append(out, re)
		}
	}
	return out, nil
}

type Files struct {
	mu    sync.Mutex
	files map[string]*model.File
}

func (f *Files) Create(_ context.Context, file *model.File) (*model.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.files == nil {
		f.files = map[string]*model.File{}
	}
	cp := *file
	cp.CreatedAt = time.Now().UTC()
	f.files[cp.ID] = &cp
	return &cp, nil
}

func (f *Files) GetByID(_ context.Context, id string) (*model.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if file, ok := f.files[id]; ok {
		return file, nil
	}
	return nil, repository.ErrNotFound
}

func (f *Files) ListByChannel(_ context.Context, channelID string, _ int) ([]*model.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.File
	for _, file := range f.files {
		if file.ChannelID == channelID {
			out = append(out, file)
		}
	}
	return out, nil
}

type Blobs struct {
	// Err, when set, fails every Put.
	Err error

	mu      sync.Mutex
	objects map[string][]byte
}

func (b *Blobs) Put(_ context.Context, name string, data []byte, _ string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Err != nil {
		return "", b.Err
	}
	if b.objects == nil {
		b.objects = map[string][]byte{}
	}
	b.objects[name] = data
	return "http://files.test/api/v1/files/" + name + "/raw", nil
}

func (b *Blobs) Get(_ context.Context, name string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[name]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return data, nil
}

// Has reports whether an object named name was stored.
func (b *Blobs) Has(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[name]
	return ok
}

// Published is one call seen by Publisher. Message is set for
// PublishMessage, Env otherwise.
type Published struct {
	Room    string
	Env     model.Envelope
	Message *model.Message
}

// Publisher captures what services hand to the hub.
type Publisher struct {
	// Notify receives every call without blocking; calls are dropped from
	// it, never from Events, once it is full.
	Notify chan Published

	mu     sync.Mutex
	events []Published
}

func NewPublisher() *Publisher {
	return &Publisher{Notify: make(chan Published, 64)}
}

func (p *Publisher) PublishMessage(msg *model.Message) {
	p.record(Published{Room: msg.ChannelID, Message: msg})
}

func (p *Publisher) Publish(room string, env model.Envelope) {
	p.record(Published{Room: room, Env: env})
}

func (p *Publisher) UpdateStatus(id model.Identity, status string) {
	p.record(Published{Env: model.NewEnvelope(model.KindUserStatusChanged, "", id, status)})
}

// Events returns a copy of every call so far.
func (p *Publisher) Events() []Published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Published(nil), p.events...)
}

func (p *Publisher) record(e Published) {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
	select {
	case p.Notify <- e:
	default:
	}
}

func (p *Publisher) Kinds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		if e.Message != nil {
			out = append(out, "message")
			continue
		}
		out = append(out, e.Env.Kind)
	}
	return out
}

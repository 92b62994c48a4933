package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"chatgenius-backend/internal/model"
	"chatgenius-backend/internal/realtime"
	"chatgenius-backend/internal/repository"
)

// MessageService owns messages, thread replies and reactions. Its
// CreateMessage, CreateThreadReply, AddReaction and RemoveReaction methods
// form the store seen by the real-time hub; the Post/Edit/Remove/React
// methods serve REST and publish their effects to the hub.
type MessageService struct {
	messages  Messages
	reactions Reactions
	channels  Channels
	publisher Publisher
}

func NewMessageService(messages Messages, reactions Reactions, channels Channels) *MessageService {
	return &MessageService{messages: messages, reactions: reactions, channels: channels}
}

// SetPublisher wires the hub once it exists.
func (s *MessageService) SetPublisher(p Publisher) {
	s.publisher = p
}

func validateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > realtime.MaxContentLength {
		return ErrContentTooLong
	}
	return nil
}

// CreateMessage stores a message. With a thread id the channel is taken
// from the parent, which must be a top-level message.
func (s *MessageService) CreateMessage(ctx context.Context, in model.NewMessage) (*model.Message, error) {
	if err := validateContent(in.Content); err != nil {
		return nil, err
	}
	if in.ThreadID != nil && *in.ThreadID != "" {
		parent, err := s.messages.GetByID(ctx, *in.ThreadID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, ErrMessageNotFound
			}
			return nil, err
		}
		if parent.IsThreadReply() {
			return nil, ErrNestedThread
		}
		in.ChannelID = parent.ChannelID
	} else {
		in.ThreadID = nil
	}

	msg, err := s.messages.Create(ctx, in)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrChannelNotFound
		}
		return nil, fmt.Errorf("create message: %w", err)
	}
	return msg, nil
}

func (s *MessageService) CreateThreadReply(ctx context.Context, parentID, userID, content string) (*model.Message, error) {
	return s.CreateMessage(ctx, model.NewMessage{ThreadID: &parentID, UserID: userID, Content: content})
}

func (s *MessageService) AddReaction(ctx context.Context, messageID, userID, emoji string) (*model.Reaction, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" || utf8.RuneCountInString(emoji) > realtime.MaxEmojiLength {
		return nil, ErrInvalidEmoji
	}
	r, err := s.reactions.Add(ctx, messageID, userID, emoji)
	switch {
	case errors.Is(err, repository.ErrConflict):
		return nil, ErrReactionExists
	case errors.Is(err, repository.ErrNotFound):
		return nil, ErrMessageNotFound
	case err != nil:
		return nil, fmt.Errorf("add reaction: %w", err)
	}
	return r, nil
}

func (s *MessageService) RemoveReaction(ctx context.Context, messageID, userID, emoji string) (*model.Reaction, error) {
	r, err := s.reactions.Remove(ctx, messageID, userID, strings.TrimSpace(emoji))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrReactionNotFound
		}
		return nil, fmt.Errorf("remove reaction: %w", err)
	}
	return r, nil
}

// Post creates a message over REST and feeds it to the hub's coalescer.
func (s *MessageService) Post(ctx context.Context, userID string, req *model.CreateMessageRequest) (*model.Message, error) {
	in := model.NewMessage{ChannelID: req.ChannelID, UserID: userID, Content: req.Content}
	if req.ThreadID != "" {
		in.ThreadID = &req.ThreadID
	}
	msg, err := s.CreateMessage(ctx, in)
	if err != nil {
		return nil, err
	}
	if s.publisher != nil {
		s.publisher.PublishMessage(msg)
	}
	return msg, nil
}

// Reply creates a thread reply over REST.
func (s *MessageService) Reply(ctx context.Context, userID, parentID, content string) (*model.Message, error) {
	msg, err := s.CreateThreadReply(ctx, parentID, userID, content)
	if err != nil {
		return nil, err
	}
	if s.publisher != nil {
		s.publisher.PublishMessage(msg)
	}
	return msg, nil
}

func (s *MessageService) Get(ctx context.Context, id string) (*model.Message, error) {
	msg, err := s.messages.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	return msg, nil
}

// List returns a page of top-level messages with their reactions. Private
// channels are readable by members only.
func (s *MessageService) List(ctx context.Context, userID, channelID string, before *time.Time, limit int) ([]*model.Message, error) {
	if err := s.requireReadable(ctx, userID, channelID); err != nil {
		return nil, err
	}
	msgs, err := s.messages.ListByChannel(ctx, channelID, before, limit)
	if err != nil {
		return nil, err
	}
	if err := s.attachReactions(ctx, msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// Thread returns the parent message and its replies.
func (s *MessageService) Thread(ctx context.Context, userID, parentID string) (*model.Thread, error) {
	parent, err := s.Get(ctx, parentID)
	if err != nil {
		return nil, err
	}
	if err := s.requireReadable(ctx, userID, parent.ChannelID); err != nil {
		return nil, err
	}
	replies, err := s.messages.ListReplies(ctx, parentID)
	if err != nil {
		return nil, err
	}
	if err := s.attachReactions(ctx, append([]*model.Message{parent}, replies...)); err != nil {
		return nil, err
	}

	t := &model.Thread{Parent: parent, Replies: make([]model.Message, 0, len(replies))}
	for _, r := range replies {
		t.Replies = append(t.Replies, *r)
	}
	return t, nil
}

// Edit changes the content of the caller's own message and publishes
// message:updated.
func (s *MessageService) Edit(ctx context.Context, userID, id, content string) (*model.Message, error) {
	if err := validateContent(content); err != nil {
		return nil, err
	}
	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.UserID != userID {
		return nil, ErrForbidden
	}

	msg, err := s.messages.UpdateContent(ctx, id, content)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	s.publish(msg.ChannelID, model.KindMessageUpdated, model.Identity(userID), msg)
	return msg, nil
}

// Remove deletes a message. Authors may delete their own messages and
// channel owners any message in their channel.
func (s *MessageService) Remove(ctx context.Context, userID, id string) error {
	msg, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if msg.UserID != userID {
		ch, err := s.channels.GetByID(ctx, msg.ChannelID)
		if err != nil {
			return err
		}
		if ch.OwnerID != userID {
			return ErrForbidden
		}
	}

	if err := s.messages.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrMessageNotFound
		}
		return err
	}
	s.publish(msg.ChannelID, model.KindMessageDeleted, model.Identity(userID), model.MessageDeleted{
		ID:        msg.ID,
		ChannelID: msg.ChannelID,
		ThreadID:  msg.ThreadID,
	})
	return nil
}

func (s *MessageService) Reactions(ctx context.Context, messageID string) ([]model.Reaction, error) {
	if _, err := s.Get(ctx, messageID); err != nil {
		return nil, err
	}
	return s.reactions.ListByMessages(ctx, []string{messageID})
}

// React adds a reaction over REST and publishes reaction:added.
func (s *MessageService) React(ctx context.Context, userID, messageID, emoji string) (*model.Reaction, error) {
	r, err := s.AddReaction(ctx, messageID, userID, emoji)
	if err != nil {
		return nil, err
	}
	s.publish(r.ChannelID, model.KindReactionAdded, model.Identity(userID), r)
	return r, nil
}

// Unreact removes a reaction over REST and publishes reaction:removed.
func (s *MessageService) Unreact(ctx context.Context, userID, messageID, emoji string) error {
	r, err := s.RemoveReaction(ctx, messageID, userID, emoji)
	if err != nil {
		return err
	}
	s.publish(r.ChannelID, model.KindReactionRemoved, model.Identity(userID), model.ReactionRemoved{
		MessageID: r.MessageID,
		Emoji:     r.Emoji,
		UserID:    model.Identity(userID),
	})
	return nil
}

func (s *MessageService) publish(channelID, kind string, sender model.Identity, payload any) {
	if s.publisher == nil {
		return
	}
	room := realtime.RoomForChannel(channelID)
	s.publisher.Publish(room, model.NewEnvelope(kind, room, sender, payload))
}

func (s *MessageService) requireReadable(ctx context.Context, userID, channelID string) error {
	ch, err := s.channels.GetByID(ctx, channelID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrChannelNotFound
		}
		return err
	}
	if !ch.IsPrivate && !ch.IsDM {
		return nil
	}
	ok, err := s.channels.IsMember(ctx, channelID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotChannelMember
	}
	return nil
}

func (s *MessageService) attachReactions(ctx context.Context, msgs []*model.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	ids := make([]string, len(msgs))
	byID := make(map[string]*model.Message, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
		byID[m.ID] = m
	}
	reactions, err := s.reactions.ListByMessages(ctx, ids)
	if err != nil {
		return err
	}
	for _, r := range reactions {
		if m, ok := byID[r.MessageID]; ok {
			m.Reactions = append(m.Reactions, r)
		}
	}
	return nil
}

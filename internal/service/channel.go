package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"chatgenius-backend/internal/model"
	"chatgenius-backend/internal/repository"
)

const maxChannelName = 80

type ChannelService struct {
	channels Channels
}

func NewChannelService(channels Channels) *ChannelService {
	return &ChannelService{channels: channels}
}

// Create makes a channel owned by ownerID. A DM takes exactly one other
// member and gets a stable name derived from both ids.
func (s *ChannelService) Create(ctx context.Context, ownerID string, req *model.CreateChannelRequest) (*model.Channel, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Description = strings.TrimSpace(req.Description)

	if req.IsDM {
		others := make([]string, 0, len(req.MemberIDs))
		for _, id := range req.MemberIDs {
			if id != "" && id != ownerID {
				others = append(others, id)
			}
		}
		if len(others) != 1 {
			return nil, ErrInvalidDM
		}
		pair := []string{ownerID, others[0]}
		sort.Strings(pair)
		req.Name = "dm:" + pair[0] + ":" + pair[1]
		req.MemberIDs = others
		req.IsPrivate = true
	}

	if req.Name == "" || utf8.RuneCountInString(req.Name) > maxChannelName {
		return nil, ErrInvalidChannelName
	}

	ch, err := s.channels.Create(ctx, ownerID, req)
	switch {
	case errors.Is(err, repository.ErrConflict):
		return nil, ErrChannelNameTaken
	case errors.Is(err, repository.ErrNotFound):
		return nil, ErrUserNotFound
	case err != nil:
		return nil, fmt.Errorf("create channel: %w", err)
	}
	return ch, nil
}

func (s *ChannelService) List(ctx context.Context, userID string) ([]*model.Channel, error) {
	return s.channels.ListVisible(ctx, userID)
}

func (s *ChannelService) ListPublic(ctx context.Context, limit int) ([]*model.Channel, error) {
	return s.channels.ListPublic(ctx, limit)
}

// Get returns the channel if userID may see it.
func (s *ChannelService) Get(ctx context.Context, userID, id string) (*model.Channel, error) {
	ch, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if ch.IsPrivate || ch.IsDM {
		if err := s.requireMember(ctx, id, userID); err != nil {
			return nil, err
		}
	}
	return ch, nil
}

func (s *ChannelService) Update(ctx context.Context, userID, id string, req *model.UpdateChannelRequest) (*model.Channel, error) {
	ch, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if ch.OwnerID != userID || ch.IsDM {
		return nil, ErrForbidden
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" || utf8.RuneCountInString(name) > maxChannelName {
			return nil, ErrInvalidChannelName
		}
		req.Name = &name
	}

	if err := s.channels.Update(ctx, id, req); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrChannelNameTaken
		}
		return nil, err
	}
	return s.get(ctx, id)
}

func (s *ChannelService) Delete(ctx context.Context, userID, id string) error {
	ch, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	if ch.OwnerID != userID {
		return ErrForbidden
	}
	return s.channels.Delete(ctx, id)
}

// Join adds userID to a public channel. Private channels only admit their
// owner; everyone else is added by a member.
func (s *ChannelService) Join(ctx context.Context, userID, id string) (*model.Channel, error) {
	ch, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if (ch.IsPrivate || ch.IsDM) && ch.OwnerID != userID {
		member, err := s.channels.IsMember(ctx, id, userID)
		if err != nil {
			return nil, err
		}
		if !member {
			return nil, ErrPrivateChannel
		}
		return ch, nil
	}
	if err := s.channels.AddMember(ctx, id, userID); err != nil {
		return nil, err
	}
	return s.get(ctx, id)
}

func (s *ChannelService) Leave(ctx context.Context, userID, id string) error {
	ch, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	if ch.OwnerID == userID {
		return ErrOwnerCannotLeave
	}
	_, err = s.channels.RemoveMember(ctx, id, userID)
	return err
}

// AddMember lets a member of a private channel, or anyone for a public one,
// add targetID.
func (s *ChannelService) AddMember(ctx context.Context, actorID, id, targetID string) error {
	ch, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	if ch.IsDM {
		return ErrForbidden
	}
	if ch.IsPrivate {
		if err := s.requireMember(ctx, id, actorID); err != nil {
			return err
		}
	}
	if err := s.channels.AddMember(ctx, id, targetID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	return nil
}

func (s *ChannelService) Members(ctx context.Context, userID, id string) ([]*model.ChannelMember, error) {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return nil, err
	}
	return s.channels.Members(ctx, id)
}

func (s *ChannelService) get(ctx context.Context, id string) (*model.Channel, error) {
	ch, err := s.channels.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrChannelNotFound
		}
		return nil, err
	}
	return ch, nil
}

func (s *ChannelService) requireMember(ctx context.Context, channelID, userID string) error {
	ok, err := s.channels.IsMember(ctx, channelID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotChannelMember
	}
	return nil
}

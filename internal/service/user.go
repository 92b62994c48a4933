package service

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"chatgenius-backend/internal/model"
	"chatgenius-backend/internal/realtime"
	"chatgenius-backend/internal/repository"
)

type UserService struct {
	users    Users
	statuses StatusSetter
}

func NewUserService(users Users) *UserService {
	return &UserService{users: users}
}

// SetStatusSetter wires the hub once it exists.
func (s *UserService) SetStatusSetter(st StatusSetter) {
	s.statuses = st
}

// Ensure records a user seen through a verified token.
func (s *UserService) Ensure(ctx context.Context, id, username string) (*model.User, error) {
	return s.users.Ensure(ctx, id, strings.TrimSpace(username))
}

func (s *UserService) Get(ctx context.Context, id string) (*model.User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return u, nil
}

func (s *UserService) List(ctx context.Context) ([]*model.User, error) {
	return s.users.List(ctx, 200)
}

// SetStatus hands the new status to the hub, which broadcasts it to other
// identities and persists it.
func (s *UserService) SetStatus(ctx context.Context, id, status string) error {
	status = strings.TrimSpace(status)
	if utf8.RuneCountInString(status) > realtime.MaxStatusLength {
		return ErrInvalidStatus
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if s.statuses != nil {
		s.statuses.UpdateStatus(model.Identity(id), status)
	}
	return nil
}

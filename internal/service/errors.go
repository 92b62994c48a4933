package service

import "errors"

// validationError is an error caused by the request itself. The real-time
// core reports these to the client as validation failures.
type validationError struct{ msg string }

func (e *validationError) Error() string { return e.msg }
func (e *validationError) Invalid() bool { return true }

func invalid(msg string) error { return &validationError{msg: msg} }

var (
	ErrChannelNotFound    = invalid("channel not found")
	ErrMessageNotFound    = invalid("message not found")
	ErrEmptyContent       = invalid("content is required")
	ErrContentTooLong     = invalid("content is too long")
	ErrInvalidChannelName = invalid("channel name must be 1-80 characters")
	ErrInvalidEmoji       = invalid("emoji is required")
	ErrReactionExists     = invalid("reaction already exists")
	ErrReactionNotFound   = invalid("reaction not found")
	ErrNestedThread       = invalid("cannot reply to a thread reply")
	ErrInvalidStatus      = invalid("status is too long")
	ErrInvalidDM          = invalid("a direct message needs exactly one other member")

	ErrUserNotFound     = errors.New("user not found")
	ErrFileNotFound     = errors.New("file not found")
	ErrFileTooLarge     = errors.New("file is too large")
	ErrEmptyFile        = errors.New("file is empty")
	ErrChannelNameTaken = errors.New("channel name already taken")
	ErrNotChannelMember = errors.New("not a channel member")
	ErrForbidden        = errors.New("insufficient permissions")
	ErrPrivateChannel   = errors.New("cannot join private channel")
	ErrOwnerCannotLeave = errors.New("channel owner cannot leave")
	ErrInvalidToken     = errors.New("invalid or expired token")
)

package users

import "errors"

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrEmailTaken      = errors.New("email already registered")
	ErrExternalIDTaken = errors.New("external account already linked to another user")
)

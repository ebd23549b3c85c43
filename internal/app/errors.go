package app

import "errors"

var (
	ErrEmailExists        = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
	ErrInvalidEmail       = errors.New("invalid email address")

	ErrChatNotFound    = errors.New("chat not found")
	ErrInvalidChatType = errors.New("unknown chat type")
	ErrEmptyMessage    = errors.New("message must not be empty")

	ErrCollectionRequired = errors.New("chat has no document collection")
	ErrCollectionNotFound = errors.New("document collection not found")

	ErrNotConfigured = errors.New("model provider not configured")
)

package model

import "errors"

var (
	// Session related errors
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrNoCredential     = errors.New("no credential present")

	// Realtime related errors
	ErrChannelOpen   = errors.New("realtime channel already open")
	ErrChannelClosed = errors.New("realtime channel closed")

	// Notification related errors
	ErrNotificationNotFound = errors.New("notification not found")

	// Store related errors
	ErrStoreClosed = errors.New("token store is closed")
)

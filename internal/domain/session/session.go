package session

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// ErrSessionExists is returned by Registry.Insert when the id is already registered.
var ErrSessionExists = errors.New("session already exists")

// ErrChannelClosed is returned by a Channel that was asked to handle a request after Close.
var ErrChannelClosed = errors.New("channel closed")

// New creates a session for ch with both timestamps set to now.
func New(id string, ch Channel) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:         id,
		Channel:    ch,
		CreatedAt:  now,
		LastAccess: now,
	}
}

// GenerateSessionID creates a cryptographically random session ID.
// Returns 64 hex characters (32 bytes).
func GenerateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session ID: %w", err)
	}
	return hex.EncodeToString(b), nil
}

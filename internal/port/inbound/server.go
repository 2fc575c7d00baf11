// Package inbound defines the inbound port interfaces for the gateway core.
// Inbound adapters (HTTP) implement or call these interfaces.
package inbound

import (
	"context"

	"github.com/Sentinel-Gate/echogate/internal/domain/session"
)

// Server is a long-running inbound transport.
type Server interface {
	// Start serves until ctx is cancelled or an error occurs.
	// Returns nil on graceful shutdown, error on failure.
	Start(ctx context.Context) error

	// Close gracefully shuts down the server and cleans up resources.
	Close() error
}

// ChannelFactory creates the channel bound to a newly created session.
// onClose must run exactly once after the channel closes.
type ChannelFactory interface {
	NewChannel(sessionID string, onClose func()) session.Channel
}

// Package session models client sessions and the channels bound to them.
package session

import (
	"context"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// Session binds a system-generated id to one live Channel.
type Session struct {
	// ID is a cryptographically random identifier, 32 bytes hex-encoded.
	ID string
	// Channel is the conduit every request for this session is routed through.
	Channel Channel
	// CreatedAt is when the session was registered (UTC).
	CreatedAt time.Time
	// LastAccess is the last time a request was routed to the session (UTC).
	// Guarded by the owning Registry.
	LastAccess time.Time
}

// IsIdle reports whether the session has not been used for longer than timeout.
// A non-positive timeout never expires a session.
func (s *Session) IsIdle(now time.Time, timeout time.Duration) bool {
	if timeout <= 0 {
		return false
	}
	return now.Sub(s.LastAccess) > timeout
}

// Channel is the duplex conduit bound to a single session.
//
// Handle answers one JSON-RPC request. It returns a nil response for
// notifications. Subscribe attaches an event stream that is closed when the
// channel closes; the returned cancel func detaches it early. Close is
// required of every implementation and must be safe to call more than once.
type Channel interface {
	Handle(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error)
	Subscribe() (events <-chan []byte, cancel func())
	Done() <-chan struct{}
	Close() error
}

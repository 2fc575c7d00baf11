package session

// Registry maps session ids to live sessions.
// All operations are atomic with respect to each other.
type Registry interface {
	// Lookup returns the session registered under id. An absent id is not an error.
	Lookup(id string) (*Session, bool)

	// Insert registers sess. Returns ErrSessionExists if the id is taken.
	Insert(sess *Session) error

	// Remove unregisters id. Removing an absent id is a no-op.
	Remove(id string)

	// Touch records activity on id. No-op when absent.
	Touch(id string)

	// Count returns the number of registered sessions.
	Count() int

	// CloseAll unregisters every session and closes its channel.
	CloseAll()
}

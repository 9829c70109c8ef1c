package session

// SessionPersistence stores session records outside the process. Room
// state is never part of a record.
type SessionPersistence interface {
	Save(session *Session) error

	// Load returns ErrSessionNotFound when no record exists for id
	Load(id string) (*Session, error)

	Delete(id string) error

	// ListAll returns the ids of every stored record
	ListAll() ([]string, error)

	Exists(id string) bool
}

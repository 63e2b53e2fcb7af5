package session

import "github.com/google/uuid"

// newCorrelationToken generates the unique value that identifies this client
// instance to the server during authentication. Generated once per session
// instance; a new token requires constructing a new session.
func newCorrelationToken() string {
	return uuid.NewString()
}

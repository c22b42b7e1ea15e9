package util

import "github.com/google/uuid"

// NewRequestID returns a time-ordered v7 UUID, so request ids sort by arrival
// in log search.
func NewRequestID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// NewAnonymousID returns a random v4 UUID used to identify a guest reader.
func NewAnonymousID() string {
	return uuid.NewString()
}

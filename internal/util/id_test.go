package util

import (
	"testing"

	"github.com/google/uuid"
)

func TestNewAnonymousIDIsRandomUUID(t *testing.T) {
	a := NewAnonymousID()
	b := NewAnonymousID()
	if a == b {
		t.Fatalf("expected distinct ids, got %q twice", a)
	}
	parsed, err := uuid.Parse(a)
	if err != nil {
		t.Fatalf("parse anonymous id: %v", err)
	}
	if parsed.Version() != 4 {
		t.Fatalf("expected v4 uuid, got v%d", parsed.Version())
	}
}

func TestNewRequestIDIsTimeOrdered(t *testing.T) {
	parsed, err := uuid.Parse(NewRequestID())
	if err != nil {
		t.Fatalf("parse request id: %v", err)
	}
	if parsed.Version() != 7 {
		t.Fatalf("expected v7 uuid, got v%d", parsed.Version())
	}
}

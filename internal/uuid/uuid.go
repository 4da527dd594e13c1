// Package uuid wraps id generation behind an interface so tests can use
// deterministic ids, e.g. for correlating bridge calls with their replies.
package uuid

import (
	"github.com/google/uuid"
)

// Generator produces unique id strings
type Generator interface {
	New() string
}

// GoogleUUIDGenerator generates random v4 UUIDs
type GoogleUUIDGenerator struct{}

// New returns a fresh UUID string
func (g *GoogleUUIDGenerator) New() string {
	return uuid.New().String()
}

// NewGoogleUUIDGenerator creates a new GoogleUUIDGenerator
func NewGoogleUUIDGenerator() *GoogleUUIDGenerator {
	return &GoogleUUIDGenerator{}
}

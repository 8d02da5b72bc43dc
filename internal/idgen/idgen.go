package idgen

import "github.com/google/uuid"

// NewFunc produces identifiers for tasks, inbox messages and escalation
// notices. Tests stub it for stable ids.
var NewFunc = func() string { return uuid.New().String() }

// New returns a fresh identifier.
func New() string { return NewFunc() }

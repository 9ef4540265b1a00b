package idgen

import "github.com/google/uuid"

// New returns a new globally unique identifier as string.  Change set,
// record, approval and audit identifiers all come from here; tests stub
// NewFunc for stable fixtures.

var NewFunc = func() string { return uuid.New().String() }

func New() string { return NewFunc() }

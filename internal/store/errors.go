package store

import "errors"

// ErrDuplicate is returned when registering a media file whose checksum is
// already known.
var ErrDuplicate = errors.New("media file already registered")

// ErrIntegrity is returned when a segment write would break the
// cross-language cue count or timing invariant. Nothing is persisted.
var ErrIntegrity = errors.New("segment integrity violation")

// ErrNotFound is returned when a referenced media file or status row does
// not exist.
var ErrNotFound = errors.New("not found")

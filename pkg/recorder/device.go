package recorder

import (
	"context"
	"io"
)

// Device hands out exclusive capture streams.
type Device interface {
	Open(ctx context.Context) (Stream, error)
}

// Stream is an open capture: encoded audio is read from it until the
// encoder is finalized, after which Read returns io.EOF.
type Stream interface {
	io.Reader
	// Finalize asks the encoder to flush and end the stream.
	Finalize() error
	Tracks() []Track
}

// Track is one reserved input of a stream.
type Track interface {
	ID() string
	Stop() error
}

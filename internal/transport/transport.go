// Package transport moves opaque halo payloads between workers.
//
// The exchange never blocks on the network: it posts non-blocking sends and
// receives, then polls the returned requests until they complete. Messages are
// addressed by (peer rank, tag); for a given sender, receiver and tag they are
// delivered in order.
package transport

import (
	"context"
	"errors"
)

var (
	// ErrTransportFailure wraps every delivery error.
	ErrTransportFailure = errors.New("transport: failure")
	// ErrUnknownPeer is returned when addressing a rank the transport does
	// not know.
	ErrUnknownPeer = errors.New("transport: unknown peer")
)

// Request is a posted, possibly incomplete operation.
type Request interface {
	// Test reports whether the operation completed. A non-nil error means
	// it failed and will never complete.
	Test() (done bool, err error)
	// Payload returns the received bytes once a receive is done. It is nil
	// for sends.
	Payload() []byte
}

// Transport is one worker's endpoint.
type Transport interface {
	// Rank is this endpoint's tile index.
	Rank() int
	// Isend posts payload for rank to under tag.
	Isend(ctx context.Context, to, tag int, payload []byte) (Request, error)
	// Irecv posts a receive for the next message from rank from under tag.
	Irecv(ctx context.Context, from, tag int) (Request, error)
	Close() error
}

// doneRequest is a send that completed when it was posted.
type doneRequest struct{ err error }

func (r doneRequest) Test() (bool, error) { return r.err == nil, r.err }
func (doneRequest) Payload() []byte       { return nil }

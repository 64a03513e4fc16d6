package transport

import (
	"context"
	"fmt"
)

// Hub connects a fleet of in-process endpoints through shared mailboxes.
type Hub struct {
	boxes []*Mailbox
}

// NewHub creates a hub for ranks 0..n-1.
func NewHub(n int) *Hub {
	h := &Hub{boxes: make([]*Mailbox, n)}
	for i := range h.boxes {
		h.boxes[i] = NewMailbox()
	}
	return h
}

// Size returns the number of ranks.
func (h *Hub) Size() int { return len(h.boxes) }

// Endpoint returns the transport for rank.
func (h *Hub) Endpoint(rank int) Transport {
	return &hubEndpoint{hub: h, rank: rank}
}

// Close closes every mailbox.
func (h *Hub) Close() {
	for _, b := range h.boxes {
		b.Close()
	}
}

type hubEndpoint struct {
	hub  *Hub
	rank int
}

func (e *hubEndpoint) Rank() int { return e.rank }

func (e *hubEndpoint) box(rank int) (*Mailbox, error) {
	if rank < 0 || rank >= len(e.hub.boxes) {
		return nil, fmt.Errorf("%w: rank %d", ErrUnknownPeer, rank)
	}
	return e.hub.boxes[rank], nil
}

func (e *hubEndpoint) Isend(ctx context.Context, to, tag int, payload []byte) (Request, error) {
	b, err := e.box(to)
	if err != nil {
		return nil, err
	}
	if err := b.Deliver(e.rank, tag, payload); err != nil {
		return nil, err
	}
	return doneRequest{}, nil
}

func (e *hubEndpoint) Irecv(ctx context.Context, from, tag int) (Request, error) {
	if _, err := e.box(from); err != nil {
		return nil, err
	}
	own, err := e.box(e.rank)
	if err != nil {
		return nil, err
	}
	return own.Receive(ctx, from, tag), nil
}

func (e *hubEndpoint) Close() error { return nil }

package transport

import (
	"context"
	"fmt"
	"sync"
)

type mailKey struct{ from, tag int }

// Mailbox buffers inbound payloads for one rank, FIFO per (sender, tag).
type Mailbox struct {
	mu     sync.Mutex
	queues map[mailKey][][]byte
	closed bool
}

// NewMailbox returns an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{queues: make(map[mailKey][][]byte)}
}

// Deliver queues payload from sender under tag. The mailbox keeps its own copy.
func (m *Mailbox) Deliver(from, tag int, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("%w: mailbox closed", ErrTransportFailure)
	}
	k := mailKey{from, tag}
	m.queues[k] = append(m.queues[k], append([]byte(nil), payload...))
	return nil
}

// Take pops the oldest payload from sender under tag, if any.
func (m *Mailbox) Take(from, tag int) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, false, fmt.Errorf("%w: mailbox closed", ErrTransportFailure)
	}
	k := mailKey{from, tag}
	q := m.queues[k]
	if len(q) == 0 {
		return nil, false, nil
	}
	p := q[0]
	if len(q) == 1 {
		delete(m.queues, k)
	} else {
		m.queues[k] = q[1:]
	}
	return p, true, nil
}

// Pending returns the number of queued payloads.
func (m *Mailbox) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, q := range m.queues {
		n += len(q)
	}
	return n
}

// Close drops queued payloads. Later calls fail.
func (m *Mailbox) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.queues = nil
}

// Receive posts a receive against the mailbox.
func (m *Mailbox) Receive(ctx context.Context, from, tag int) Request {
	return &mailboxRecv{ctx: ctx, box: m, from: from, tag: tag}
}

type mailboxRecv struct {
	ctx       context.Context
	box       *Mailbox
	from, tag int
	payload   []byte
	done      bool
}

func (r *mailboxRecv) Test() (bool, error) {
	if r.done {
		return true, nil
	}
	if err := r.ctx.Err(); err != nil {
		return false, fmt.Errorf("%w: receive from %d tag %d: %v", ErrTransportFailure, r.from, r.tag, err)
	}
	p, ok, err := r.box.Take(r.from, r.tag)
	if err != nil || !ok {
		return false, err
	}
	r.payload, r.done = p, true
	return true, nil
}

func (r *mailboxRecv) Payload() []byte { return r.payload }

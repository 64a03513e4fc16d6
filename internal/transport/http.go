package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

// MaxPayload bounds a single inbound halo message.
const MaxPayload = 64 << 20

// HaloPath is the route peers post payloads to.
const HaloPath = "/halo/{from}/{tag}"

// HTTP sends payloads as POSTs to peer workers and receives them through a
// local Mailbox fed by the halo route (see Mount).
type HTTP struct {
	rank   int
	inbox  *Mailbox
	client *http.Client

	mu    sync.RWMutex
	peers map[int]string // rank -> base URL
}

// HTTPOption configures an HTTP transport.
type HTTPOption func(*HTTP)

// WithHTTPClient overrides the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTP) { h.client = c }
}

// NewHTTP creates the endpoint for rank. peers maps every other rank to the
// base URL of its worker.
func NewHTTP(rank int, peers map[int]string, inbox *Mailbox, opts ...HTTPOption) *HTTP {
	h := &HTTP{
		rank:   rank,
		inbox:  inbox,
		client: &http.Client{Timeout: 30 * time.Second},
		peers:  make(map[int]string, len(peers)),
	}
	for r, addr := range peers {
		h.peers[r] = addr
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

func (h *HTTP) Rank() int { return h.rank }

// SetPeer adds or replaces the address of rank.
func (h *HTTP) SetPeer(rank int, addr string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.peers[rank] = addr
}

func (h *HTTP) peer(rank int) (string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	addr, ok := h.peers[rank]
	if !ok {
		return "", fmt.Errorf("%w: rank %d", ErrUnknownPeer, rank)
	}
	return addr, nil
}

// Isend posts the payload in the background; the request completes when the
// peer acknowledged it.
func (h *HTTP) Isend(ctx context.Context, to, tag int, payload []byte) (Request, error) {
	addr, err := h.peer(to)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/halo/%d/%d", addr, h.rank, tag)
	req := &httpSend{done: make(chan struct{})}
	body := append([]byte(nil), payload...)
	go func() {
		defer close(req.done)
		req.err = h.post(ctx, url, body)
	}()
	return req, nil
}

func (h *HTTP) post(ctx context.Context, url string, body []byte) error {
	r, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransportFailure, err)
	}
	r.Header.Set("Content-Type", "application/octet-stream")
	resp, err := h.client.Do(r)
	if err != nil {
		return fmt.Errorf("%w: post %s: %v", ErrTransportFailure, url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%w: post %s: status %d", ErrTransportFailure, url, resp.StatusCode)
	}
	return nil
}

func (h *HTTP) Irecv(ctx context.Context, from, tag int) (Request, error) {
	if _, err := h.peer(from); err != nil {
		return nil, err
	}
	return h.inbox.Receive(ctx, from, tag), nil
}

func (h *HTTP) Close() error {
	h.client.CloseIdleConnections()
	return nil
}

type httpSend struct {
	done chan struct{}
	err  error
}

func (r *httpSend) Test() (bool, error) {
	select {
	case <-r.done:
		return r.err == nil, r.err
	default:
		return false, nil
	}
}

func (r *httpSend) Payload() []byte { return nil }

// Mount registers the halo route, delivering inbound payloads into inbox.
func Mount(r chi.Router, inbox *Mailbox) {
	r.Post(HaloPath, HaloHandler(inbox))
}

// HaloHandler accepts POST /halo/{from}/{tag}.
func HaloHandler(inbox *Mailbox) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		from, err1 := strconv.Atoi(chi.URLParam(r, "from"))
		tag, err2 := strconv.Atoi(chi.URLParam(r, "tag"))
		if err1 != nil || err2 != nil {
			http.Error(w, "bad halo address", http.StatusBadRequest)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, MaxPayload+1))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if len(body) > MaxPayload {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			return
		}
		if err := inbox.Deliver(from, tag, body); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

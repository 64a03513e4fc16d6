package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Redis exchanges payloads through Redis lists, one list per
// (run, receiver, sender, tag). Sends RPUSH; receives poll with LPOP.
type Redis struct {
	client redis.UniversalClient
	run    string
	rank   int
	size   int
}

// NewRedis creates the endpoint for rank in a fleet of size ranks. run scopes
// the keys so concurrent runs do not collide.
func NewRedis(client redis.UniversalClient, run string, rank, size int) *Redis {
	return &Redis{client: client, run: run, rank: rank, size: size}
}

// Key returns the list holding messages from sender to receiver under tag.
func Key(run string, to, from, tag int) string {
	return fmt.Sprintf("halo:%s:%d:%d:%d", run, to, from, tag)
}

func (t *Redis) Rank() int { return t.rank }

func (t *Redis) check(rank int) error {
	if rank < 0 || rank >= t.size {
		return fmt.Errorf("%w: rank %d", ErrUnknownPeer, rank)
	}
	return nil
}

func (t *Redis) Isend(ctx context.Context, to, tag int, payload []byte) (Request, error) {
	if err := t.check(to); err != nil {
		return nil, err
	}
	if err := t.client.RPush(ctx, Key(t.run, to, t.rank, tag), payload).Err(); err != nil {
		return nil, fmt.Errorf("%w: rpush: %v", ErrTransportFailure, err)
	}
	return doneRequest{}, nil
}

func (t *Redis) Irecv(ctx context.Context, from, tag int) (Request, error) {
	if err := t.check(from); err != nil {
		return nil, err
	}
	return &redisRecv{ctx: ctx, client: t.client, key: Key(t.run, t.rank, from, tag)}, nil
}

// Close leaves the client open; it belongs to the caller.
func (t *Redis) Close() error { return nil }

// Cleanup deletes every list left over for run.
func Cleanup(ctx context.Context, client redis.UniversalClient, run string) error {
	iter := client.Scan(ctx, 0, fmt.Sprintf("halo:%s:*", run), 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("%w: scan: %v", ErrTransportFailure, err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: del: %v", ErrTransportFailure, err)
	}
	return nil
}

type redisRecv struct {
	ctx     context.Context
	client  redis.UniversalClient
	key     string
	payload []byte
	done    bool
}

func (r *redisRecv) Test() (bool, error) {
	if r.done {
		return true, nil
	}
	b, err := r.client.LPop(r.ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: lpop %s: %v", ErrTransportFailure, r.key, err)
	}
	r.payload, r.done = b, true
	return true, nil
}

func (r *redisRecv) Payload() []byte { return r.payload }

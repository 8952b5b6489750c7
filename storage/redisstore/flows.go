package redisstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jrsteele09/cids/broker/flowstate"
	"github.com/jrsteele09/cids/internal/errors"
)

const kindFlow = "flow"

type FlowRepo struct{ s *Store }

var _ flowstate.Repo = (*FlowRepo)(nil)

func (s *Store) Flows() *FlowRepo { return &FlowRepo{s: s} }

func (r *FlowRepo) Put(ctx context.Context, key string, st *flowstate.State) error {
	if key == "" || st == nil {
		return errors.Wrapf(errors.ErrInvalidRequest, "state and flow are required")
	}
	data, err := json.Marshal(st)
	if err != nil {
		return errors.Wrapf(err, "encode flow")
	}
	ok, err := r.s.client.SetNX(ctx, r.s.key(kindFlow, key), data, r.s.ttl(st.ExpiresAt)).Result()
	if err != nil {
		return errors.Wrapf(err, "store flow")
	}
	if !ok {
		return errors.ErrAlreadyExists
	}
	return nil
}

// Take uses GETDEL so a state is consumed by exactly one callback.
func (r *FlowRepo) Take(ctx context.Context, key string) (*flowstate.State, error) {
	data, err := r.s.client.GetDel(ctx, r.s.key(kindFlow, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "take flow")
	}
	var st flowstate.State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, errors.Wrapf(err, "decode flow")
	}
	return &st, nil
}

func (r *FlowRepo) DeleteExpired(context.Context, time.Time) (int, error) {
	return 0, nil
}

package sqlstore

import (
	"context"
	"time"

	"github.com/jrsteele09/cids/broker/flowstate"
	"github.com/jrsteele09/cids/internal/errors"
)

type FlowRepo struct{ s *Store }

var _ flowstate.Repo = (*FlowRepo)(nil)

func (s *Store) Flows() *FlowRepo { return &FlowRepo{s: s} }

func (r *FlowRepo) Put(ctx context.Context, key string, st *flowstate.State) error {
	if key == "" || st == nil {
		return errors.Wrapf(errors.ErrInvalidRequest, "state and flow are required")
	}
	res, err := r.s.exec(ctx, r.s.db, `
		INSERT INTO login_flows (state, nonce, code_verifier, return_url, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (state) DO NOTHING`,
		key, st.Nonce, st.CodeVerifier, st.ReturnURL, st.CreatedAt.UTC(), st.ExpiresAt.UTC())
	if err := affected(res, err); err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return errors.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// Take deletes and returns the flow in one statement, so concurrent
// callbacks with the same state cannot both succeed.
func (r *FlowRepo) Take(ctx context.Context, key string) (*flowstate.State, error) {
	var st flowstate.State
	err := r.s.queryRow(ctx, r.s.db, `
		DELETE FROM login_flows WHERE state = ?
		RETURNING nonce, code_verifier, return_url, created_at, expires_at`, key).
		Scan(&st.Nonce, &st.CodeVerifier, &st.ReturnURL, &st.CreatedAt, &st.ExpiresAt)
	if err != nil {
		return nil, notFound(err)
	}
	st.CreatedAt = st.CreatedAt.UTC()
	st.ExpiresAt = st.ExpiresAt.UTC()
	return &st, nil
}

func (r *FlowRepo) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := r.s.exec(ctx, r.s.db, `DELETE FROM login_flows WHERE expires_at <= ?`, now.UTC())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

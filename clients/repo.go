package clients

import (
	"context"
	"time"
)

type Repo interface {
	Upsert(ctx context.Context, client *Client) error
	Delete(ctx context.Context, clientID string) error
	Get(ctx context.Context, clientID string) (*Client, error)
	List(ctx context.Context, offset, limit int) ([]*Client, error)
	RecordDiscovery(ctx context.Context, clientID string, status DiscoveryStatus, at time.Time, errMsg string) error
}

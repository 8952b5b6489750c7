package audit

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/cids/internal/ids"
)

// Actions recorded in the activity log
const (
	ActionLogin            = "login"
	ActionLoginFailed      = "login_failed"
	ActionLogout           = "logout"
	ActionRefresh          = "refresh"
	ActionReplayDetected   = "refresh_replay_detected"
	ActionIPBindingBypass  = "ip_binding_bypass"
	ActionServiceToken     = "service_token_issued"
	ActionServiceTokenDeny = "service_token_denied"
	ActionAPIKeyCreated    = "api_key_created"
	ActionAPIKeyRotated    = "api_key_rotated"
	ActionAPIKeyRevoked    = "api_key_revoked"
	ActionDiscoveryRun     = "discovery_run"
	ActionSigningKeyRotate = "signing_key_rotated"
	ActionTokenRevoked     = "token_revoked"
	ActionAppRegistered    = "app_registered"
	ActionPolicyUpdated    = "policy_updated"
	ActionUserBlocked      = "user_blocked"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Entry is an immutable activity log record.
type Entry struct {
	ID      string
	At      time.Time
	Actor   string
	Action  string
	Target  string
	Outcome string
	IP      string
	Details map[string]string
}

type Filter struct {
	Actor  string
	Action string
	Limit  int
}

// Repo is append-only: entries are never updated or deleted.
type Repo interface {
	Append(ctx context.Context, entry Entry) error
	List(ctx context.Context, filter Filter) ([]Entry, error)
}

// Recorder writes audit entries.
type Recorder interface {
	Record(ctx context.Context, entry Entry) error
}

type Log struct {
	repo Repo
	now  func() time.Time
}

func NewLog(repo Repo) *Log {
	return &Log{repo: repo, now: time.Now}
}

// Record assigns an id and timestamp to entry and appends it. The entry is
// also written to the structured log so it survives a repo outage.
func (l *Log) Record(ctx context.Context, entry Entry) error {
	if entry.ID == "" {
		entry.ID = ids.NewSortable()
	}
	if entry.At.IsZero() {
		entry.At = l.now().UTC()
	}
	if entry.Outcome == "" {
		entry.Outcome = OutcomeSuccess
	}

	event := log.Info()
	if entry.Outcome != OutcomeSuccess {
		event = log.Warn()
	}
	event.Str("audit_id", entry.ID).
		Str("actor", entry.Actor).
		Str("action", entry.Action).
		Str("target", entry.Target).
		Str("outcome", entry.Outcome).
		Str("ip", entry.IP).
		Interface("details", entry.Details).
		Msg("audit")

	if err := l.repo.Append(ctx, entry); err != nil {
		log.Err(err).Str("audit_id", entry.ID).Msg("failed to append audit entry")
		return err
	}
	return nil
}

func (l *Log) List(ctx context.Context, filter Filter) ([]Entry, error) {
	return l.repo.List(ctx, filter)
}

// Safe records entry on r, logging instead of failing. A nil recorder is
// ignored.
func Safe(ctx context.Context, r Recorder, entry Entry) {
	if r == nil {
		return
	}
	_ = r.Record(ctx, entry)
}

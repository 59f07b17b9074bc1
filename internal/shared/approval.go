package shared

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ApprovalAction enumerates the actions kept in a document's approval trail.
type ApprovalAction string

const (
	// ApprovalSubmit records that a document was handed in for review.
	ApprovalSubmit ApprovalAction = "SUBMIT"
	// ApprovalApprove records a sign-off.
	ApprovalApprove ApprovalAction = "APPROVE"
	// ApprovalReject records a refusal.
	ApprovalReject ApprovalAction = "REJECT"
)

// ApprovalLog is one entry in a document's approval trail. Documents are
// integer-keyed, so RefID is a uuid derived from the entity name and id.
type ApprovalLog struct {
	ID      int64
	Module  string
	RefID   uuid.UUID
	ActorID int64
	Action  ApprovalAction
	Note    string
	At      time.Time
}

// ApprovalRecorder persists the approval trail. The trail is append-only;
// there is no workflow engine behind it, just who did what and when.
type ApprovalRecorder struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewApprovalRecorder constructs ApprovalRecorder.
func NewApprovalRecorder(pool *pgxpool.Pool, logger *slog.Logger) *ApprovalRecorder {
	return &ApprovalRecorder{pool: pool, logger: logger}
}

// Record appends one trail entry.
func (r *ApprovalRecorder) Record(ctx context.Context, log ApprovalLog) error {
	if r == nil {
		return errors.New("approval recorder not initialised")
	}
	switch {
	case log.Module == "":
		return errors.New("approval module required")
	case log.RefID == uuid.Nil:
		return errors.New("approval ref id required")
	case log.ActorID == 0:
		return errors.New("approval actor required")
	case log.Action == "":
		return errors.New("approval action required")
	}
	at := log.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO approval_logs (module, ref_id, actor_id, action, note, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		log.Module, log.RefID, log.ActorID, string(log.Action), log.Note, at)
	if err != nil {
		r.logger.Error("record approval", slog.Any("error", err), slog.String("module", log.Module))
		return err
	}
	return nil
}

// List returns a document's trail, oldest entry first.
func (r *ApprovalRecorder) List(ctx context.Context, module string, ref uuid.UUID) ([]ApprovalLog, error) {
	if r == nil {
		return nil, errors.New("approval recorder not initialised")
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, module, ref_id, actor_id, action, note, created_at
		 FROM approval_logs
		 WHERE module = $1 AND ref_id = $2
		 ORDER BY created_at, id`,
		module, ref)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trail []ApprovalLog
	for rows.Next() {
		var entry ApprovalLog
		var action string
		if err := rows.Scan(&entry.ID, &entry.Module, &entry.RefID, &entry.ActorID, &action, &entry.Note, &entry.At); err != nil {
			return nil, err
		}
		entry.Action = ApprovalAction(action)
		trail = append(trail, entry)
	}
	return trail, rows.Err()
}

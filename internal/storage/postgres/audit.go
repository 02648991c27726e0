package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/heating-shop/internal/domain/audit"
)

const insertAuditLogSQL = `INSERT INTO audit_logs (id, action, entity, entity_id, params, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)`

var _ audit.Recorder = (*AuditRepository)(nil)

// AuditRepository stores audit entries in the audit_logs table.
type AuditRepository struct {
	pool *pgxpool.Pool
}

func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

// Record writes e, joining the caller's transaction if there is one.
func (r *AuditRepository) Record(ctx context.Context, e audit.Entry) error {
	at := e.CreatedAt
	if at.IsZero() {
		at = time.Now()
	}
	_, err := conn(ctx, r.pool).Exec(ctx, insertAuditLogSQL,
		uuid.NewString(), e.Action, e.Entity, e.EntityID, encodeParams(e.Params), at,
	)
	if err != nil {
		return fmt.Errorf("recording %s on %s %q: %w", e.Action, e.Entity, e.EntityID, err)
	}
	return nil
}

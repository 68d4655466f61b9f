package postgres

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/honeynil/LeadMarketplace/internal/models"
	pkgerrors "github.com/honeynil/LeadMarketplace/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

// PostgresLeadRepository reads the listing table. Lead status is only ever
// changed by the lead_purchases trigger.
type PostgresLeadRepository struct {
	db *sql.DB
}

func NewPostgresLeadRepository(db *sql.DB) *PostgresLeadRepository {
	return &PostgresLeadRepository{db: db}
}

func (r *PostgresLeadRepository) GetByID(ctx context.Context, id uuid.UUID) (lead *models.Lead, err error) {
	ctx, span, done := track(ctx, "lead-repository", "GetLeadByID")
	defer done(&err)
	span.SetAttributes(attribute.String("lead_id", id.String()))

	var l models.Lead
	query := `SELECT id, title, lead_price, status, expires_at FROM lead_marketplace WHERE id = $1`
	err = r.db.QueryRowContext(ctx, query, id).Scan(&l.ID, &l.Title, &l.Price, &l.Status, &l.ExpiresAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		slog.Warn("lead not found", "method", "GetByID", "lead_id", id)
		err = pkgerrors.ErrLeadNotFound
		return nil, err
	}
	if err != nil {
		slog.Error("failed to get lead", "method", "GetByID", "lead_id", id, "error", err)
		return nil, fmt.Errorf("failed to get lead: %w", err)
	}

	return &l, nil
}

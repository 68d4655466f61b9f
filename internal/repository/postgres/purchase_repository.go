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

const leadPurchasesLeadIDKey = "lead_purchases_lead_id_key"

type PostgresPurchaseRepository struct {
	db *sql.DB
}

func NewPostgresPurchaseRepository(db *sql.DB) *PostgresPurchaseRepository {
	return &PostgresPurchaseRepository{db: db}
}

// Create inserts the ownership row. The insert trigger flips the lead to
// purchased in the same transaction, so both happen or neither does.
func (r *PostgresPurchaseRepository) Create(ctx context.Context, p *models.Purchase) (err error) {
	ctx, span, done := track(ctx, "purchase-repository", "CreatePurchase")
	defer done(&err)

	if p == nil {
		err = pkgerrors.ErrNilPurchase
		slog.Error("failed to create purchase", "method", "Create", "error", err)
		return err
	}
	if !p.PurchasePrice.IsPositive() {
		err = pkgerrors.ErrInvalidAmount
		slog.Error("invalid purchase price", "method", "Create", "price", p.PurchasePrice, "error", err)
		return err
	}
	span.SetAttributes(
		attribute.String("lead_id", p.LeadID.String()),
		attribute.String("agent_id", p.AgentID.String()),
		attribute.String("payment_id", p.PaymentID.String()),
	)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("failed to begin transaction", "method", "Create", "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	query := `INSERT INTO lead_purchases (lead_id, agent_id, payment_id, purchase_price)
		VALUES ($1, $2, $3, $4) RETURNING id, purchased_at`
	err = tx.QueryRowContext(ctx, query, p.LeadID, p.AgentID, p.PaymentID, p.PurchasePrice).Scan(&p.ID, &p.PurchasedAt)
	if err != nil {
		err = rollback(tx, err)
		code, constraint, _ := pqCode(err)
		switch {
		case code == pqUniqueViolation && constraint == leadPurchasesLeadIDKey:
			slog.Warn("lead already purchased", "method", "Create", "lead_id", p.LeadID, "agent_id", p.AgentID)
			err = pkgerrors.ErrLeadAlreadyPurchased
			return err
		case code == pqRaiseException:
			slog.Warn("lead not available", "method", "Create", "lead_id", p.LeadID)
			err = pkgerrors.ErrLeadUnavailable
			return err
		}
		slog.Error("failed to create purchase", "method", "Create", "lead_id", p.LeadID, "error", err)
		return fmt.Errorf("failed to create purchase: %w", err)
	}

	if err = tx.Commit(); err != nil {
		slog.Error("failed to commit transaction", "method", "Create", "error", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	slog.Info("lead ownership transferred", "method", "Create", "purchase_id", p.ID, "lead_id", p.LeadID, "agent_id", p.AgentID)
	return nil
}

func (r *PostgresPurchaseRepository) GetByLeadID(ctx context.Context, leadID uuid.UUID) (p *models.Purchase, err error) {
	ctx, span, done := track(ctx, "purchase-repository", "GetPurchaseByLeadID")
	defer done(&err)
	span.SetAttributes(attribute.String("lead_id", leadID.String()))

	var out models.Purchase
	query := `SELECT id, lead_id, agent_id, payment_id, purchase_price, purchased_at FROM lead_purchases WHERE lead_id = $1`
	err = r.db.QueryRowContext(ctx, query, leadID).Scan(&out.ID, &out.LeadID, &out.AgentID, &out.PaymentID, &out.PurchasePrice, &out.PurchasedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("failed to get purchase", "method", "GetByLeadID", "lead_id", leadID, "error", err)
		return nil, fmt.Errorf("failed to get purchase: %w", err)
	}
	return &out, nil
}

package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/honeynil/LeadMarketplace/internal/models"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

// Payments that count towards velocity and spend windows.
const countedStatuses = `('pending', 'processing', 'completed')`

type PostgresFraudRepository struct {
	db *sql.DB
}

func NewPostgresFraudRepository(db *sql.DB) *PostgresFraudRepository {
	return &PostgresFraudRepository{db: db}
}

func (r *PostgresFraudRepository) CountUserPayments(ctx context.Context, userID uuid.UUID, since time.Time) (n int, err error) {
	ctx, span, done := track(ctx, "fraud-repository", "CountUserPayments")
	defer done(&err)
	span.SetAttributes(attribute.String("user_id", userID.String()))

	query := `SELECT COUNT(*) FROM payments WHERE user_id = $1 AND created_at >= $2 AND status IN ` + countedStatuses
	if err = r.db.QueryRowContext(ctx, query, userID, since).Scan(&n); err != nil {
		slog.Error("failed to count user payments", "method", "CountUserPayments", "user_id", userID, "error", err)
		return 0, fmt.Errorf("failed to count user payments: %w", err)
	}
	return n, nil
}

func (r *PostgresFraudRepository) SumUserPayments(ctx context.Context, userID uuid.UUID, since time.Time) (total decimal.Decimal, err error) {
	ctx, span, done := track(ctx, "fraud-repository", "SumUserPayments")
	defer done(&err)
	span.SetAttributes(attribute.String("user_id", userID.String()))

	query := `SELECT COALESCE(SUM(amount), 0) FROM payments WHERE user_id = $1 AND created_at >= $2 AND status IN ` + countedStatuses
	if err = r.db.QueryRowContext(ctx, query, userID, since).Scan(&total); err != nil {
		slog.Error("failed to sum user payments", "method", "SumUserPayments", "user_id", userID, "error", err)
		return decimal.Zero, fmt.Errorf("failed to sum user payments: %w", err)
	}
	return total, nil
}

func (r *PostgresFraudRepository) CountDistinctUsersByIP(ctx context.Context, ip string, since time.Time) (n int, err error) {
	ctx, _, done := track(ctx, "fraud-repository", "CountDistinctUsersByIP")
	defer done(&err)

	query := `SELECT COUNT(DISTINCT user_id) FROM payments WHERE ip_address = $1 AND created_at >= $2`
	if err = r.db.QueryRowContext(ctx, query, ip, since).Scan(&n); err != nil {
		slog.Error("failed to count users by ip", "method", "CountDistinctUsersByIP", "error", err)
		return 0, fmt.Errorf("failed to count users by ip: %w", err)
	}
	return n, nil
}

func (r *PostgresFraudRepository) CountDistinctUsersByDevice(ctx context.Context, fingerprint string, since time.Time) (n int, err error) {
	ctx, _, done := track(ctx, "fraud-repository", "CountDistinctUsersByDevice")
	defer done(&err)

	query := `SELECT COUNT(DISTINCT user_id) FROM payments WHERE device_fingerprint = $1 AND created_at >= $2`
	if err = r.db.QueryRowContext(ctx, query, fingerprint, since).Scan(&n); err != nil {
		slog.Error("failed to count users by device", "method", "CountDistinctUsersByDevice", "error", err)
		return 0, fmt.Errorf("failed to count users by device: %w", err)
	}
	return n, nil
}

// InsertLogs writes one row per executed check in a single transaction.
func (r *PostgresFraudRepository) InsertLogs(ctx context.Context, logs []models.FraudCheckLog) (err error) {
	ctx, span, done := track(ctx, "fraud-repository", "InsertFraudLogs")
	defer done(&err)
	span.SetAttributes(attribute.Int("count", len(logs)))

	if len(logs) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("failed to begin transaction", "method", "InsertLogs", "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	query := `INSERT INTO fraud_check_logs (id, run_id, user_id, payment_id, ip_address, user_agent, device_fingerprint,
			check_type, check_result, risk_score, details, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	for _, l := range logs {
		var paymentID any
		if l.PaymentID != nil {
			paymentID = *l.PaymentID
		}
		details := []byte(l.Details)
		if len(details) == 0 {
			details = []byte("{}")
		}
		if _, err = tx.ExecContext(ctx, query, l.ID, l.RunID, l.UserID, paymentID, nullString(l.IPAddress),
			nullString(l.UserAgent), nullString(l.DeviceFingerprint), l.CheckType, l.CheckResult, l.RiskScore,
			details, nullString(l.Reason)); err != nil {
			err = rollback(tx, err)
			slog.Error("failed to insert fraud log", "method", "InsertLogs", "run_id", l.RunID, "check_type", l.CheckType, "error", err)
			return fmt.Errorf("failed to insert fraud log: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		slog.Error("failed to commit transaction", "method", "InsertLogs", "error", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *PostgresFraudRepository) AttachPayment(ctx context.Context, runID, paymentID uuid.UUID) (err error) {
	ctx, span, done := track(ctx, "fraud-repository", "AttachFraudLogPayment")
	defer done(&err)
	span.SetAttributes(attribute.String("run_id", runID.String()), attribute.String("payment_id", paymentID.String()))

	query := `UPDATE fraud_check_logs SET payment_id = $2 WHERE run_id = $1 AND payment_id IS NULL`
	if _, err = r.db.ExecContext(ctx, query, runID, paymentID); err != nil {
		slog.Error("failed to attach payment to fraud logs", "method", "AttachPayment", "run_id", runID, "error", err)
		return fmt.Errorf("failed to attach payment to fraud logs: %w", err)
	}
	return nil
}

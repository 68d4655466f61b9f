package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/honeynil/LeadMarketplace/internal/models"
	pkgerrors "github.com/honeynil/LeadMarketplace/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

type PostgresIdempotencyRepository struct {
	db *sql.DB
}

func NewPostgresIdempotencyRepository(db *sql.DB) *PostgresIdempotencyRepository {
	return &PostgresIdempotencyRepository{db: db}
}

// GetByKey returns ErrIdempotencyNotFound for unknown keys. Expired rows are
// still returned until the cleanup job removes them.
func (r *PostgresIdempotencyRepository) GetByKey(ctx context.Context, key string) (a *models.PurchaseAttempt, err error) {
	ctx, span, done := track(ctx, "idempotency-repository", "GetIdempotencyByKey")
	defer done(&err)
	span.SetAttributes(attribute.String("idempotency_key", key))

	var (
		out                       models.PurchaseAttempt
		paymentID                 uuid.NullUUID
		requestBody, responseData []byte
	)
	query := `SELECT idempotency_key, user_id, request_hash, request_body, payment_id, response_status,
			response_data, created_at, expires_at
		FROM payment_idempotency WHERE idempotency_key = $1`
	err = r.db.QueryRowContext(ctx, query, key).Scan(&out.IdempotencyKey, &out.UserID, &out.RequestHash, &requestBody,
		&paymentID, &out.ResponseStatus, &responseData, &out.CreatedAt, &out.ExpiresAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		err = nil
		return nil, pkgerrors.ErrIdempotencyNotFound
	}
	if err != nil {
		slog.Error("failed to get idempotency record", "method", "GetByKey", "idempotency_key", key, "error", err)
		return nil, fmt.Errorf("failed to get idempotency record: %w", err)
	}
	if paymentID.Valid {
		out.PaymentID = &paymentID.UUID
	}
	if len(requestBody) > 0 {
		out.RequestBody = json.RawMessage(requestBody)
	}
	if len(responseData) > 0 {
		out.ResponseData = json.RawMessage(responseData)
	}
	return &out, nil
}

func (r *PostgresIdempotencyRepository) Insert(ctx context.Context, a *models.PurchaseAttempt) (err error) {
	ctx, span, done := track(ctx, "idempotency-repository", "InsertIdempotency")
	defer done(&err)
	span.SetAttributes(attribute.String("idempotency_key", a.IdempotencyKey))

	var requestBody any
	if len(a.RequestBody) > 0 {
		requestBody = []byte(a.RequestBody)
	}
	var paymentID any
	if a.PaymentID != nil {
		paymentID = *a.PaymentID
	}

	query := `INSERT INTO payment_idempotency (idempotency_key, user_id, request_hash, request_body, payment_id,
			response_status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`
	err = r.db.QueryRowContext(ctx, query, a.IdempotencyKey, a.UserID, a.RequestHash, requestBody, paymentID,
		a.ResponseStatus, a.ExpiresAt).Scan(&a.CreatedAt)
	if err != nil {
		if code, _, _ := pqCode(err); code == pqUniqueViolation {
			slog.Warn("idempotency key already stored", "method", "Insert", "idempotency_key", a.IdempotencyKey)
			err = pkgerrors.ErrDuplicateKey
			return err
		}
		slog.Error("failed to store idempotency record", "method", "Insert", "idempotency_key", a.IdempotencyKey, "error", err)
		return fmt.Errorf("failed to store idempotency record: %w", err)
	}
	return nil
}

// Finalize only touches pending rows, so a terminal record never changes.
func (r *PostgresIdempotencyRepository) Finalize(ctx context.Context, key string, paymentID *uuid.UUID, status models.AttemptStatus, response json.RawMessage) (updated bool, err error) {
	ctx, span, done := track(ctx, "idempotency-repository", "FinalizeIdempotency")
	defer done(&err)
	span.SetAttributes(attribute.String("idempotency_key", key), attribute.String("status", string(status)))

	var pid any
	if paymentID != nil {
		pid = *paymentID
	}
	var resp any
	if len(response) > 0 {
		resp = []byte(response)
	}

	query := `UPDATE payment_idempotency
		SET response_status = $2, payment_id = COALESCE($3, payment_id), response_data = $4
		WHERE idempotency_key = $1 AND response_status = 'pending'`
	res, err := r.db.ExecContext(ctx, query, key, status, pid, resp)
	if err != nil {
		slog.Error("failed to finalize idempotency record", "method", "Finalize", "idempotency_key", key, "error", err)
		return false, fmt.Errorf("failed to finalize idempotency record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

func (r *PostgresIdempotencyRepository) DeleteExpired(ctx context.Context, before time.Time) (n int64, err error) {
	ctx, _, done := track(ctx, "idempotency-repository", "DeleteExpiredIdempotency")
	defer done(&err)

	res, err := r.db.ExecContext(ctx, `DELETE FROM payment_idempotency WHERE expires_at < $1`, before)
	if err != nil {
		slog.Error("failed to delete expired idempotency records", "method", "DeleteExpired", "error", err)
		return 0, fmt.Errorf("failed to delete expired idempotency records: %w", err)
	}
	n, err = res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	slog.Info("expired idempotency records deleted", "method", "DeleteExpired", "count", n)
	return n, nil
}

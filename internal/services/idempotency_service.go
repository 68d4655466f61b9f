package service

import (
	"context"
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/honeynil/LeadMarketplace/internal/infrastructure/redis"
	"github.com/honeynil/LeadMarketplace/internal/models"
	"github.com/honeynil/LeadMarketplace/internal/repository"
	pkgerrors "github.com/honeynil/LeadMarketplace/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/crypto/blake2b"
)

const (
	DefaultIdempotencyTTL = 24 * time.Hour
	// Rows are purged only after they have been expired for this long.
	idempotencyRetention = 24 * time.Hour
	generatedKeyPrefix   = "purchase_"
)

type IdempotencyService interface {
	// CheckIdempotency returns the stored attempt for key or nil. The body is
	// hashed for audit only; the key alone identifies the request.
	CheckIdempotency(ctx context.Context, key string, userID uuid.UUID, body any) (*models.PurchaseAttempt, error)
	StoreIdempotency(ctx context.Context, key string, userID uuid.UUID, body any, paymentID *uuid.UUID, status models.AttemptStatus) (*models.PurchaseAttempt, error)
	UpdateIdempotencyResult(ctx context.Context, key string, paymentID *uuid.UUID, status models.AttemptStatus, responseData any) error
	GenerateKey() string
	CleanupExpired(ctx context.Context) (int64, error)
}

type idempotencyService struct {
	repo  repository.IdempotencyRepository
	cache redis.RedisClient
	ttl   time.Duration
	now   func() time.Time
}

// NewIdempotencyService builds the guard. cache may be nil.
func NewIdempotencyService(repo repository.IdempotencyRepository, cache redis.RedisClient, ttl time.Duration) *idempotencyService {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &idempotencyService{repo: repo, cache: cache, ttl: ttl, now: time.Now}
}

func cacheKey(key string) string {
	return fmt.Sprintf("idempotency:%s", key)
}

// RequestHash fingerprints a request body with BLAKE2b-256.
func RequestHash(body []byte) string {
	sum := blake2b.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func (s *idempotencyService) GenerateKey() string {
	return generatedKeyPrefix + uuid.NewString()
}

func (s *idempotencyService) CheckIdempotency(ctx context.Context, key string, userID uuid.UUID, body any) (*models.PurchaseAttempt, error) {
	tracer := otel.Tracer("idempotency-service")
	ctx, span := tracer.Start(ctx, "CheckIdempotency")
	defer span.End()
	span.SetAttributes(attribute.String("idempotency_key", key))

	if attempt := s.fromCache(ctx, key); attempt != nil {
		span.SetAttributes(attribute.Bool("cache_hit", true))
		return attempt, nil
	}

	attempt, err := s.repo.GetByKey(ctx, key)
	if stderrors.Is(err, pkgerrors.ErrIdempotencyNotFound) {
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "idempotency lookup failed")
		slog.Error("failed to check idempotency", "idempotency_key", key, "error", err)
		return nil, err
	}

	if raw, err := json.Marshal(body); err == nil && attempt.RequestHash != RequestHash(raw) {
		slog.Warn("idempotency key reused with a different request body",
			"idempotency_key", key,
			"user_id", userID,
			"original_user_id", attempt.UserID)
	}

	if attempt.ResponseStatus == models.AttemptCompleted {
		s.toCache(ctx, attempt)
	}
	return attempt, nil
}

func (s *idempotencyService) StoreIdempotency(ctx context.Context, key string, userID uuid.UUID, body any, paymentID *uuid.UUID, status models.AttemptStatus) (*models.PurchaseAttempt, error) {
	tracer := otel.Tracer("idempotency-service")
	ctx, span := tracer.Start(ctx, "StoreIdempotency")
	defer span.End()

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}
	now := s.now()
	attempt := &models.PurchaseAttempt{
		IdempotencyKey: key,
		UserID:         userID,
		RequestHash:    RequestHash(raw),
		RequestBody:    raw,
		PaymentID:      paymentID,
		ResponseStatus: status,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.ttl),
	}
	if err := s.repo.Insert(ctx, attempt); err != nil {
		if !stderrors.Is(err, pkgerrors.ErrDuplicateKey) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "idempotency insert failed")
			slog.Error("failed to store idempotency record", "idempotency_key", key, "error", err)
		}
		return nil, err
	}
	return attempt, nil
}

// UpdateIdempotencyResult finalizes a pending record. Calling it on a record
// that is already terminal changes nothing.
func (s *idempotencyService) UpdateIdempotencyResult(ctx context.Context, key string, paymentID *uuid.UUID, status models.AttemptStatus, responseData any) error {
	tracer := otel.Tracer("idempotency-service")
	ctx, span := tracer.Start(ctx, "UpdateIdempotencyResult")
	defer span.End()
	span.SetAttributes(attribute.String("idempotency_key", key), attribute.String("status", string(status)))

	if !status.IsTerminal() {
		return fmt.Errorf("idempotency result must be terminal, got %q", status)
	}
	raw, err := json.Marshal(responseData)
	if err != nil {
		return fmt.Errorf("failed to encode response data: %w", err)
	}

	updated, err := s.repo.Finalize(ctx, key, paymentID, status, raw)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "idempotency finalize failed")
		slog.Error("failed to update idempotency result", "idempotency_key", key, "status", status, "error", err)
		return err
	}
	if !updated {
		slog.Info("idempotency record already final", "idempotency_key", key, "status", status)
	}
	return nil
}

func (s *idempotencyService) CleanupExpired(ctx context.Context) (int64, error) {
	tracer := otel.Tracer("idempotency-service")
	ctx, span := tracer.Start(ctx, "CleanupExpired")
	defer span.End()

	n, err := s.repo.DeleteExpired(ctx, s.now().Add(-idempotencyRetention))
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	return n, nil
}

func (s *idempotencyService) fromCache(ctx context.Context, key string) *models.PurchaseAttempt {
	if s.cache == nil {
		return nil
	}
	val, err := s.cache.Get(ctx, cacheKey(key))
	if err != nil {
		if !stderrors.Is(err, redis.ErrKeyNotFound) {
			slog.Warn("idempotency cache read failed", "idempotency_key", key, "error", err)
		}
		return nil
	}
	var attempt models.PurchaseAttempt
	if err := json.Unmarshal([]byte(val), &attempt); err != nil {
		slog.Warn("corrupt idempotency cache entry", "idempotency_key", key, "error", err)
		return nil
	}
	return &attempt
}

// Only completed attempts are cached; they can no longer change.
func (s *idempotencyService) toCache(ctx context.Context, attempt *models.PurchaseAttempt) {
	if s.cache == nil {
		return
	}
	ttl := attempt.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return
	}
	raw, err := json.Marshal(attempt)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, cacheKey(attempt.IdempotencyKey), string(raw), ttl); err != nil {
		slog.Warn("failed to cache idempotency record", "idempotency_key", attempt.IdempotencyKey, "error", err)
	}
}

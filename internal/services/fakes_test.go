package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/honeynil/LeadMarketplace/internal/models"
	"github.com/honeynil/LeadMarketplace/internal/repository"
	pkgerrors "github.com/honeynil/LeadMarketplace/pkg/errors"
	"github.com/shopspring/decimal"
)

// memStore is an in-memory stand-in for the Postgres schema. It enforces the
// same unique constraints and the lead status trigger.
type memStore struct {
	mu          sync.Mutex
	leads       map[uuid.UUID]models.Lead
	purchases   map[uuid.UUID]models.Purchase
	payments    map[uuid.UUID]models.Payment
	paymentKeys map[string]uuid.UUID
	attempts    map[string]models.PurchaseAttempt
	logs        []models.FraudCheckLog
	writes      int
}

func newMemStore() *memStore {
	return &memStore{
		leads:       map[uuid.UUID]models.Lead{},
		purchases:   map[uuid.UUID]models.Purchase{},
		payments:    map[uuid.UUID]models.Payment{},
		paymentKeys: map[string]uuid.UUID{},
		attempts:    map[string]models.PurchaseAttempt{},
	}
}

func (m *memStore) addLead(price string, status models.LeadStatus, expiresAt time.Time) models.Lead {
	m.mu.Lock()
	defer m.mu.Unlock()
	lead := models.Lead{ID: uuid.New(), Title: "lead", Price: decimal.RequireFromString(price), Status: status, ExpiresAt: expiresAt}
	m.leads[lead.ID] = lead
	return lead
}

func (m *memStore) addPayment(userID uuid.UUID, amount string, status models.PaymentStatus, createdAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := models.Payment{
		ID:             uuid.New(),
		UserID:         userID,
		LeadID:         uuid.New(),
		Amount:         decimal.RequireFromString(amount),
		Status:         status,
		IdempotencyKey: uuid.NewString(),
		CreatedAt:      createdAt,
	}
	m.payments[p.ID] = p
	m.paymentKeys[p.IdempotencyKey] = p.ID
}

func (m *memStore) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *memStore) paymentsOf(userID uuid.UUID) []models.Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Payment
	for _, p := range m.payments {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out
}

func (m *memStore) logsOf(userID uuid.UUID) []models.FraudCheckLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.FraudCheckLog
	for _, l := range m.logs {
		if l.UserID == userID {
			out = append(out, l)
		}
	}
	return out
}

type memLeads struct{ *memStore }

func (r memLeads) GetByID(_ context.Context, id uuid.UUID) (*models.Lead, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.leads[id]
	if !ok {
		return nil, pkgerrors.ErrLeadNotFound
	}
	return &l, nil
}

type memPurchases struct{ *memStore }

func (r memPurchases) Create(_ context.Context, p *models.Purchase) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.purchases[p.LeadID]; taken {
		return pkgerrors.ErrLeadAlreadyPurchased
	}
	lead, ok := r.leads[p.LeadID]
	if !ok || lead.Status != models.LeadAvailable {
		return pkgerrors.ErrLeadUnavailable
	}
	p.ID = uuid.New()
	p.PurchasedAt = time.Now()
	r.purchases[p.LeadID] = *p
	lead.Status = models.LeadPurchased
	r.leads[p.LeadID] = lead
	r.writes++
	return nil
}

func (r memPurchases) GetByLeadID(_ context.Context, leadID uuid.UUID) (*models.Purchase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.purchases[leadID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

type memPayments struct{ *memStore }

func (r memPayments) Create(_ context.Context, p *models.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.paymentKeys[p.IdempotencyKey]; dup {
		return pkgerrors.ErrDuplicateKey
	}
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	r.payments[p.ID] = *p
	r.paymentKeys[p.IdempotencyKey] = p.ID
	r.writes++
	return nil
}

func (r memPayments) GetByID(_ context.Context, id uuid.UUID) (*models.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok {
		return nil, pkgerrors.ErrPaymentNotFound
	}
	return &p, nil
}

func (r memPayments) GetByIdempotencyKey(ctx context.Context, key string) (*models.Payment, error) {
	r.mu.Lock()
	id, ok := r.paymentKeys[key]
	r.mu.Unlock()
	if !ok {
		return nil, pkgerrors.ErrPaymentNotFound
	}
	return r.GetByID(ctx, id)
}

func (r memPayments) ListByUser(_ context.Context, userID uuid.UUID, limit, offset int) ([]models.Payment, error) {
	all := r.paymentsOf(userID)
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (r memPayments) UpdateStatus(_ context.Context, upd repository.PaymentStatusUpdate, from []models.PaymentStatus) (*models.Payment, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[upd.PaymentID]
	if !ok {
		return nil, false, pkgerrors.ErrPaymentNotFound
	}
	allowed := false
	for _, s := range from {
		if p.Status == s {
			allowed = true
		}
	}
	if !allowed {
		return &p, false, nil
	}
	now := time.Now()
	p.Status = upd.Status
	p.UpdatedAt = now
	if upd.PaymentIntentID != nil {
		p.PaymentIntentID = upd.PaymentIntentID
	}
	if len(upd.GatewayResponse) > 0 {
		p.GatewayResponse = upd.GatewayResponse
	}
	if upd.FailureReason != nil {
		p.FailureReason = upd.FailureReason
	}
	if upd.FailureCode != nil {
		p.FailureCode = upd.FailureCode
	}
	switch upd.Status {
	case models.PaymentCompleted:
		p.CompletedAt = &now
	case models.PaymentFailed:
		p.FailedAt = &now
	}
	r.payments[p.ID] = p
	r.writes++
	return &p, true, nil
}

type memIdempotency struct{ *memStore }

func (r memIdempotency) GetByKey(_ context.Context, key string) (*models.PurchaseAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.attempts[key]
	if !ok {
		return nil, pkgerrors.ErrIdempotencyNotFound
	}
	return &a, nil
}

func (r memIdempotency) Insert(_ context.Context, a *models.PurchaseAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.attempts[a.IdempotencyKey]; dup {
		return pkgerrors.ErrDuplicateKey
	}
	r.attempts[a.IdempotencyKey] = *a
	r.writes++
	return nil
}

func (r memIdempotency) Finalize(_ context.Context, key string, paymentID *uuid.UUID, status models.AttemptStatus, response json.RawMessage) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.attempts[key]
	if !ok || a.ResponseStatus != models.AttemptPending {
		return false, nil
	}
	a.ResponseStatus = status
	if paymentID != nil {
		a.PaymentID = paymentID
	}
	a.ResponseData = response
	r.attempts[key] = a
	r.writes++
	return true, nil
}

func (r memIdempotency) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for k, a := range r.attempts {
		if a.ExpiresAt.Before(before) {
			delete(r.attempts, k)
			n++
		}
	}
	return n, nil
}

type memFraud struct{ *memStore }

func counted(s models.PaymentStatus) bool {
	return s == models.PaymentPending || s == models.PaymentProcessing || s == models.PaymentCompleted
}

func (r memFraud) CountUserPayments(_ context.Context, userID uuid.UUID, since time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, p := range r.payments {
		if p.UserID == userID && !p.CreatedAt.Before(since) && counted(p.Status) {
			n++
		}
	}
	return n, nil
}

func (r memFraud) SumUserPayments(_ context.Context, userID uuid.UUID, since time.Time) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := decimal.Zero
	for _, p := range r.payments {
		if p.UserID == userID && !p.CreatedAt.Before(since) && counted(p.Status) {
			total = total.Add(p.Amount)
		}
	}
	return total, nil
}

func (r memFraud) distinct(match func(models.Payment) bool, since time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	users := map[uuid.UUID]struct{}{}
	for _, p := range r.payments {
		if match(p) && !p.CreatedAt.Before(since) {
			users[p.UserID] = struct{}{}
		}
	}
	return len(users)
}

func (r memFraud) CountDistinctUsersByIP(_ context.Context, ip string, since time.Time) (int, error) {
	return r.distinct(func(p models.Payment) bool { return p.IPAddress == ip }, since), nil
}

func (r memFraud) CountDistinctUsersByDevice(_ context.Context, fp string, since time.Time) (int, error) {
	return r.distinct(func(p models.Payment) bool { return p.DeviceFingerprint == fp }, since), nil
}

func (r memFraud) InsertLogs(_ context.Context, logs []models.FraudCheckLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, logs...)
	r.writes++
	return nil
}

func (r memFraud) AttachPayment(_ context.Context, runID, paymentID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.logs {
		if r.logs[i].RunID == runID && r.logs[i].PaymentID == nil {
			id := paymentID
			r.logs[i].PaymentID = &id
		}
	}
	r.writes++
	return nil
}

type gatewayFunc func(ctx context.Context, paymentID uuid.UUID, method models.PaymentMethod, payload map[string]any) (*models.GatewayResult, error)

func (f gatewayFunc) Charge(ctx context.Context, paymentID uuid.UUID, method models.PaymentMethod, payload map[string]any) (*models.GatewayResult, error) {
	return f(ctx, paymentID, method, payload)
}

func approvingGateway() gatewayFunc {
	return func(_ context.Context, paymentID uuid.UUID, _ models.PaymentMethod, _ map[string]any) (*models.GatewayResult, error) {
		return &models.GatewayResult{Success: true, PaymentIntentID: "pi_" + paymentID.String()[:8], Raw: json.RawMessage(`{"ok":true}`)}, nil
	}
}

// flakyIdempotency fails the first inserts and finalizes it is told to.
type flakyIdempotency struct {
	memIdempotency
	mu            sync.Mutex
	failInserts   int
	failFinalizes int
	errInjected   error
}

func (r *flakyIdempotency) Insert(ctx context.Context, a *models.PurchaseAttempt) error {
	r.mu.Lock()
	if r.failInserts > 0 {
		r.failInserts--
		r.mu.Unlock()
		return r.errInjected
	}
	r.mu.Unlock()
	return r.memIdempotency.Insert(ctx, a)
}

func (r *flakyIdempotency) Finalize(ctx context.Context, key string, paymentID *uuid.UUID, status models.AttemptStatus, response json.RawMessage) (bool, error) {
	r.mu.Lock()
	if r.failFinalizes > 0 {
		r.failFinalizes--
		r.mu.Unlock()
		return false, r.errInjected
	}
	r.mu.Unlock()
	return r.memIdempotency.Finalize(ctx, key, paymentID, status, response)
}

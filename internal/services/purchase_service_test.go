package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/honeynil/LeadMarketplace/internal/infrastructure/gateway"
	kafkamocks "github.com/honeynil/LeadMarketplace/internal/infrastructure/kafka/mocks"
	"github.com/honeynil/LeadMarketplace/internal/models"
	pkgerrors "github.com/honeynil/LeadMarketplace/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPipeline(gw gateway.Gateway) (*purchaseService, *memStore) {
	store := newMemStore()
	svc := NewPurchaseService(
		memLeads{store},
		memPurchases{store},
		NewIdempotencyService(memIdempotency{store}, nil, DefaultIdempotencyTTL),
		NewRiskService(memFraud{store}, DefaultRiskConfig()),
		NewPaymentService(memPayments{store}, gw),
		nil,
		PurchaseConfig{Currency: "USD", Method: models.MethodCard},
	)
	return svc, store
}

func purchaseRequest(leadID, agentID uuid.UUID, key string) models.PurchaseRequest {
	return models.PurchaseRequest{
		LeadID:         leadID,
		AgentID:        agentID,
		IdempotencyKey: key,
		TermsAccepted:  true,
		IPAddress:      "203.0.113.7",
		UserAgent:      "agent-portal/2.1",
	}
}

func TestPurchase_HappyPath(t *testing.T) {
	svc, store := newPipeline(approvingGateway())
	ctx := context.Background()
	lead := store.addLead("500", models.LeadAvailable, time.Now().Add(72*time.Hour))
	agent := uuid.New()

	result, err := svc.Purchase(ctx, purchaseRequest(lead.ID, agent, "key-happy"))
	require.NoError(t, err)
	require.NotNil(t, result.Purchase)
	require.NotNil(t, result.Payment)

	assert.Empty(t, result.Warning)
	assert.Equal(t, lead.ID, result.Purchase.LeadID)
	assert.Equal(t, agent, result.Purchase.AgentID)
	assert.True(t, result.Purchase.PurchasePrice.Equal(lead.Price))
	assert.Equal(t, models.PaymentCompleted, result.Payment.Status)
	require.NotNil(t, result.Payment.PaymentIntentID)
	assert.NotNil(t, result.Payment.CompletedAt)
	assert.Equal(t, "key-happy", result.Payment.IdempotencyKey)
	assert.Less(t, result.Payment.Metadata.RiskScore, 70)

	stored, err := memLeads{store}.GetByID(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LeadPurchased, stored.Status)

	attempt, err := memIdempotency{store}.GetByKey(ctx, "key-happy")
	require.NoError(t, err)
	assert.Equal(t, models.AttemptCompleted, attempt.ResponseStatus)
	var cached models.PurchaseResult
	require.NoError(t, json.Unmarshal(attempt.ResponseData, &cached))
	assert.Equal(t, result.Purchase.ID, cached.Purchase.ID)
	assert.Equal(t, result.Payment.ID, cached.Payment.ID)

	logs := store.logsOf(agent)
	require.Len(t, logs, 3, "velocity, amount and origin run; device is skipped without a fingerprint")
	for _, l := range logs {
		assert.Equal(t, models.VerdictPassed, l.CheckResult, string(l.CheckType))
		require.NotNil(t, l.PaymentID)
		assert.Equal(t, result.Payment.ID, *l.PaymentID)
	}
}

func TestPurchase_VelocityBlock(t *testing.T) {
	svc, store := newPipeline(approvingGateway())
	ctx := context.Background()
	agent := uuid.New()
	for i := 0; i < 5; i++ {
		store.addPayment(agent, "100", models.PaymentCompleted, time.Now().Add(-time.Duration(i+1)*5*time.Minute))
	}
	lead := store.addLead("500", models.LeadAvailable, time.Now().Add(time.Hour))

	_, err := svc.Purchase(ctx, purchaseRequest(lead.ID, agent, "key-velocity"))
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeForbidden, pkgerrors.CodeOf(err))
	assert.ErrorIs(t, err, pkgerrors.ErrFraudCheckFailed)

	purchase, err := memPurchases{store}.GetByLeadID(ctx, lead.ID)
	require.NoError(t, err)
	assert.Nil(t, purchase)

	payments := store.paymentsOf(agent)
	assert.Len(t, payments, 5, "no payment row is created for a rejected attempt")
	for _, p := range payments {
		assert.True(t, p.Status.IsTerminal())
	}

	var velocity *models.FraudCheckLog
	for _, l := range store.logsOf(agent) {
		if l.CheckType == models.CheckVelocity {
			l := l
			velocity = &l
		}
	}
	require.NotNil(t, velocity)
	assert.Equal(t, models.VerdictFailed, velocity.CheckResult)
	assert.Equal(t, 100, velocity.RiskScore)

	attempt, err := memIdempotency{store}.GetByKey(ctx, "key-velocity")
	require.NoError(t, err)
	assert.Equal(t, models.AttemptFailed, attempt.ResponseStatus)

	// The rejection is terminal for the key.
	writes := store.writeCount()
	_, err = svc.Purchase(ctx, purchaseRequest(lead.ID, agent, "key-velocity"))
	assert.Equal(t, pkgerrors.CodeForbidden, pkgerrors.CodeOf(err))
	assert.Equal(t, writes, store.writeCount())
}

// staleLeads serves the listing as it was before any purchase landed, which
// is what a request racing the winner observes.
type staleLeads struct{ snapshot models.Lead }

func (r staleLeads) GetByID(_ context.Context, id uuid.UUID) (*models.Lead, error) {
	if id != r.snapshot.ID {
		return nil, pkgerrors.ErrLeadNotFound
	}
	l := r.snapshot
	return &l, nil
}

func TestPurchase_DoubleBooking(t *testing.T) {
	svc, store := newPipeline(approvingGateway())
	ctx := context.Background()
	lead := store.addLead("750", models.LeadAvailable, time.Now().Add(time.Hour))
	a1, a3 := uuid.New(), uuid.New()

	_, err := svc.Purchase(ctx, purchaseRequest(lead.ID, a1, "key-a1"))
	require.NoError(t, err)

	// A3 read the lead while it was still available.
	svc.leads = staleLeads{snapshot: lead}
	_, err = svc.Purchase(ctx, purchaseRequest(lead.ID, a3, "key-a3"))
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeConflict, pkgerrors.CodeOf(err))
	assert.ErrorIs(t, err, pkgerrors.ErrLeadAlreadyPurchased)
	assert.Len(t, store.purchases, 1)

	loser := store.paymentsOf(a3)
	require.Len(t, loser, 1)
	assert.Equal(t, models.PaymentFailed, loser[0].Status)
	require.NotNil(t, loser[0].FailureReason)
	assert.Equal(t, "already purchased", *loser[0].FailureReason)
	assert.Nil(t, loser[0].PaymentIntentID, "the loser is never charged")

	attempt, err := memIdempotency{store}.GetByKey(ctx, "key-a3")
	require.NoError(t, err)
	assert.Equal(t, models.AttemptFailed, attempt.ResponseStatus)

	// Replaying the losing key returns the cached conflict without writes.
	writes := store.writeCount()
	_, err = svc.Purchase(ctx, purchaseRequest(lead.ID, a3, "key-a3"))
	assert.Equal(t, pkgerrors.CodeConflict, pkgerrors.CodeOf(err))
	assert.Equal(t, writes, store.writeCount())
}

func TestPurchase_SoldLeadIsConflict(t *testing.T) {
	svc, store := newPipeline(approvingGateway())
	ctx := context.Background()
	lead := store.addLead("750", models.LeadAvailable, time.Now().Add(time.Hour))

	_, err := svc.Purchase(ctx, purchaseRequest(lead.ID, uuid.New(), "key-first"))
	require.NoError(t, err)

	late := uuid.New()
	_, err = svc.Purchase(ctx, purchaseRequest(lead.ID, late, "key-late"))
	assert.Equal(t, pkgerrors.CodeConflict, pkgerrors.CodeOf(err))
	assert.Empty(t, store.paymentsOf(late), "a lead already sold is refused before any payment")
}

func TestPurchase_AtMostOneBuyer(t *testing.T) {
	svc, store := newPipeline(approvingGateway())
	lead := store.addLead("300", models.LeadAvailable, time.Now().Add(time.Hour))

	const buyers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
		others    []error
	)
	start := make(chan struct{})
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			req := purchaseRequest(lead.ID, uuid.New(), fmt.Sprintf("key-race-%d", i))
			req.IPAddress = fmt.Sprintf("198.51.100.%d", i)
			_, err := svc.Purchase(context.Background(), req)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case pkgerrors.CodeOf(err) == pkgerrors.CodeConflict:
				conflicts++
			default:
				others = append(others, err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Empty(t, others)
	assert.Equal(t, 1, successes)
	assert.Equal(t, buyers-1, conflicts)
	assert.Len(t, store.purchases, 1)

	// Losers that raced past the lead check hold a failed payment; the
	// winner's is the only one that settled.
	completed := 0
	for _, p := range store.payments {
		switch p.Status {
		case models.PaymentCompleted:
			completed++
		case models.PaymentFailed:
		default:
			t.Errorf("payment %s left in status %s", p.ID, p.Status)
		}
	}
	assert.Equal(t, 1, completed)
}

func TestPurchase_IdempotentReplay(t *testing.T) {
	svc, store := newPipeline(approvingGateway())
	ctx := context.Background()
	lead := store.addLead("500", models.LeadAvailable, time.Now().Add(time.Hour))
	agent := uuid.New()

	first, err := svc.Purchase(ctx, purchaseRequest(lead.ID, agent, "key-replay"))
	require.NoError(t, err)
	assert.False(t, first.Replayed)
	writes := store.writeCount()

	// The key alone identifies the request, even with a different lead.
	second, err := svc.Purchase(ctx, purchaseRequest(uuid.New(), agent, "key-replay"))
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, writes, store.writeCount())

	firstJSON, err := json.Marshal(first)
	require.NoError(t, err)
	secondJSON, err := json.Marshal(second)
	require.NoError(t, err)
	assert.JSONEq(t, string(firstJSON), string(secondJSON))
}

func TestPurchase_ReplayStillPending(t *testing.T) {
	svc, store := newPipeline(approvingGateway())
	ctx := context.Background()
	agent := uuid.New()
	require.NoError(t, memIdempotency{store}.Insert(ctx, &models.PurchaseAttempt{
		IdempotencyKey: "key-pending",
		UserID:         agent,
		ResponseStatus: models.AttemptPending,
		ExpiresAt:      time.Now().Add(time.Hour),
	}))

	_, err := svc.Purchase(ctx, purchaseRequest(uuid.New(), agent, "key-pending"))
	assert.Equal(t, pkgerrors.CodeConflict, pkgerrors.CodeOf(err))
	assert.ErrorIs(t, err, pkgerrors.ErrRequestInProgress)
}

func TestPurchase_KeyOwnedByAnotherAgent(t *testing.T) {
	svc, store := newPipeline(approvingGateway())
	ctx := context.Background()
	lead := store.addLead("500", models.LeadAvailable, time.Now().Add(time.Hour))

	_, err := svc.Purchase(ctx, purchaseRequest(lead.ID, uuid.New(), "key-shared"))
	require.NoError(t, err)

	_, err = svc.Purchase(ctx, purchaseRequest(lead.ID, uuid.New(), "key-shared"))
	assert.Equal(t, pkgerrors.CodeConflict, pkgerrors.CodeOf(err))
}

func TestPurchase_NoGatewayLeavesPaymentPending(t *testing.T) {
	svc, store := newPipeline(nil)
	ctx := context.Background()
	lead := store.addLead("500", models.LeadAvailable, time.Now().Add(time.Hour))

	result, err := svc.Purchase(ctx, purchaseRequest(lead.ID, uuid.New(), "key-nogw"))
	require.NoError(t, err)
	assert.Equal(t, warningNoGateway, result.Warning)
	assert.Equal(t, models.PaymentPending, result.Payment.Status)
	require.NotNil(t, result.Payment.FailureReason)
	assert.NotNil(t, result.Purchase)

	attempt, err := memIdempotency{store}.GetByKey(ctx, "key-nogw")
	require.NoError(t, err)
	assert.Equal(t, models.AttemptCompleted, attempt.ResponseStatus)
}

func TestPurchase_ManualSettlementGateway(t *testing.T) {
	svc, store := newPipeline(gateway.NewManualSettlement())
	lead := store.addLead("500", models.LeadAvailable, time.Now().Add(time.Hour))

	result, err := svc.Purchase(context.Background(), purchaseRequest(lead.ID, uuid.New(), "key-manual"))
	require.NoError(t, err)
	assert.Equal(t, warningAwaitingSettlement, result.Warning)
	assert.Equal(t, models.PaymentPending, result.Payment.Status)
}

func TestPurchase_GatewayErrorKeepsTransfer(t *testing.T) {
	failing := gatewayFunc(func(context.Context, uuid.UUID, models.PaymentMethod, map[string]any) (*models.GatewayResult, error) {
		return nil, errors.New("card declined by issuer")
	})
	svc, store := newPipeline(failing)
	ctx := context.Background()
	lead := store.addLead("500", models.LeadAvailable, time.Now().Add(time.Hour))
	agent := uuid.New()

	_, err := svc.Purchase(ctx, purchaseRequest(lead.ID, agent, "key-gwfail"))
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeInternal, pkgerrors.CodeOf(err))

	payments := store.paymentsOf(agent)
	require.Len(t, payments, 1)
	assert.Equal(t, models.PaymentFailed, payments[0].Status)
	require.NotNil(t, payments[0].FailureCode)
	assert.Equal(t, failureGateway, *payments[0].FailureCode)

	purchase, err := memPurchases{store}.GetByLeadID(ctx, lead.ID)
	require.NoError(t, err)
	assert.NotNil(t, purchase, "ownership transfer is not rolled back")

	attempt, err := memIdempotency{store}.GetByKey(ctx, "key-gwfail")
	require.NoError(t, err)
	assert.Equal(t, models.AttemptFailed, attempt.ResponseStatus)
}

func newFlakyPipeline(idem *flakyIdempotency, store *memStore) *purchaseService {
	return NewPurchaseService(
		memLeads{store},
		memPurchases{store},
		NewIdempotencyService(idem, nil, DefaultIdempotencyTTL),
		NewRiskService(memFraud{store}, DefaultRiskConfig()),
		NewPaymentService(memPayments{store}, approvingGateway()),
		nil,
		PurchaseConfig{Currency: "USD", Method: models.MethodCard},
	)
}

func TestPurchase_LostRecordDoesNotStickKey(t *testing.T) {
	ctx := context.Background()
	agent := uuid.New()

	t.Run("record written on abort", func(t *testing.T) {
		store := newMemStore()
		idem := &flakyIdempotency{memIdempotency: memIdempotency{store}, failInserts: 1, errInjected: errors.New("connection reset")}
		svc := newFlakyPipeline(idem, store)
		lead := store.addLead("500", models.LeadAvailable, time.Now().Add(time.Hour))

		_, err := svc.Purchase(ctx, purchaseRequest(lead.ID, agent, "key-lost"))
		assert.Equal(t, pkgerrors.CodeInternal, pkgerrors.CodeOf(err))

		attempt, err := idem.GetByKey(ctx, "key-lost")
		require.NoError(t, err)
		assert.Equal(t, models.AttemptFailed, attempt.ResponseStatus)

		logs, writes := len(store.logsOf(agent)), store.writeCount()
		for i := 0; i < 3; i++ {
			_, err = svc.Purchase(ctx, purchaseRequest(lead.ID, agent, "key-lost"))
			assert.Equal(t, pkgerrors.CodeInternal, pkgerrors.CodeOf(err))
		}
		assert.Len(t, store.logsOf(agent), logs, "fraud checks are not re-run")
		assert.Equal(t, writes, store.writeCount())
	})

	t.Run("record never written", func(t *testing.T) {
		store := newMemStore()
		idem := &flakyIdempotency{memIdempotency: memIdempotency{store}, failInserts: 2, errInjected: errors.New("connection reset")}
		svc := newFlakyPipeline(idem, store)
		lead := store.addLead("500", models.LeadAvailable, time.Now().Add(time.Hour))

		_, err := svc.Purchase(ctx, purchaseRequest(lead.ID, agent, "key-lost"))
		assert.Equal(t, pkgerrors.CodeInternal, pkgerrors.CodeOf(err))
		_, err = idem.GetByKey(ctx, "key-lost")
		require.ErrorIs(t, err, pkgerrors.ErrIdempotencyNotFound)
		logs := len(store.logsOf(agent))

		// The payment made under the key settles the retry.
		_, err = svc.Purchase(ctx, purchaseRequest(lead.ID, agent, "key-lost"))
		assert.Equal(t, pkgerrors.CodeInternal, pkgerrors.CodeOf(err))
		assert.NotErrorIs(t, err, pkgerrors.ErrRequestInProgress)
		assert.Len(t, store.logsOf(agent), logs, "fraud checks are not re-run")

		attempt, err := idem.GetByKey(ctx, "key-lost")
		require.NoError(t, err)
		assert.Equal(t, models.AttemptFailed, attempt.ResponseStatus)

		writes := store.writeCount()
		_, err = svc.Purchase(ctx, purchaseRequest(lead.ID, agent, "key-lost"))
		assert.Equal(t, pkgerrors.CodeInternal, pkgerrors.CodeOf(err))
		assert.Equal(t, writes, store.writeCount())
	})

	t.Run("final result never recorded", func(t *testing.T) {
		store := newMemStore()
		idem := &flakyIdempotency{memIdempotency: memIdempotency{store}, failFinalizes: 1, errInjected: errors.New("connection reset")}
		svc := newFlakyPipeline(idem, store)
		lead := store.addLead("500", models.LeadAvailable, time.Now().Add(time.Hour))

		first, err := svc.Purchase(ctx, purchaseRequest(lead.ID, agent, "key-unfinished"))
		require.NoError(t, err)
		attempt, err := idem.GetByKey(ctx, "key-unfinished")
		require.NoError(t, err)
		require.Equal(t, models.AttemptPending, attempt.ResponseStatus)
		logs := len(store.logsOf(agent))

		second, err := svc.Purchase(ctx, purchaseRequest(lead.ID, agent, "key-unfinished"))
		require.NoError(t, err)
		assert.True(t, second.Replayed)
		assert.Equal(t, first.Purchase.ID, second.Purchase.ID)
		assert.Equal(t, first.Payment.ID, second.Payment.ID)
		assert.Equal(t, models.PaymentCompleted, second.Payment.Status)
		assert.Len(t, store.logsOf(agent), logs)

		attempt, err = idem.GetByKey(ctx, "key-unfinished")
		require.NoError(t, err)
		assert.Equal(t, models.AttemptCompleted, attempt.ResponseStatus)
	})
}

func TestPurchase_SameKeyInFlight(t *testing.T) {
	svc, store := newPipeline(approvingGateway())
	ctx := context.Background()
	agent := uuid.New()
	lead := store.addLead("500", models.LeadAvailable, time.Now().Add(time.Hour))

	// A payment exists under the key but the first attempt has not reached
	// its idempotency record yet.
	err := memPayments{store}.Create(ctx, &models.Payment{
		UserID:         agent,
		LeadID:         lead.ID,
		Amount:         lead.Price,
		Status:         models.PaymentPending,
		IdempotencyKey: "key-inflight",
	})
	require.NoError(t, err)

	_, err = svc.Purchase(ctx, purchaseRequest(lead.ID, agent, "key-inflight"))
	assert.ErrorIs(t, err, pkgerrors.ErrRequestInProgress)
	assert.Empty(t, store.logsOf(agent))

	_, err = svc.Purchase(ctx, purchaseRequest(lead.ID, uuid.New(), "key-inflight"))
	assert.Equal(t, pkgerrors.CodeConflict, pkgerrors.CodeOf(err))
}

func TestPurchase_RequestValidation(t *testing.T) {
	svc, store := newPipeline(approvingGateway())
	ctx := context.Background()
	agent := uuid.New()
	available := store.addLead("500", models.LeadAvailable, time.Now().Add(time.Hour))
	pastExpiry := store.addLead("500", models.LeadAvailable, time.Now().Add(-time.Minute))
	expired := store.addLead("500", models.LeadExpired, time.Now().Add(-time.Hour))
	withdrawn := store.addLead("500", models.LeadWithdrawn, time.Now().Add(time.Hour))

	noTerms := purchaseRequest(available.ID, agent, "key-terms")
	noTerms.TermsAccepted = false

	cases := []struct {
		name string
		req  models.PurchaseRequest
		code pkgerrors.Code
	}{
		{"MissingLead", purchaseRequest(uuid.Nil, agent, "k1"), pkgerrors.CodeBadRequest},
		{"MissingAgent", purchaseRequest(available.ID, uuid.Nil, "k2"), pkgerrors.CodeBadRequest},
		{"TermsNotAccepted", noTerms, pkgerrors.CodeForbidden},
		{"UnknownLead", purchaseRequest(uuid.New(), agent, "k3"), pkgerrors.CodeNotFound},
		{"Withdrawn", purchaseRequest(withdrawn.ID, agent, "k4"), pkgerrors.CodeNotFound},
		{"ExpiredStatus", purchaseRequest(expired.ID, agent, "k5"), pkgerrors.CodeGone},
		{"PastExpiry", purchaseRequest(pastExpiry.ID, agent, "k6"), pkgerrors.CodeGone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Purchase(ctx, tc.req)
			require.Error(t, err)
			assert.Equal(t, tc.code, pkgerrors.CodeOf(err))
		})
	}
	assert.Empty(t, store.paymentsOf(agent), "no payment before the lead and risk checks pass")
}

func TestPurchase_GeneratesKeyWhenMissing(t *testing.T) {
	svc, store := newPipeline(approvingGateway())
	lead := store.addLead("500", models.LeadAvailable, time.Now().Add(time.Hour))

	result, err := svc.Purchase(context.Background(), purchaseRequest(lead.ID, uuid.New(), ""))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(result.Payment.IdempotencyKey, generatedKeyPrefix))
}

func TestPurchase_PublishesOutcomeEvent(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	producer := kafkamocks.NewMockKafkaProducer(ctrl)

	store := newMemStore()
	svc := NewPurchaseService(
		memLeads{store},
		memPurchases{store},
		NewIdempotencyService(memIdempotency{store}, nil, 0),
		NewRiskService(memFraud{store}, DefaultRiskConfig()),
		NewPaymentService(memPayments{store}, approvingGateway()),
		producer,
		PurchaseConfig{EventsTopic: "lead-purchases"},
	)
	lead := store.addLead("500", models.LeadAvailable, time.Now().Add(time.Hour))

	producer.EXPECT().
		Send(gomock.Any(), "lead-purchases", lead.ID.String(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _, _ string, value []byte) error {
			var event models.PurchaseEvent
			require.NoError(t, json.Unmarshal(value, &event))
			assert.Equal(t, "purchase.completed", event.EventType)
			assert.Equal(t, string(models.PaymentCompleted), event.PaymentStatus)
			return nil
		})

	_, err := svc.Purchase(context.Background(), purchaseRequest(lead.ID, uuid.New(), "key-event"))
	require.NoError(t, err)
}

func TestPurchase_PublishFailureDoesNotFailPurchase(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	producer := kafkamocks.NewMockKafkaProducer(ctrl)

	store := newMemStore()
	svc := NewPurchaseService(
		memLeads{store},
		memPurchases{store},
		NewIdempotencyService(memIdempotency{store}, nil, 0),
		NewRiskService(memFraud{store}, DefaultRiskConfig()),
		NewPaymentService(memPayments{store}, approvingGateway()),
		producer,
		PurchaseConfig{EventsTopic: "lead-purchases"},
	)
	lead := store.addLead("500", models.LeadAvailable, time.Now().Add(time.Hour))
	producer.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("broker down"))

	_, err := svc.Purchase(context.Background(), purchaseRequest(lead.ID, uuid.New(), "key-event-fail"))
	assert.NoError(t, err)
}

func TestMapError(t *testing.T) {
	cases := []struct {
		err  error
		code pkgerrors.Code
	}{
		{pkgerrors.ErrMissingIdentifiers, pkgerrors.CodeBadRequest},
		{pkgerrors.ErrIdentityMismatch, pkgerrors.CodeUnauthorized},
		{pkgerrors.ErrTermsNotAccepted, pkgerrors.CodeForbidden},
		{pkgerrors.ErrFraudCheckFailed, pkgerrors.CodeForbidden},
		{fmt.Errorf("get lead: %w", pkgerrors.ErrLeadNotFound), pkgerrors.CodeNotFound},
		{pkgerrors.ErrLeadUnavailable, pkgerrors.CodeNotFound},
		{pkgerrors.ErrLeadExpired, pkgerrors.CodeGone},
		{pkgerrors.ErrLeadAlreadyPurchased, pkgerrors.CodeConflict},
		{pkgerrors.ErrRequestInProgress, pkgerrors.CodeConflict},
		{errors.New("connection refused"), pkgerrors.CodeInternal},
		{pkgerrors.New(pkgerrors.CodeGone, "cached"), pkgerrors.CodeGone},
	}
	for _, tc := range cases {
		mapped := MapError(tc.err)
		assert.Equal(t, tc.code, mapped.Code(), tc.err.Error())
		assert.ErrorIs(t, mapped, tc.err)
	}
	assert.Nil(t, MapError(nil))
}

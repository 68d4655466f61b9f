package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/honeynil/LeadMarketplace/internal/infrastructure/observability"
	"github.com/honeynil/LeadMarketplace/internal/models"
	"github.com/honeynil/LeadMarketplace/internal/repository"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

// RiskConfig holds the thresholds of the fraud checks. Zero fields in an
// override keep the default value.
type RiskConfig struct {
	MaxPaymentsPerHour   int
	MaxPaymentsPerDay    int
	MaxTransactionAmount decimal.Decimal
	MaxDailyAmount       decimal.Decimal
	SuspiciousAmount     decimal.Decimal
	IPFailUsers          int
	IPFlagUsers          int
	DeviceFailUsers      int
	DeviceFlagUsers      int
	FailScore            int
}

func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		MaxPaymentsPerHour:   5,
		MaxPaymentsPerDay:    20,
		MaxTransactionAmount: decimal.NewFromInt(10000),
		MaxDailyAmount:       decimal.NewFromInt(50000),
		SuspiciousAmount:     decimal.NewFromInt(5000),
		IPFailUsers:          10,
		IPFlagUsers:          5,
		DeviceFailUsers:      5,
		DeviceFlagUsers:      3,
		FailScore:            70,
	}
}

// Merge returns c with every non-zero field of o applied on top.
func (c RiskConfig) Merge(o RiskConfig) RiskConfig {
	pickInt := func(base, over int) int {
		if over != 0 {
			return over
		}
		return base
	}
	pickDec := func(base, over decimal.Decimal) decimal.Decimal {
		if !over.IsZero() {
			return over
		}
		return base
	}
	return RiskConfig{
		MaxPaymentsPerHour:   pickInt(c.MaxPaymentsPerHour, o.MaxPaymentsPerHour),
		MaxPaymentsPerDay:    pickInt(c.MaxPaymentsPerDay, o.MaxPaymentsPerDay),
		MaxTransactionAmount: pickDec(c.MaxTransactionAmount, o.MaxTransactionAmount),
		MaxDailyAmount:       pickDec(c.MaxDailyAmount, o.MaxDailyAmount),
		SuspiciousAmount:     pickDec(c.SuspiciousAmount, o.SuspiciousAmount),
		IPFailUsers:          pickInt(c.IPFailUsers, o.IPFailUsers),
		IPFlagUsers:          pickInt(c.IPFlagUsers, o.IPFlagUsers),
		DeviceFailUsers:      pickInt(c.DeviceFailUsers, o.DeviceFailUsers),
		DeviceFlagUsers:      pickInt(c.DeviceFlagUsers, o.DeviceFlagUsers),
		FailScore:            pickInt(c.FailScore, o.FailScore),
	}
}

type RiskService interface {
	PerformFraudChecks(ctx context.Context, in models.FraudCheckInput) (*models.FraudAssessment, error)
	// AttachPayment links the logs of one assessment to the payment it allowed.
	AttachPayment(ctx context.Context, logID, paymentID uuid.UUID) error
}

type riskService struct {
	repo repository.FraudRepository
	cfg  RiskConfig
	now  func() time.Time
}

func NewRiskService(repo repository.FraudRepository, cfg RiskConfig) *riskService {
	return &riskService{repo: repo, cfg: cfg, now: time.Now}
}

func (s *riskService) PerformFraudChecks(ctx context.Context, in models.FraudCheckInput) (*models.FraudAssessment, error) {
	tracer := otel.Tracer("risk-service")
	ctx, span := tracer.Start(ctx, "PerformFraudChecks")
	defer span.End()
	span.SetAttributes(attribute.String("user_id", in.UserID.String()), attribute.String("amount", in.Amount.String()))

	now := s.now()
	hourAgo, dayAgo := now.Add(-time.Hour), now.Add(-24*time.Hour)

	// Each check owns one slot; a nil slot is a check that did not run.
	results := make([]*models.FraudCheck, 4)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c, err := s.velocityCheck(gctx, in.UserID, hourAgo, dayAgo)
		results[0] = c
		return err
	})
	g.Go(func() error {
		c, err := s.amountCheck(gctx, in.UserID, in.Amount, dayAgo)
		results[1] = c
		return err
	})
	if in.IPAddress != "" {
		g.Go(func() error {
			c, err := s.reputationCheck(gctx, models.CheckOriginReputation, in.IPAddress, dayAgo)
			results[2] = c
			return err
		})
	}
	if in.DeviceFingerprint != "" {
		g.Go(func() error {
			c, err := s.reputationCheck(gctx, models.CheckDeviceFingerprint, in.DeviceFingerprint, dayAgo)
			results[3] = c
			return err
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fraud check failed to run")
		slog.Error("fraud checks aborted", "user_id", in.UserID, "error", err)
		return nil, fmt.Errorf("fraud checks: %w", err)
	}

	checks := make([]models.FraudCheck, 0, len(results))
	for _, c := range results {
		if c != nil {
			checks = append(checks, *c)
		}
	}
	passed, score := Aggregate(checks, s.cfg.FailScore)
	assessment := &models.FraudAssessment{
		Passed:    passed,
		RiskScore: score,
		Checks:    checks,
		LogID:     uuid.New(),
	}

	if err := s.repo.InsertLogs(ctx, buildFraudLogs(assessment, in)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fraud log persistence failed")
		slog.Error("failed to persist fraud checks", "user_id", in.UserID, "log_id", assessment.LogID, "error", err)
		return nil, fmt.Errorf("persist fraud checks: %w", err)
	}

	observability.RiskScores.Observe(float64(score))
	for _, c := range checks {
		observability.FraudCheckResults.WithLabelValues(string(c.CheckType), string(c.Result)).Inc()
	}
	span.SetAttributes(attribute.Int("risk_score", score), attribute.Bool("passed", passed))

	if passed {
		slog.Info("fraud checks passed", "user_id", in.UserID, "risk_score", score, "log_id", assessment.LogID)
	} else {
		slog.Warn("fraud checks rejected purchase",
			"user_id", in.UserID,
			"risk_score", score,
			"reason", assessment.FailedReason(),
			"log_id", assessment.LogID)
	}
	return assessment, nil
}

func (s *riskService) AttachPayment(ctx context.Context, logID, paymentID uuid.UUID) error {
	return s.repo.AttachPayment(ctx, logID, paymentID)
}

// Aggregate averages the scores of the executed checks. The result passes
// when the mean is below failScore and no single check failed.
func Aggregate(checks []models.FraudCheck, failScore int) (bool, int) {
	if len(checks) == 0 {
		return true, 0
	}
	total := 0
	vetoed := false
	for _, c := range checks {
		total += c.RiskScore
		if c.Result == models.VerdictFailed {
			vetoed = true
		}
	}
	score := int(math.Round(float64(total) / float64(len(checks))))
	if score > 100 {
		score = 100
	}
	return score < failScore && !vetoed, score
}

// countLadder grades count against threshold: at 100% failed/100, at 80%
// flagged/70, at 50% a passing 40.
func countLadder(count, threshold int) (models.Verdict, int) {
	switch {
	case threshold <= 0:
		return models.VerdictPassed, 0
	case count >= threshold:
		return models.VerdictFailed, 100
	case count*10 >= threshold*8:
		return models.VerdictFlagged, 70
	case count*2 >= threshold:
		return models.VerdictPassed, 40
	}
	return models.VerdictPassed, 0
}

func worse(v1 models.Verdict, s1 int, v2 models.Verdict, s2 int) (models.Verdict, int) {
	if v1.Worse(v2) == v1 && (v1 != v2 || s1 >= s2) {
		return v1, s1
	}
	return v2, s2
}

func (s *riskService) velocityCheck(ctx context.Context, userID uuid.UUID, hourAgo, dayAgo time.Time) (*models.FraudCheck, error) {
	hourly, err := s.repo.CountUserPayments(ctx, userID, hourAgo)
	if err != nil {
		return nil, err
	}
	daily, err := s.repo.CountUserPayments(ctx, userID, dayAgo)
	if err != nil {
		return nil, err
	}

	hv, hs := countLadder(hourly, s.cfg.MaxPaymentsPerHour)
	dv, ds := countLadder(daily, s.cfg.MaxPaymentsPerDay)
	verdict, score := worse(hv, hs, dv, ds)

	check := &models.FraudCheck{
		CheckType: models.CheckVelocity,
		Result:    verdict,
		RiskScore: score,
		Details: map[string]any{
			"payments_last_hour": hourly,
			"payments_last_day":  daily,
			"max_per_hour":       s.cfg.MaxPaymentsPerHour,
			"max_per_day":        s.cfg.MaxPaymentsPerDay,
		},
	}
	switch {
	case hv == models.VerdictFailed:
		check.Reason = fmt.Sprintf("too many purchases in the last hour (%d)", hourly)
	case dv == models.VerdictFailed:
		check.Reason = fmt.Sprintf("too many purchases in the last 24 hours (%d)", daily)
	case verdict == models.VerdictFlagged:
		check.Reason = "purchase frequency close to limit"
	}
	return check, nil
}

func (s *riskService) amountCheck(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, dayAgo time.Time) (*models.FraudCheck, error) {
	spent, err := s.repo.SumUserPayments(ctx, userID, dayAgo)
	if err != nil {
		return nil, err
	}
	total := spent.Add(amount)

	tv, ts := models.VerdictPassed, 0
	switch {
	case amount.GreaterThan(s.cfg.MaxTransactionAmount):
		tv, ts = models.VerdictFailed, 100
	case amount.GreaterThan(s.cfg.SuspiciousAmount):
		tv, ts = models.VerdictFlagged, 60
	}

	dv, ds := models.VerdictPassed, 0
	switch {
	case total.GreaterThan(s.cfg.MaxDailyAmount):
		dv, ds = models.VerdictFailed, 100
	case total.GreaterThan(s.cfg.MaxDailyAmount.Mul(decimal.NewFromFloat(0.8))):
		dv, ds = models.VerdictFlagged, 70
	case total.GreaterThan(s.cfg.MaxDailyAmount.Div(decimal.NewFromInt(2))):
		dv, ds = models.VerdictPassed, 40
	}
	verdict, score := worse(tv, ts, dv, ds)

	check := &models.FraudCheck{
		CheckType: models.CheckAmount,
		Result:    verdict,
		RiskScore: score,
		Details: map[string]any{
			"amount":          amount.StringFixed(2),
			"daily_total":     total.StringFixed(2),
			"max_transaction": s.cfg.MaxTransactionAmount.StringFixed(2),
			"max_daily":       s.cfg.MaxDailyAmount.StringFixed(2),
		},
	}
	switch {
	case tv == models.VerdictFailed:
		check.Reason = "transaction amount exceeds limit"
	case dv == models.VerdictFailed:
		check.Reason = "daily spending limit exceeded"
	case tv == models.VerdictFlagged:
		check.Reason = "unusually large transaction"
	case dv == models.VerdictFlagged:
		check.Reason = "daily spending close to limit"
	}
	return check, nil
}

func (s *riskService) reputationCheck(ctx context.Context, kind models.CheckType, value string, dayAgo time.Time) (*models.FraudCheck, error) {
	var (
		users          int
		err            error
		failAt, flagAt int
		failScore      int
		flagScore      int
		subject        string
	)
	if kind == models.CheckDeviceFingerprint {
		users, err = s.repo.CountDistinctUsersByDevice(ctx, value, dayAgo)
		failAt, flagAt, failScore, flagScore, subject = s.cfg.DeviceFailUsers, s.cfg.DeviceFlagUsers, 90, 50, "device"
	} else {
		users, err = s.repo.CountDistinctUsersByIP(ctx, value, dayAgo)
		failAt, flagAt, failScore, flagScore, subject = s.cfg.IPFailUsers, s.cfg.IPFlagUsers, 90, 60, "IP address"
	}
	if err != nil {
		return nil, err
	}

	check := &models.FraudCheck{
		CheckType: kind,
		Result:    models.VerdictPassed,
		Details:   map[string]any{"distinct_users": users},
	}
	switch {
	case users > failAt:
		check.Result, check.RiskScore = models.VerdictFailed, failScore
		check.Reason = fmt.Sprintf("%s shared by %d users in 24 hours", subject, users)
	case users > flagAt:
		check.Result, check.RiskScore = models.VerdictFlagged, flagScore
		check.Reason = fmt.Sprintf("%s shared by multiple users", subject)
	}
	return check, nil
}

func buildFraudLogs(a *models.FraudAssessment, in models.FraudCheckInput) []models.FraudCheckLog {
	logs := make([]models.FraudCheckLog, 0, len(a.Checks))
	for _, c := range a.Checks {
		details, err := json.Marshal(c.Details)
		if err != nil || c.Details == nil {
			details = []byte("{}")
		}
		logs = append(logs, models.FraudCheckLog{
			ID:                uuid.New(),
			RunID:             a.LogID,
			UserID:            in.UserID,
			IPAddress:         in.IPAddress,
			UserAgent:         in.UserAgent,
			DeviceFingerprint: in.DeviceFingerprint,
			CheckType:         c.CheckType,
			CheckResult:       c.Result,
			RiskScore:         c.RiskScore,
			Details:           details,
			Reason:            c.Reason,
		})
	}
	return logs
}

package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type CheckType string

const (
	CheckVelocity          CheckType = "velocity"
	CheckAmount            CheckType = "amount"
	CheckOriginReputation  CheckType = "ip_reputation"
	CheckDeviceFingerprint CheckType = "device_fingerprint"
)

type Verdict string

const (
	VerdictPassed  Verdict = "passed"
	VerdictFlagged Verdict = "flagged"
	VerdictFailed  Verdict = "failed"
)

// severity orders verdicts so the worse of two can be kept.
func (v Verdict) severity() int {
	switch v {
	case VerdictFailed:
		return 2
	case VerdictFlagged:
		return 1
	}
	return 0
}

// Worse returns the more severe of v and other.
func (v Verdict) Worse(other Verdict) Verdict {
	if other.severity() > v.severity() {
		return other
	}
	return v
}

type FraudCheck struct {
	CheckType CheckType      `json:"check_type"`
	Result    Verdict        `json:"result"`
	RiskScore int            `json:"risk_score"`
	Reason    string         `json:"reason,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

type FraudCheckInput struct {
	UserID            uuid.UUID
	Amount            decimal.Decimal
	IPAddress         string
	UserAgent         string
	DeviceFingerprint string
}

type FraudAssessment struct {
	Passed    bool         `json:"passed"`
	RiskScore int          `json:"risk_score"`
	Checks    []FraudCheck `json:"checks"`
	LogID     uuid.UUID    `json:"log_id"`
}

// FailedReason returns the reason of the first check that vetoed the purchase.
func (a *FraudAssessment) FailedReason() string {
	for _, c := range a.Checks {
		if c.Result == VerdictFailed && c.Reason != "" {
			return c.Reason
		}
	}
	for _, c := range a.Checks {
		if c.Result == VerdictFlagged && c.Reason != "" {
			return c.Reason
		}
	}
	return "risk score too high"
}

// FraudCheckLog is one append-only audit row per executed check.
type FraudCheckLog struct {
	ID                uuid.UUID
	RunID             uuid.UUID
	UserID            uuid.UUID
	PaymentID         *uuid.UUID
	IPAddress         string
	UserAgent         string
	DeviceFingerprint string
	CheckType         CheckType
	CheckResult       Verdict
	RiskScore         int
	Details           json.RawMessage
	Reason            string
	CreatedAt         time.Time
}

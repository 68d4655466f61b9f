package handler

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/honeynil/LeadMarketplace/internal/infrastructure/auth"
	"github.com/honeynil/LeadMarketplace/internal/infrastructure/observability"
	"github.com/honeynil/LeadMarketplace/internal/models"
	service "github.com/honeynil/LeadMarketplace/internal/services"
	pkgerrors "github.com/honeynil/LeadMarketplace/pkg/errors"
)

const (
	HeaderIdempotencyKey    = "Idempotency-Key"
	HeaderDeviceFingerprint = "X-Device-Fingerprint"
	HeaderReplayed          = "Idempotent-Replayed"
)

type Handler struct {
	purchases    service.PurchaseService
	payments     service.PaymentService
	validate     *validator.Validate
	exposeDetail bool
}

// NewHandler builds the HTTP layer. exposeDetail adds the internal error text
// to responses and is meant for development only.
func NewHandler(purchases service.PurchaseService, payments service.PaymentService, exposeDetail bool) *Handler {
	return &Handler{
		purchases:    purchases,
		payments:     payments,
		validate:     validator.New(),
		exposeDetail: exposeDetail,
	}
}

type errorResponse struct {
	Error  string `json:"error"`
	Code   string `json:"code"`
	Detail string `json:"detail,omitempty"`
}

type purchaseRequest struct {
	LeadID         string `json:"lead_id" validate:"required,uuid"`
	AgentID        string `json:"agent_id" validate:"omitempty,uuid"`
	IdempotencyKey string `json:"idempotency_key" validate:"omitempty,max=255"`
	TermsAccepted  bool   `json:"terms_accepted"`
}

func (h *Handler) RegisterProtectedRoutes(r *mux.Router) {
	r.HandleFunc("/marketplace/purchase", h.PurchaseLead).Methods(http.MethodPost)
	r.HandleFunc("/payments", h.ListPayments).Methods(http.MethodGet)
	r.HandleFunc("/payments/{id}", h.GetPayment).Methods(http.MethodGet)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	mapped := service.MapError(err)
	meta := pkgerrors.MetadataFor(mapped.Code())

	resp := errorResponse{Error: mapped.Message(), Code: string(mapped.Code())}
	if mapped.Code() == pkgerrors.CodeInternal || resp.Error == "" {
		resp.Error = meta.PublicMessage
	}
	if h.exposeDetail {
		resp.Detail = err.Error()
	}
	h.writeJSON(w, meta.HTTPStatus, resp)
}

func (h *Handler) PurchaseLead(w http.ResponseWriter, r *http.Request) {
	agentID, ok := auth.AgentIDFromContext(r.Context())
	if !ok {
		h.writeError(w, pkgerrors.New(pkgerrors.CodeUnauthorized, "agent not authenticated"))
		return
	}

	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, pkgerrors.Wrap(pkgerrors.CodeBadRequest, err, "malformed request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, pkgerrors.Wrap(pkgerrors.CodeBadRequest, err, "invalid request"))
		return
	}
	if req.AgentID != "" && req.AgentID != agentID.String() {
		observability.Logger(r.Context()).Warn("agent id in body does not match token", "body_agent_id", req.AgentID)
		h.writeError(w, pkgerrors.ErrIdentityMismatch)
		return
	}

	key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
	if key == "" {
		key = req.IdempotencyKey
	}

	result, err := h.purchases.Purchase(r.Context(), models.PurchaseRequest{
		LeadID:            uuid.MustParse(req.LeadID),
		AgentID:           agentID,
		IdempotencyKey:    key,
		TermsAccepted:     req.TermsAccepted,
		IPAddress:         clientIP(r),
		UserAgent:         r.UserAgent(),
		DeviceFingerprint: r.Header.Get(HeaderDeviceFingerprint),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		w.Header().Set(HeaderReplayed, "true")
		status = http.StatusOK
	}
	h.writeJSON(w, status, result)
}

func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	agentID, ok := auth.AgentIDFromContext(r.Context())
	if !ok {
		h.writeError(w, pkgerrors.New(pkgerrors.CodeUnauthorized, "agent not authenticated"))
		return
	}
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, pkgerrors.Wrap(pkgerrors.CodeBadRequest, err, "invalid payment id"))
		return
	}

	payment, err := h.payments.GetPayment(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	// Other agents' payments are reported as missing.
	if payment.UserID != agentID {
		h.writeError(w, pkgerrors.Wrap(pkgerrors.CodeNotFound, pkgerrors.ErrPaymentNotFound, "payment not found"))
		return
	}
	h.writeJSON(w, http.StatusOK, payment)
}

func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	agentID, ok := auth.AgentIDFromContext(r.Context())
	if !ok {
		h.writeError(w, pkgerrors.New(pkgerrors.CodeUnauthorized, "agent not authenticated"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	payments, err := h.payments.ListPaymentsByUser(r.Context(), agentID, limit, offset)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if payments == nil {
		payments = []models.Payment{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"payments": payments})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

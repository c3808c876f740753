package handler

import (
	"crypto/subtle"
	"errors"
	"log"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/studio/internal/ledger"
	"github.com/makeasinger/studio/internal/middleware"
	"github.com/makeasinger/studio/internal/model"
	"github.com/makeasinger/studio/pkg/response"
)

const (
	historyDefaultLimit = 50
	historyMaxLimit     = 200

	HeaderAdminToken = "X-Admin-Token"
)

type BillingHandler struct {
	ledger     *ledger.Ledger
	validator  *validator.Validate
	adminToken string
}

func NewBillingHandler(l *ledger.Ledger, v *validator.Validate, adminToken string) *BillingHandler {
	return &BillingHandler{
		ledger:     l,
		validator:  v,
		adminToken: adminToken,
	}
}

// Balance handles GET /api/billing/balance
func (h *BillingHandler) Balance(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)

	wallet, err := h.ledger.Balance(c.Context(), userID)
	if err != nil {
		return ledgerError(c, err)
	}

	return response.OK(c, model.BalanceResponse{
		UserID:  wallet.UserID,
		Balance: wallet.Balance,
	})
}

// History handles GET /api/billing/history?limit=
func (h *BillingHandler) History(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)

	limit := c.QueryInt("limit", historyDefaultLimit)
	if limit <= 0 || limit > historyMaxLimit {
		return response.ValidationError(c, "limit must be between 1 and 200", nil)
	}

	txs, err := h.ledger.History(c.Context(), userID, limit)
	if err != nil {
		return ledgerError(c, err)
	}
	if txs == nil {
		txs = []model.Transaction{}
	}

	return response.OK(c, model.HistoryResponse{History: txs})
}

// TopUp handles POST /api/billing/topup. It records a completed credit pack
// purchase and is restricted to holders of the admin token.
func (h *BillingHandler) TopUp(c *fiber.Ctx) error {
	if h.adminToken == "" {
		return response.Forbidden(c, "Top-up is disabled")
	}
	token := c.Get(HeaderAdminToken)
	if subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) != 1 {
		return response.Forbidden(c, "Invalid admin token")
	}

	var req model.TopUpRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	credits := ledger.CreditsForPurchase(req.AmountCents)
	meta := map[string]string{}
	if req.Reference != "" {
		meta[model.MetaReference] = req.Reference
	}

	if err := h.ledger.AddCredits(c.Context(), req.UserID, credits, model.ReasonPurchase, meta); err != nil {
		return ledgerError(c, err)
	}

	wallet, err := h.ledger.Balance(c.Context(), req.UserID)
	if err != nil {
		return ledgerError(c, err)
	}

	log.Printf("[Billing] Top-up of %d cents credited %d to %s", req.AmountCents, credits, req.UserID)

	return response.OK(c, model.TopUpResponse{
		UserID:  req.UserID,
		Credits: credits,
		Balance: wallet.Balance,
	})
}

// ledgerError maps ledger failures to the HTTP error envelope
func ledgerError(c *fiber.Ctx, err error) error {
	if ice, ok := ledger.IsInsufficientCredits(err); ok {
		return response.PaymentRequired(c, "Insufficient credits", fiber.Map{
			"available": ice.Available,
			"required":  ice.Required,
		})
	}

	switch {
	case errors.Is(err, ledger.ErrWalletNotFound):
		return response.WalletNotFound(c)
	case errors.Is(err, ledger.ErrLedgerUnavailable):
		log.Printf("[Billing] Ledger unavailable: %v", err)
		return response.ServiceUnavailable(c, "Billing is temporarily unavailable")
	case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, ledger.ErrInvalidReason):
		return response.ValidationError(c, err.Error(), nil)
	default:
		return response.ServiceError(c, err.Error())
	}
}

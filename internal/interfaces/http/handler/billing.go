package handler

import (
	"context"

	"github.com/erp/reconciler/internal/infrastructure/logger"
	"github.com/erp/reconciler/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CustomerSyncer re-syncs one account's provider subscriptions
type CustomerSyncer interface {
	SyncCustomerSubscriptions(ctx context.Context, accountID uuid.UUID) (string, error)
}

// BillingHandler exposes manual billing operations
type BillingHandler struct {
	BaseHandler
	syncer CustomerSyncer
}

// NewBillingHandler creates a new BillingHandler
func NewBillingHandler(syncer CustomerSyncer) *BillingHandler {
	return &BillingHandler{syncer: syncer}
}

// RegisterRoutes mounts the billing routes under rg
func (h *BillingHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/billing/subscriptions/sync", h.SyncSubscriptions)
}

// SyncSubscriptions handles POST /billing/subscriptions/sync
func (h *BillingHandler) SyncSubscriptions(c *gin.Context) {
	var req dto.SyncSubscriptionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "account_id must be a UUID")
		return
	}
	accountID := uuid.MustParse(req.AccountID)

	log := logger.GetGinLogger(c).With(zap.String("account_id", accountID.String()))
	stripeCustomerID, err := h.syncer.SyncCustomerSubscriptions(c.Request.Context(), accountID)
	if err != nil {
		log.Error("Manual subscription sync failed", zap.Error(err))
		h.HandleError(c, err)
		return
	}

	log.Info("Manual subscription sync completed", zap.String("stripe_customer_id", stripeCustomerID))
	h.Success(c, dto.SyncSubscriptionsResponse{
		AccountID:        accountID.String(),
		StripeCustomerID: stripeCustomerID,
	})
}

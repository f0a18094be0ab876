package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	appbilling "github.com/academy/backend/internal/application/billing"
	"github.com/academy/backend/internal/domain/billing"
	"github.com/academy/backend/internal/interfaces/http/dto"
	"github.com/academy/backend/internal/interfaces/http/middleware"
)

// BillingService is the staff-facing side of the reconciliation engine
//
// Every call is scoped to the caller's tenant; charges and bills of another
// tenant are reported as not found.
type BillingService interface {
	Send(ctx context.Context, tenantID, chargeID, actorID uuid.UUID) (*appbilling.OperationResult, error)
	Resend(ctx context.Context, tenantID, chargeID, actorID uuid.UUID) (*appbilling.OperationResult, error)
	Sync(ctx context.Context, tenantID, chargeID, actorID uuid.UUID) (*appbilling.OperationResult, error)
	Cancel(ctx context.Context, tenantID, chargeID, actorID uuid.UUID) (*appbilling.OperationResult, error)
	Destroy(ctx context.Context, tenantID, chargeID, actorID uuid.UUID) (*appbilling.OperationResult, error)
	Split(ctx context.Context, req appbilling.SplitRequest) (*appbilling.SplitResult, error)
	OfflineSettle(ctx context.Context, req appbilling.OfflineSettleRequest) (*appbilling.OfflineSettleResult, error)

	GetCharge(ctx context.Context, tenantID, chargeID uuid.UUID) (*appbilling.ChargeView, error)
	ListBills(ctx context.Context, tenantID, chargeID uuid.UUID) ([]*billing.Bill, error)
	ListEvents(ctx context.Context, tenantID, chargeID uuid.UUID) ([]*billing.Event, error)
	GetBill(ctx context.Context, tenantID uuid.UUID, ref string) (*billing.Bill, error)
	GatewayBalance(ctx context.Context) (*billing.Balance, error)
}

// BillingHandler handles staff billing endpoints
type BillingHandler struct {
	BaseHandler
	service BillingService
}

// NewBillingHandler creates a new BillingHandler
func NewBillingHandler(service BillingService) *BillingHandler {
	return &BillingHandler{service: service}
}

type chargeOperation func(ctx context.Context, tenantID, chargeID, actorID uuid.UUID) (*appbilling.OperationResult, error)

func (h *BillingHandler) runOperation(c *gin.Context, op chargeOperation) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	chargeID, ok := h.chargeID(c)
	if !ok {
		return
	}
	res, err := op(c.Request.Context(), tenantID, chargeID, middleware.GetActorID(c))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.ToOperationResponse(res))
}

// tenantID returns the caller's tenant or answers 401
func (h *BillingHandler) tenantID(c *gin.Context) (uuid.UUID, bool) {
	id := middleware.GetTenantID(c)
	if id == uuid.Nil {
		h.Error(c, dto.ErrCodeUnauthorized, "Token carries no tenant")
		return uuid.Nil, false
	}
	return id, true
}

func (h *BillingHandler) chargeID(c *gin.Context) (uuid.UUID, bool) {
	var req dto.IDRequest
	if err := c.ShouldBindUri(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return uuid.Nil, false
	}
	return uuid.MustParse(req.ID), true
}

// SendBill godoc
//
//	@Summary	Issue a bill for a charge
//	@Tags		billing
//	@Produce	json
//	@Param		id	path		string	true	"Charge ID"	format(uuid)
//	@Success	200	{object}	dto.Response{data=dto.OperationResponse}
//	@Failure	422	{object}	dto.Response{error=dto.ErrorInfo}
//	@Failure	502	{object}	dto.Response{error=dto.ErrorInfo}
//	@Failure	503	{object}	dto.Response{error=dto.ErrorInfo}
//	@Security	BearerAuth
//	@Router		/billing/charges/{id}/send [post]
func (h *BillingHandler) SendBill(c *gin.Context) {
	h.runOperation(c, h.service.Send)
}

// ResendBill godoc
//
//	@Summary	Re-deliver the current sent bill
//	@Tags		billing
//	@Param		id	path		string	true	"Charge ID"	format(uuid)
//	@Success	200	{object}	dto.Response{data=dto.OperationResponse}
//	@Security	BearerAuth
//	@Router		/billing/charges/{id}/resend [post]
func (h *BillingHandler) ResendBill(c *gin.Context) {
	h.runOperation(c, h.service.Resend)
}

// SyncBill godoc
//
//	@Summary	Poll the gateway for the current bill's status
//	@Tags		billing
//	@Param		id	path		string	true	"Charge ID"	format(uuid)
//	@Success	200	{object}	dto.Response{data=dto.OperationResponse}
//	@Security	BearerAuth
//	@Router		/billing/charges/{id}/sync [post]
func (h *BillingHandler) SyncBill(c *gin.Context) {
	h.runOperation(c, h.service.Sync)
}

// CancelBill godoc
//
//	@Summary	Cancel a paid bill
//	@Tags		billing
//	@Param		id	path		string	true	"Charge ID"	format(uuid)
//	@Success	200	{object}	dto.Response{data=dto.OperationResponse}
//	@Failure	422	{object}	dto.Response{error=dto.ErrorInfo}
//	@Security	BearerAuth
//	@Router		/billing/charges/{id}/cancel [post]
func (h *BillingHandler) CancelBill(c *gin.Context) {
	h.runOperation(c, h.service.Cancel)
}

// DestroyBill godoc
//
//	@Summary	Withdraw an unpaid bill
//	@Tags		billing
//	@Param		id	path		string	true	"Charge ID"	format(uuid)
//	@Success	200	{object}	dto.Response{data=dto.OperationResponse}
//	@Failure	422	{object}	dto.Response{error=dto.ErrorInfo}
//	@Security	BearerAuth
//	@Router		/billing/charges/{id}/destroy [post]
func (h *BillingHandler) DestroyBill(c *gin.Context) {
	h.runOperation(c, h.service.Destroy)
}

// SplitCharge godoc
//
//	@Summary	Split a charge into child charges
//	@Tags		billing
//	@Accept		json
//	@Param		id		path		string					true	"Charge ID"	format(uuid)
//	@Param		request	body		dto.SplitChargeRequest	true	"amounts or count"
//	@Success	200		{object}	dto.Response{data=dto.SplitResponse}
//	@Failure	409		{object}	dto.Response{error=dto.ErrorInfo}
//	@Security	BearerAuth
//	@Router		/billing/charges/{id}/split [post]
func (h *BillingHandler) SplitCharge(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	chargeID, ok := h.chargeID(c)
	if !ok {
		return
	}
	var req dto.SplitChargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	res, err := h.service.Split(c.Request.Context(), appbilling.SplitRequest{
		TenantID: tenantID,
		ChargeID: chargeID,
		Amounts:  req.Amounts,
		Count:    req.Count,
		ActorID:  middleware.GetActorID(c),
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.ToSplitResponse(res))
}

// SettleOffline godoc
//
//	@Summary	Mark charges as paid outside the gateway
//	@Tags		billing
//	@Accept		json
//	@Param		request	body		dto.OfflineSettleRequest	true	"charges to settle"
//	@Success	200		{object}	dto.Response{data=dto.OfflineSettleResponse}
//	@Failure	422		{object}	dto.Response{error=dto.ErrorInfo}
//	@Security	BearerAuth
//	@Router		/billing/offline-settlements [post]
func (h *BillingHandler) SettleOffline(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	var req dto.OfflineSettleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	ids := make([]uuid.UUID, len(req.ChargeIDs))
	for i, raw := range req.ChargeIDs {
		ids[i] = uuid.MustParse(raw) // validated by binding
	}

	res, err := h.service.OfflineSettle(c.Request.Context(), appbilling.OfflineSettleRequest{
		TenantID:  tenantID,
		ChargeIDs: ids,
		ActorID:   middleware.GetActorID(c),
		Note:      req.Note,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.ToOfflineSettleResponse(res))
}

// GetCharge godoc
//
//	@Summary	Get a charge with its current bill
//	@Tags		billing
//	@Param		id	path		string	true	"Charge ID"	format(uuid)
//	@Success	200	{object}	dto.Response{data=dto.ChargeDetailResponse}
//	@Failure	404	{object}	dto.Response{error=dto.ErrorInfo}
//	@Security	BearerAuth
//	@Router		/billing/charges/{id} [get]
func (h *BillingHandler) GetCharge(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	chargeID, ok := h.chargeID(c)
	if !ok {
		return
	}
	view, err := h.service.GetCharge(c.Request.Context(), tenantID, chargeID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.ToChargeDetailResponse(view))
}

// ListBills godoc
//
//	@Summary	List every bill issued for a charge
//	@Tags		billing
//	@Param		id	path		string	true	"Charge ID"	format(uuid)
//	@Success	200	{object}	dto.Response{data=[]dto.BillResponse}
//	@Security	BearerAuth
//	@Router		/billing/charges/{id}/bills [get]
func (h *BillingHandler) ListBills(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	chargeID, ok := h.chargeID(c)
	if !ok {
		return
	}
	bills, err := h.service.ListBills(c.Request.Context(), tenantID, chargeID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.ToBillResponses(bills))
}

// ListEvents godoc
//
//	@Summary	List the audit log of a charge
//	@Tags		billing
//	@Param		id	path		string	true	"Charge ID"	format(uuid)
//	@Success	200	{object}	dto.Response{data=[]dto.EventResponse}
//	@Security	BearerAuth
//	@Router		/billing/charges/{id}/events [get]
func (h *BillingHandler) ListEvents(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	chargeID, ok := h.chargeID(c)
	if !ok {
		return
	}
	events, err := h.service.ListEvents(c.Request.Context(), tenantID, chargeID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.ToEventResponses(events))
}

// GetBill godoc
//
//	@Summary	Get a bill by local ID or gateway bill ID
//	@Tags		billing
//	@Param		bill_id	path		string	true	"Bill ID or gateway bill ID"
//	@Success	200		{object}	dto.Response{data=dto.BillResponse}
//	@Failure	404		{object}	dto.Response{error=dto.ErrorInfo}
//	@Security	BearerAuth
//	@Router		/billing/bills/{bill_id} [get]
func (h *BillingHandler) GetBill(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	ref := c.Param("bill_id")
	if ref == "" {
		h.BadRequest(c, "bill_id is required")
		return
	}
	bill, err := h.service.GetBill(c.Request.Context(), tenantID, ref)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.ToBillResponse(bill))
}

// GetGatewayBalance godoc
//
//	@Summary	Remaining gateway point balance
//	@Tags		billing
//	@Success	200	{object}	dto.Response{data=dto.BalanceResponse}
//	@Failure	503	{object}	dto.Response{error=dto.ErrorInfo}
//	@Security	BearerAuth
//	@Router		/billing/gateway/balance [get]
func (h *BillingHandler) GetGatewayBalance(c *gin.Context) {
	balance, err := h.service.GatewayBalance(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.ToBalanceResponse(balance))
}

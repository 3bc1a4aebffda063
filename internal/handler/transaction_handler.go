package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Anjali24Singh/payment-gateway-sub004/internal/domain"
	"github.com/Anjali24Singh/payment-gateway-sub004/internal/dto"
	"github.com/Anjali24Singh/payment-gateway-sub004/internal/service"
	"github.com/Anjali24Singh/payment-gateway-sub004/pkg/middleware"
	"github.com/Anjali24Singh/payment-gateway-sub004/pkg/response"
)

// ReplayedHeader marks a response served from a stored idempotent result
const ReplayedHeader = "Idempotent-Replayed"

// TransactionHandler handles transaction HTTP endpoints
type TransactionHandler struct {
	orchestrator service.Orchestrator
}

// NewTransactionHandler creates a new TransactionHandler
func NewTransactionHandler(orchestrator service.Orchestrator) *TransactionHandler {
	return &TransactionHandler{orchestrator: orchestrator}
}

// RegisterRoutes mounts the transaction endpoints on a versioned group
func (h *TransactionHandler) RegisterRoutes(rg *gin.RouterGroup) {
	txns := rg.Group("/transactions")
	txns.POST("/purchase", h.Purchase)
	txns.POST("/authorize", h.Authorize)
	txns.GET("/:id", h.GetTransaction)
	txns.POST("/:id/capture", h.Capture)
	txns.POST("/:id/void", h.Void)
	txns.POST("/:id/refund", h.Refund)

	rg.GET("/customers/:id/transactions", h.ListCustomerTransactions)
}

// Purchase handles POST /transactions/purchase
func (h *TransactionHandler) Purchase(c *gin.Context) {
	intent, ok := bindIntent(c)
	if !ok {
		return
	}
	out, err := h.orchestrator.Purchase(c.Request.Context(), &domain.PurchaseRequest{
		RequestMeta:   requestMeta(c),
		PaymentIntent: intent,
	})
	respond(c, out, err, http.StatusCreated)
}

// Authorize handles POST /transactions/authorize
func (h *TransactionHandler) Authorize(c *gin.Context) {
	intent, ok := bindIntent(c)
	if !ok {
		return
	}
	out, err := h.orchestrator.Authorize(c.Request.Context(), &domain.AuthorizeRequest{
		RequestMeta:   requestMeta(c),
		PaymentIntent: intent,
	})
	respond(c, out, err, http.StatusCreated)
}

// Capture handles POST /transactions/:id/capture
// An empty body captures the full authorized amount
func (h *TransactionHandler) Capture(c *gin.Context) {
	var req dto.CaptureRequest
	if !bindOptional(c, &req) {
		return
	}
	out, err := h.orchestrator.Capture(c.Request.Context(), &domain.CaptureRequest{
		RequestMeta:   requestMeta(c),
		TransactionID: c.Param("id"),
		Amount:        req.Amount,
	})
	respond(c, out, err, http.StatusOK)
}

// Void handles POST /transactions/:id/void
func (h *TransactionHandler) Void(c *gin.Context) {
	out, err := h.orchestrator.Void(c.Request.Context(), &domain.VoidRequest{
		RequestMeta:   requestMeta(c),
		TransactionID: c.Param("id"),
	})
	respond(c, out, err, http.StatusOK)
}

// Refund handles POST /transactions/:id/refund
// An empty body refunds the remaining captured balance
func (h *TransactionHandler) Refund(c *gin.Context) {
	var req dto.RefundRequest
	if !bindOptional(c, &req) {
		return
	}
	out, err := h.orchestrator.Refund(c.Request.Context(), &domain.RefundRequest{
		RequestMeta:   requestMeta(c),
		TransactionID: c.Param("id"),
		Amount:        req.Amount,
		Reason:        req.Reason,
	})
	respond(c, out, err, http.StatusOK)
}

// GetTransaction handles GET /transactions/:id
func (h *TransactionHandler) GetTransaction(c *gin.Context) {
	txn, err := h.orchestrator.GetTransaction(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrTransactionNotFound) {
			response.NotFound(c, "transaction not found")
			return
		}
		response.InternalError(c, err)
		return
	}
	response.Success(c, dto.FromTransaction(txn), meta(c))
}

// ListCustomerTransactions handles GET /customers/:id/transactions
func (h *TransactionHandler) ListCustomerTransactions(c *gin.Context) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		response.BadRequest(c, "limit must be an integer")
		return
	}
	offset, err := queryInt(c, "offset")
	if err != nil {
		response.BadRequest(c, "offset must be an integer")
		return
	}

	txns, err := h.orchestrator.ListTransactions(c.Request.Context(), c.Param("id"), limit, offset)
	if err != nil {
		if pe, ok := domain.AsPaymentError(err); ok && pe.Code == domain.ErrorCodeValidation {
			response.BadRequest(c, pe.Message)
			return
		}
		response.InternalError(c, err)
		return
	}

	m := meta(c)
	m.Limit = limit
	m.Offset = offset
	response.Success(c, dto.FromTransactions(txns), m)
}

func bindIntent(c *gin.Context) (domain.PaymentIntent, bool) {
	var req dto.PaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return domain.PaymentIntent{}, false
	}
	intent, err := req.ToIntent()
	if err != nil {
		response.BadRequest(c, err.Error())
		return domain.PaymentIntent{}, false
	}
	return intent, true
}

func bindOptional(c *gin.Context, req any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(req); err != nil {
		response.BadRequest(c, err.Error())
		return false
	}
	return true
}

func requestMeta(c *gin.Context) domain.RequestMeta {
	return domain.RequestMeta{
		IdempotencyKey: middleware.GetIdempotencyKey(c),
		CorrelationID:  middleware.GetCorrelationID(c),
	}
}

func meta(c *gin.Context) *response.Meta {
	return &response.Meta{CorrelationID: middleware.GetCorrelationID(c)}
}

func queryInt(c *gin.Context, name string) (int, error) {
	v := c.Query(name)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

// respond writes an outcome with the status its error code maps to
func respond(c *gin.Context, out *domain.PaymentOutcome, err error, successStatus int) {
	if out == nil {
		out = domain.OutcomeFromError(err)
	}
	if out.Replayed {
		c.Header(ReplayedHeader, "true")
	}

	if out.Success {
		if out.Replayed {
			successStatus = http.StatusOK
		}
		c.JSON(successStatus, response.Response{Success: true, Data: out, Meta: meta(c)})
		return
	}

	response.Failure(c, statusFor(out.ErrorCode, err), out, &response.ErrorData{
		Code:      string(out.ErrorCode),
		Message:   out.ErrorMessage,
		Retryable: out.Retryable,
	}, meta(c))
}

// statusFor maps an outcome error code to an HTTP status
func statusFor(code domain.ErrorCode, err error) int {
	switch {
	case errors.Is(err, domain.ErrTransactionNotFound):
		return http.StatusNotFound
	case code == domain.ErrorCodeValidation:
		return http.StatusBadRequest
	case code == domain.ErrorCodeBusiness:
		return http.StatusConflict
	case code.IsGatewayDecline():
		return http.StatusPaymentRequired
	case code == domain.ErrorCodeUnknownOutcome:
		return http.StatusAccepted
	case code == domain.ErrorCodeNetwork, code == domain.ErrorCodeProcessing:
		return http.StatusBadGateway
	default:
		return http.StatusServiceUnavailable
	}
}

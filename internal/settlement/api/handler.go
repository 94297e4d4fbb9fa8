package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/xxz807/finscale/settlement/internal/platform/lock"
	"github.com/xxz807/finscale/settlement/internal/platform/server"
	"github.com/xxz807/finscale/settlement/internal/settlement/domain"
	"github.com/xxz807/finscale/settlement/internal/settlement/service"
)

type SettlementHandler struct {
	svc    *service.Orchestrator
	logger *zap.Logger
	now    func() time.Time
}

func NewSettlementHandler(svc *service.Orchestrator, logger *zap.Logger) *SettlementHandler {
	return &SettlementHandler{svc: svc, logger: logger, now: time.Now}
}

// RegisterRoutes 注册路由
func (h *SettlementHandler) RegisterRoutes(r *gin.RouterGroup) {
	drrs := r.Group("/drrs")
	{
		drrs.GET("", h.ListDRRs)
		drrs.POST("", h.CreateDRR)
		drrs.POST("/import", h.ImportDRRs)
		drrs.GET("/:id", h.GetDRR)
		drrs.PUT("/:id", h.UpdateDRR)
		drrs.DELETE("/:id", h.DeleteDRR)
		drrs.POST("/:id/pause", h.moveDRR(h.svc.PauseDRR))
		drrs.POST("/:id/resume", h.moveDRR(h.svc.ResumeDRR))
		drrs.POST("/:id/complete", h.moveDRR(h.svc.CompleteDRR))
		drrs.GET("/:id/convert", h.ConvertDRR)
	}

	validations := r.Group("/validations")
	{
		validations.POST("", h.SubmitValidation)
		validations.GET("/:id", h.GetValidation)
		validations.POST("/:id/adjust", h.AdjustValidation)
		validations.POST("/:id/approve", h.ApproveValidation)
		validations.POST("/:id/reject", h.RejectValidation)
	}

	invoices := r.Group("/invoices")
	{
		invoices.POST("", h.CreateManualInvoice)
		invoices.POST("/generate", h.GenerateInvoice)
		invoices.GET("/overdue", h.ListOverdueInvoices)
		invoices.GET("/:id", h.GetInvoice)
		invoices.POST("/:id/lines", h.AddInvoiceLine)
		invoices.PUT("/:id/lines/:lineID", h.UpdateInvoiceLine)
		invoices.DELETE("/:id/lines/:lineID", h.RemoveInvoiceLine)
		invoices.POST("/:id/approve", h.invoiceAction(h.svc.ApproveInvoice))
		invoices.POST("/:id/pay", h.invoiceAction(h.svc.MarkInvoicePaid))
	}

	r.GET("/currency-rates", h.ListRates)
	r.PUT("/currency-rates", h.UpsertRates)
}

// ==========================================
// DRR
// ==========================================

// CreateDRR 录入日收入记录
// POST /api/v1/drrs
func (h *SettlementHandler) CreateDRR(c *gin.Context) {
	var req DRRReq
	if !h.bind(c, &req) {
		return
	}
	in, err := req.toInput()
	if err != nil {
		h.fail(c, err)
		return
	}
	rec, err := h.svc.CreateDRR(c.Request.Context(), actor(c), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

// UpdateDRR PUT /api/v1/drrs/:id
func (h *SettlementHandler) UpdateDRR(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	var req DRRReq
	if !h.bind(c, &req) {
		return
	}
	in, err := req.toInput()
	if err != nil {
		h.fail(c, err)
		return
	}
	rec, err := h.svc.UpdateDRR(c.Request.Context(), actor(c), id, in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// DeleteDRR DELETE /api/v1/drrs/:id
func (h *SettlementHandler) DeleteDRR(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	if err := h.svc.DeleteDRR(c.Request.Context(), actor(c), id); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetDRR GET /api/v1/drrs/:id
func (h *SettlementHandler) GetDRR(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	rec, err := h.svc.GetDRR(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// ListDRRs GET /api/v1/drrs?status=&publisher_id=&month=&limit=&offset=
func (h *SettlementHandler) ListDRRs(c *gin.Context) {
	filter := domain.DRRFilter{
		Status: domain.DRRStatus(c.Query("status")),
		Month:  c.Query("month"),
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		h.fail(c, domain.InvalidInput("unknown status %q", filter.Status))
		return
	}
	if err := parseMonth(filter.Month); err != nil {
		h.fail(c, err)
		return
	}
	var err error
	if filter.PublisherID, err = queryUint(c, "publisher_id"); err != nil {
		h.fail(c, err)
		return
	}
	limit, err := queryUint(c, "limit")
	if err != nil {
		h.fail(c, err)
		return
	}
	offset, err := queryUint(c, "offset")
	if err != nil {
		h.fail(c, err)
		return
	}
	filter.Limit, filter.Offset = int(limit), int(offset)

	list, err := h.svc.ListDRRs(c.Request.Context(), filter)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": list, "count": len(list)})
}

// ImportDRRs 逐行导入，单行失败不影响其它行
// POST /api/v1/drrs/import
func (h *SettlementHandler) ImportDRRs(c *gin.Context) {
	var req ImportReq
	if !h.bind(c, &req) {
		return
	}

	results := make([]service.ImportResult, len(req.Rows))
	rows := make([]service.ImportRow, 0, len(req.Rows))
	index := make([]int, 0, len(req.Rows)) // service 行号 -> 请求行号
	for i, row := range req.Rows {
		in, err := row.toInput()
		if err != nil {
			results[i] = service.ImportResult{Row: i + 1, Action: "failed", Error: err.Error()}
			continue
		}
		rows = append(rows, service.ImportRow{ID: row.ID, DRRInput: in})
		index = append(index, i)
	}

	for j, res := range h.svc.ImportRows(c.Request.Context(), actor(c), rows) {
		res.Row = index[j] + 1
		results[index[j]] = res
	}

	failed := 0
	for _, res := range results {
		if res.Action == "failed" {
			failed++
		}
	}
	c.JSON(http.StatusOK, gin.H{"results": results, "failed": failed})
}

func (h *SettlementHandler) moveDRR(move func(ctx context.Context, actor string, id uint) (*domain.DailyRevenueRecord, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := h.pathID(c, "id")
		if !ok {
			return
		}
		rec, err := move(c.Request.Context(), actor(c), id)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, rec)
	}
}

// ConvertDRR 成本换算 (仅供参考)
// GET /api/v1/drrs/:id/convert?currency=USD
func (h *SettlementHandler) ConvertDRR(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	q, err := h.svc.ConvertAmount(c.Request.Context(), id, c.Query("currency"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

// ==========================================
// Validation
// ==========================================

// SubmitValidation POST /api/v1/validations
func (h *SettlementHandler) SubmitValidation(c *gin.Context) {
	var req SubmitValidationReq
	if !h.bind(c, &req) {
		return
	}
	v, err := h.svc.SubmitValidation(c.Request.Context(), actor(c), req.DRRID, req.Notes)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, v)
}

// GetValidation GET /api/v1/validations/:id
func (h *SettlementHandler) GetValidation(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	v, err := h.svc.GetValidation(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// AdjustValidation POST /api/v1/validations/:id/adjust
func (h *SettlementHandler) AdjustValidation(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	var req AdjustValidationReq
	if !h.bind(c, &req) {
		return
	}
	v, err := h.svc.AdjustValidationPayout(c.Request.Context(), actor(c), id, req.ApprovePayout, req.Notes)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// ApproveValidation POST /api/v1/validations/:id/approve
func (h *SettlementHandler) ApproveValidation(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	v, err := h.svc.ApproveValidation(c.Request.Context(), actor(c), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// RejectValidation POST /api/v1/validations/:id/reject
func (h *SettlementHandler) RejectValidation(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	var req RejectValidationReq
	if !h.bind(c, &req) {
		return
	}
	v, err := h.svc.RejectValidation(c.Request.Context(), actor(c), id, req.Reason)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// ==========================================
// Invoice
// ==========================================

// GenerateInvoice POST /api/v1/invoices/generate
func (h *SettlementHandler) GenerateInvoice(c *gin.Context) {
	var req GenerateInvoiceReq
	if !h.bind(c, &req) {
		return
	}
	details, err := req.toDetails()
	if err != nil {
		h.fail(c, err)
		return
	}
	inv, err := h.svc.GenerateInvoice(c.Request.Context(), actor(c), service.GenerateInvoiceRequest{
		ValidationID:   req.ValidationID,
		DRRID:          req.DRRID,
		PartyType:      domain.PartyType(req.PartyType),
		Currency:       req.Currency,
		TaxExempt:      req.TaxExempt,
		Lines:          toLineInputs(req.Lines),
		InvoiceDetails: details,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, newInvoiceResp(inv, h.now()))
}

// CreateManualInvoice POST /api/v1/invoices
func (h *SettlementHandler) CreateManualInvoice(c *gin.Context) {
	var req ManualInvoiceReq
	if !h.bind(c, &req) {
		return
	}
	details, err := req.toDetails()
	if err != nil {
		h.fail(c, err)
		return
	}
	inv, err := h.svc.CreateManualInvoice(c.Request.Context(), actor(c), service.ManualInvoiceRequest{
		PartyType:      domain.PartyType(req.PartyType),
		AdvertiserID:   req.AdvertiserID,
		PublisherID:    req.PublisherID,
		Currency:       req.Currency,
		HomeAmount:     req.Amount,
		TaxExempt:      req.TaxExempt,
		Lines:          toLineInputs(req.Lines),
		InvoiceDetails: details,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, newInvoiceResp(inv, h.now()))
}

// GetInvoice 票据渲染方读取
// GET /api/v1/invoices/:id
func (h *SettlementHandler) GetInvoice(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	inv, err := h.svc.GetInvoice(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newInvoiceResp(inv, h.now()))
}

// ListOverdueInvoices GET /api/v1/invoices/overdue
func (h *SettlementHandler) ListOverdueInvoices(c *gin.Context) {
	now := h.now()
	list, err := h.svc.ListOverdueInvoices(c.Request.Context(), now)
	if err != nil {
		h.fail(c, err)
		return
	}
	items := make([]InvoiceResp, 0, len(list))
	for i := range list {
		items = append(items, newInvoiceResp(&list[i], now))
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

// AddInvoiceLine POST /api/v1/invoices/:id/lines
func (h *SettlementHandler) AddInvoiceLine(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	var req LineReq
	if !h.bind(c, &req) {
		return
	}
	inv, err := h.svc.AddInvoiceLine(c.Request.Context(), actor(c), id, req.toInput())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newInvoiceResp(inv, h.now()))
}

// UpdateInvoiceLine PUT /api/v1/invoices/:id/lines/:lineID
func (h *SettlementHandler) UpdateInvoiceLine(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	lineID, ok := h.pathID(c, "lineID")
	if !ok {
		return
	}
	var req LineReq
	if !h.bind(c, &req) {
		return
	}
	inv, err := h.svc.UpdateInvoiceLine(c.Request.Context(), actor(c), id, lineID, req.toInput())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newInvoiceResp(inv, h.now()))
}

// RemoveInvoiceLine DELETE /api/v1/invoices/:id/lines/:lineID
func (h *SettlementHandler) RemoveInvoiceLine(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	lineID, ok := h.pathID(c, "lineID")
	if !ok {
		return
	}
	inv, err := h.svc.RemoveInvoiceLine(c.Request.Context(), actor(c), id, lineID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newInvoiceResp(inv, h.now()))
}

func (h *SettlementHandler) invoiceAction(act func(ctx context.Context, actor string, id uint) (*domain.Invoice, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := h.pathID(c, "id")
		if !ok {
			return
		}
		inv, err := act(c.Request.Context(), actor(c), id)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, newInvoiceResp(inv, h.now()))
	}
}

// ==========================================
// Currency rates
// ==========================================

// ListRates GET /api/v1/currency-rates
func (h *SettlementHandler) ListRates(c *gin.Context) {
	rates, err := h.svc.ListRates(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": rates, "count": len(rates)})
}

// UpsertRates PUT /api/v1/currency-rates
func (h *SettlementHandler) UpsertRates(c *gin.Context) {
	var req UpsertRatesReq
	if !h.bind(c, &req) {
		return
	}
	rates := make([]domain.CurrencyRate, 0, len(req.Rates))
	for _, r := range req.Rates {
		rates = append(rates, domain.CurrencyRate{Currency: r.Currency, Rate: r.Rate})
	}
	if err := h.svc.UpsertRates(c.Request.Context(), actor(c), rates); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": rates, "count": len(rates)})
}

// ==========================================
// helpers
// ==========================================

func actor(c *gin.Context) string {
	return c.GetString(server.CtxActor)
}

// bind 参数绑定与基础校验
func (h *SettlementHandler) bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return false
	}
	return true
}

func (h *SettlementHandler) pathID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + name + ": " + c.Param(name)})
		return 0, false
	}
	return uint(id), true
}

func queryUint(c *gin.Context, name string) (uint, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, domain.InvalidInput("%s must be a non-negative integer", name)
	}
	return uint(v), nil
}

// fail 领域错误 -> HTTP 状态码
func (h *SettlementHandler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("settlement request failed",
			zap.String("path", c.FullPath()),
			zap.String("request_id", c.GetString(server.CtxRequestID)),
			zap.Error(err),
		)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrDuplicateSettlement),
		errors.Is(err, domain.ErrRecordInUse),
		errors.Is(err, domain.ErrConcurrentUpdate),
		errors.Is(err, lock.ErrNotObtained):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"tron-storefront/internal/amount"
	"tron-storefront/internal/metrics"
	"tron-storefront/internal/model"
	"tron-storefront/internal/notify"
	"tron-storefront/internal/repository"
	"tron-storefront/internal/service"
	"tron-storefront/pkg/logger"
)

// apiResponse 统一响应结构，支付通知除外（监控进程读取扁平结构）
type apiResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type orderResponse struct {
	ID             int64             `json:"id"`
	BuyerID        int64             `json:"buyer_id"`
	ProductID      int64             `json:"product_id"`
	Quantity       int               `json:"quantity"`
	UnitPrice      string            `json:"unit_price"`
	TotalAmount    string            `json:"total_amount"`
	PaymentAddress string            `json:"payment_address"`
	Status         model.OrderStatus `json:"status"`
	DownloadToken  string            `json:"download_token,omitempty"`
	CreatedAt      string            `json:"created_at"`
	ExpiresAt      string            `json:"expires_at"`
	PaidAt         string            `json:"paid_at,omitempty"`
	DeliveredAt    string            `json:"delivered_at,omitempty"`
}

type listData struct {
	Total    int64           `json:"total"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
	Orders   []orderResponse `json:"orders"`
}

// Pinger 依赖连通性检查，/health 使用
type Pinger interface {
	Ping(ctx context.Context) error
}

// HTTPHandler 后端 HTTP 接口
type HTTPHandler struct {
	orders        *service.OrderService
	products      *service.ProductService
	reconcile     *service.ReconcileService
	db            Pinger
	internalToken string
}

// NewHTTPHandler 创建 HTTP 处理器，db 为 nil 时 /health 不检查数据库
func NewHTTPHandler(orders *service.OrderService, products *service.ProductService, reconcile *service.ReconcileService, db Pinger, internalToken string) *HTTPHandler {
	return &HTTPHandler{
		orders:        orders,
		products:      products,
		reconcile:     reconcile,
		db:            db,
		internalToken: internalToken,
	}
}

// Router 注册全部路由
func (h *HTTPHandler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.health)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/internal", func(r chi.Router) {
		r.Use(h.requireInternalToken)
		r.Post("/payments/notify", h.notifyPayment)
		r.Get("/unmatched", h.listUnmatched)
		r.Post("/unmatched/{txHash}/resolve", h.resolveUnmatched)
		r.Post("/products", h.createProduct)
		r.Post("/products/{id}/restock", h.restockProduct)
		r.Get("/orders/{id}/payments", h.listPayments)
		r.Post("/orders/{id}/deliver", h.deliverOrder)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/products", h.listProducts)
		r.Get("/products/{id}", h.getProduct)
		r.Post("/orders", h.createOrder)
		r.Get("/orders", h.listOrders)
		r.Get("/orders/{id}", h.getOrder)
		r.Post("/orders/{id}/cancel", h.cancelOrder)
	})
	return r
}

// NewHTTPServer 创建 HTTP 服务
func NewHTTPServer(h *HTTPHandler, port int) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// health 存活检查，数据库不可用时返回 503
func (h *HTTPHandler) health(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			logger.Warn(r.Context(), "database ping failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requireInternalToken 校验内部接口令牌
func (h *HTTPHandler) requireInternalToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(notify.TokenHeader)
		if h.internalToken == "" || subtle.ConstantTimeCompare([]byte(got), []byte(h.internalToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid internal token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logger.WithTraceID(r.Context(), middleware.GetReqID(r.Context()))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r.WithContext(ctx))
		logger.Debug(ctx, "http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)))
	})
}

func (h *HTTPHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var in service.CreateOrderInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	order, err := h.orders.CreateOrder(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, toOrderResponse(*order))
}

func (h *HTTPHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	order, err := h.orders.GetOrder(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, toOrderResponse(*order))
}

func (h *HTTPHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		BuyerID int64 `json:"buyer_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	order, err := h.orders.CancelOrder(r.Context(), id, body.BuyerID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, toOrderResponse(*order))
}

func (h *HTTPHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	filter := repository.OrderFilter{PaymentAddress: query.Get("payment_address")}
	filter.Page, _ = strconv.Atoi(query.Get("page"))
	filter.PageSize, _ = strconv.Atoi(query.Get("page_size"))

	for key, dst := range map[string]*int64{"buyer_id": &filter.BuyerID, "product_id": &filter.ProductID} {
		if v := query.Get(key); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				writeError(w, http.StatusBadRequest, key+" must be an integer")
				return
			}
			*dst = n
		}
	}
	if v := query.Get("status"); v != "" {
		st, err := model.ParseOrderStatus(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Status = &st
	}

	orders, total, err := h.orders.ListOrders(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	filter.Normalize()

	list := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		list = append(list, toOrderResponse(o))
	}
	writeOK(w, http.StatusOK, listData{
		Total:    total,
		Page:     filter.Page,
		PageSize: filter.PageSize,
		Orders:   list,
	})
}

func (h *HTTPHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.ListProducts(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, products)
}

func (h *HTTPHandler) getProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	p, err := h.products.GetProduct(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, p)
}

func toOrderResponse(o model.Order) orderResponse {
	resp := orderResponse{
		ID:             o.ID,
		BuyerID:        o.BuyerID,
		ProductID:      o.ProductID,
		Quantity:       o.Quantity,
		UnitPrice:      o.UnitPrice.StringFixed(amount.BasePlaces),
		TotalAmount:    amount.Format(o.TotalAmount),
		PaymentAddress: o.PaymentAddress,
		Status:         o.Status,
		DownloadToken:  o.DownloadToken,
		CreatedAt:      o.CreatedAt.UTC().Format(time.RFC3339),
		ExpiresAt:      o.ExpiresAt.UTC().Format(time.RFC3339),
	}
	if o.PaidAt != nil {
		resp.PaidAt = o.PaidAt.UTC().Format(time.RFC3339)
	}
	if o.DeliveredAt != nil {
		resp.DeliveredAt = o.DeliveredAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

// httpStatus 将业务错误映射为 HTTP 状态码
func httpStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidArgument),
		errors.Is(err, service.ErrInvalidPayment),
		errors.Is(err, service.ErrUnsupportedToken):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotOrderOwner):
		return http.StatusForbidden
	case errors.Is(err, service.ErrProductNotFound),
		errors.Is(err, service.ErrOrderNotFound),
		errors.Is(err, service.ErrUnmatchedNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrProductInactive),
		errors.Is(err, service.ErrInsufficientStock),
		errors.Is(err, service.ErrOrderNotPending),
		errors.Is(err, service.ErrOrderNotPaid),
		errors.Is(err, service.ErrAlreadyResolved):
		return http.StatusConflict
	case errors.Is(err, service.ErrAmountExhausted):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code := httpStatus(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		logger.Error(r.Context(), "request failed", zap.String("path", r.URL.Path), zap.Error(err))
		msg = "internal error"
	}
	writeError(w, code, msg)
}

func writeOK(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, apiResponse{Code: 0, Message: "success", Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, apiResponse{Code: -1, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

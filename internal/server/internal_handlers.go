package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"tron-storefront/internal/notify"
	"tron-storefront/internal/service"
)

// notifyPayment 处理监控进程的支付通知，返回扁平的 notify.Response
// 4xx 表示拒绝（监控不再重试），5xx 表示暂时不可用（监控会重试）
func (h *HTTPHandler) notifyPayment(w http.ResponseWriter, r *http.Request) {
	var req notify.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	amt, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}

	res, err := h.reconcile.Reconcile(r.Context(), service.PaymentNotification{
		TxHash:        req.TxHash,
		FromAddress:   req.FromAddress,
		ToAddress:     req.ToAddress,
		Token:         req.Token,
		Amount:        amt,
		Confirmations: req.Confirmations,
		BlockNumber:   req.BlockNumber,
		Timestamp:     req.Timestamp,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, notify.Response{
		Status:        string(res.Status),
		OrderID:       res.OrderID,
		OrderStatus:   string(res.OrderStatus),
		Duplicate:     res.Duplicate,
		Reason:        res.Reason,
		DeliveryError: res.DeliveryError,
	})
}

func (h *HTTPHandler) listUnmatched(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := h.reconcile.ListUnmatched(r.Context(), limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, list)
}

func (h *HTTPHandler) resolveUnmatched(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OrderID int64 `json:"order_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.OrderID <= 0 {
		writeError(w, http.StatusBadRequest, "order_id is required")
		return
	}
	res, err := h.reconcile.ResolveUnmatched(r.Context(), chi.URLParam(r, "txHash"), body.OrderID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, notify.Response{
		Status:        string(res.Status),
		OrderID:       res.OrderID,
		OrderStatus:   string(res.OrderStatus),
		DeliveryError: res.DeliveryError,
	})
}

// listPayments 查询订单的支付记录
func (h *HTTPHandler) listPayments(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	payments, err := h.orders.ListPayments(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, payments)
}

// deliverOrder 对停留在 paid 的订单重新发货
func (h *HTTPHandler) deliverOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	order, err := h.orders.Deliver(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, toOrderResponse(*order))
}

func (h *HTTPHandler) createProduct(w http.ResponseWriter, r *http.Request) {
	var in service.CreateProductInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	p, err := h.products.CreateProduct(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, p)
}

func (h *HTTPHandler) restockProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		Quantity int `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	p, err := h.products.Restock(r.Context(), id, body.Quantity)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, p)
}

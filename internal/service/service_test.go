package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"tron-storefront/internal/model"
	"tron-storefront/internal/mq"
	"tron-storefront/internal/repository"
	"tron-storefront/internal/repository/repotest"
)

const (
	wallet = "TQn9Y2khEsLJW1ChVWFMSMeRDow5KcbLSE"
	buyer  = int64(7)
	token  = "USDT-TRC20"
)

// seqSource replays a fixed list of suffixes, wrapping around.
type seqSource struct {
	vals []int
	i    int
}

func (s *seqSource) Next() int {
	v := s.vals[s.i%len(s.vals)]
	s.i++
	return v
}

type fixture struct {
	store     *repository.Store
	events    *mq.Recorder
	orders    *OrderService
	products  *ProductService
	reconcile *ReconcileService
}

func newFixture(t *testing.T, minConfirm int64, suffixes ...int) *fixture {
	t.Helper()
	if len(suffixes) == 0 {
		suffixes = []int{423}
	}
	store := repotest.NewStore(t)
	events := &mq.Recorder{}
	return &fixture{
		store:  store,
		events: events,
		orders: NewOrderService(store, events, &seqSource{vals: suffixes}, OrderConfig{
			WalletAddress: wallet,
			TTL:           15 * time.Minute,
			AmountRetries: 3,
		}),
		products: NewProductService(store),
		reconcile: NewReconcileService(store, NewDeliveryService(), events, ReconcileConfig{
			AcceptedToken:    token,
			MinConfirmations: minConfirm,
		}),
	}
}

func (f *fixture) product(t *testing.T, price string, stock int) *model.Product {
	t.Helper()
	p, err := f.products.CreateProduct(context.Background(), CreateProductInput{
		Name:     "Go in Practice (PDF)",
		Category: "ebooks",
		Price:    decimal.RequireFromString(price),
		Stock:    stock,
	})
	require.NoError(t, err)
	return p
}

func (f *fixture) order(t *testing.T, productID int64, qty int) *model.Order {
	t.Helper()
	o, err := f.orders.CreateOrder(context.Background(), CreateOrderInput{BuyerID: buyer, ProductID: productID, Quantity: qty})
	require.NoError(t, err)
	return o
}

func transfer(hash, amt string, confirmations int64) PaymentNotification {
	return PaymentNotification{
		TxHash:        hash,
		FromAddress:   "TBuyerWallet111111111111111111111",
		ToAddress:     wallet,
		Token:         token,
		Amount:        decimal.RequireFromString(amt),
		Confirmations: confirmations,
		BlockNumber:   5000,
		Timestamp:     time.Now().UTC(),
	}
}

func (f *fixture) reload(t *testing.T, id int64) *model.Order {
	t.Helper()
	o, err := f.store.Orders.FindByID(context.Background(), id)
	require.NoError(t, err)
	return o
}

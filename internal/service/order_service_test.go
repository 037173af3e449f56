package service

import (
	"context"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tron-storefront/internal/model"
	"tron-storefront/internal/repository"
)

func TestCreateOrderAssignsUniqueAmount(t *testing.T) {
	f := newFixture(t, 1, 423)
	p := f.product(t, "9.99", 10)

	o := f.order(t, p.ID, 1)
	assert.True(t, decimal.RequireFromString("9.990423").Equal(o.TotalAmount), o.TotalAmount.String())
	assert.Equal(t, model.StatusPendingPayment, o.Status)
	assert.Equal(t, wallet, o.PaymentAddress)
	assert.WithinDuration(t, o.CreatedAt.Add(15*time.Minute), o.ExpiresAt, time.Second)
	assert.Equal(t, []int64{o.ID}, f.events.Delays)
}

func TestCreateOrderRetriesOnCollision(t *testing.T) {
	f := newFixture(t, 1, 5, 5, 6)
	p := f.product(t, "9.99", 10)

	first := f.order(t, p.ID, 1)
	second := f.order(t, p.ID, 1)

	assert.True(t, decimal.RequireFromString("9.990005").Equal(first.TotalAmount))
	assert.True(t, decimal.RequireFromString("9.990006").Equal(second.TotalAmount))
}

func TestCreateOrderExhaustsRetries(t *testing.T) {
	f := newFixture(t, 1, 5)
	p := f.product(t, "9.99", 10)
	f.order(t, p.ID, 1)

	_, err := f.orders.CreateOrder(context.Background(), CreateOrderInput{BuyerID: buyer, ProductID: p.ID, Quantity: 1})
	assert.ErrorIs(t, err, ErrAmountExhausted)
}

func TestCreateOrderMultipliesQuantity(t *testing.T) {
	f := newFixture(t, 1, 1)
	p := f.product(t, "2.50", 10)

	o := f.order(t, p.ID, 3)
	assert.True(t, decimal.RequireFromString("7.500001").Equal(o.TotalAmount), o.TotalAmount.String())
	assert.True(t, decimal.RequireFromString("2.50").Equal(o.UnitPrice))
}

func TestCreateOrderRejects(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	p := f.product(t, "9.99", 1)

	_, err := f.orders.CreateOrder(ctx, CreateOrderInput{BuyerID: buyer, ProductID: 999, Quantity: 1})
	assert.ErrorIs(t, err, ErrProductNotFound)

	_, err = f.orders.CreateOrder(ctx, CreateOrderInput{BuyerID: buyer, ProductID: p.ID, Quantity: 2})
	assert.ErrorIs(t, err, ErrInsufficientStock)

	_, err = f.orders.CreateOrder(ctx, CreateOrderInput{BuyerID: buyer, ProductID: p.ID, Quantity: 0})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	require.NoError(t, f.store.DB().Model(&model.Product{}).Where("id = ?", p.ID).
		Update("status", model.ProductInactive).Error)
	_, err = f.orders.CreateOrder(ctx, CreateOrderInput{BuyerID: buyer, ProductID: p.ID, Quantity: 1})
	assert.ErrorIs(t, err, ErrProductInactive)
}

func TestCancelOrder(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	o := f.order(t, f.product(t, "9.99", 5).ID, 1)

	_, err := f.orders.CancelOrder(ctx, o.ID, buyer+1)
	assert.ErrorIs(t, err, ErrNotOrderOwner)

	got, err := f.orders.CancelOrder(ctx, o.ID, buyer)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, got.Status)
	assert.Equal(t, []model.OrderStatus{model.StatusCancelled}, f.events.Statuses(o.ID))

	_, err = f.orders.CancelOrder(ctx, o.ID, buyer)
	assert.ErrorIs(t, err, ErrOrderNotPending)

	_, err = f.orders.CancelOrder(ctx, 12345, buyer)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestExpireOrderWaitsForWindow(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	o := f.order(t, f.product(t, "9.99", 5).ID, 1)

	expired, err := f.orders.ExpireOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.False(t, expired)

	f.orders.now = func() time.Time { return time.Now().UTC().Add(time.Hour) }
	expired, err = f.orders.ExpireOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, expired)
	assert.Equal(t, model.StatusExpired, f.reload(t, o.ID).Status)

	// a second expiry is a no-op
	expired, err = f.orders.ExpireOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.False(t, expired)

	expired, err = f.orders.ExpireOrder(ctx, 999)
	require.NoError(t, err)
	assert.False(t, expired)
}

func TestSweepExpired(t *testing.T) {
	f := newFixture(t, 1, 1, 2, 3)
	ctx := context.Background()
	p := f.product(t, "9.99", 5)
	a := f.order(t, p.ID, 1)
	b := f.order(t, p.ID, 1)

	_, err := f.orders.CancelOrder(ctx, b.ID, buyer)
	require.NoError(t, err)

	later := time.Now().UTC().Add(time.Hour)
	f.orders.now = func() time.Time { return later }
	n, err := f.orders.SweepExpired(ctx, later)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, model.StatusExpired, f.reload(t, a.ID).Status)
	assert.Equal(t, model.StatusCancelled, f.reload(t, b.ID).Status)
}

func TestListOrders(t *testing.T) {
	f := newFixture(t, 1, 1, 2)
	p := f.product(t, "9.99", 5)
	f.order(t, p.ID, 1)
	f.order(t, p.ID, 1)

	orders, total, err := f.orders.ListOrders(context.Background(), repository.OrderFilter{BuyerID: buyer})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, orders, 2)
}

type fakeExpireSource struct {
	ch chan amqp.Delivery
}

func (f *fakeExpireSource) IsConnected() bool { return true }

func (f *fakeExpireSource) ConsumeExpire() (<-chan amqp.Delivery, error) { return f.ch, nil }

func TestExpireConsumer(t *testing.T) {
	f := newFixture(t, 1)
	o := f.order(t, f.product(t, "9.99", 5).ID, 1)
	f.orders.now = func() time.Time { return time.Now().UTC().Add(time.Hour) }

	src := &fakeExpireSource{ch: make(chan amqp.Delivery, 2)}
	src.ch <- amqp.Delivery{Body: []byte(`garbage`)}
	src.ch <- amqp.Delivery{Body: []byte(`{"order_id":` + decimal.NewFromInt(o.ID).String() + `}`)}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.orders.StartExpireConsumer(ctx, src)
	}()

	assert.Eventually(t, func() bool {
		got, err := f.store.Orders.FindByID(context.Background(), o.ID)
		return err == nil && got.Status == model.StatusExpired
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestDeliverAfterRestock(t *testing.T) {
	f := newFixture(t, 1, 423)
	ctx := context.Background()
	p := f.product(t, "9.99", 1)
	o := f.order(t, p.ID, 1)

	// 付款前库存被其他渠道售出
	ok, err := f.store.Products.DecrementStock(ctx, p.ID, 1)
	require.NoError(t, err)
	require.True(t, ok)

	res, err := f.reconcile.Reconcile(ctx, transfer("tx-1", "9.990423", 1))
	require.NoError(t, err)
	require.Equal(t, model.StatusPaid, res.OrderStatus)

	_, err = f.orders.Deliver(ctx, o.ID)
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, model.StatusPaid, f.reload(t, o.ID).Status)

	_, err = f.products.Restock(ctx, p.ID, 1)
	require.NoError(t, err)

	got, err := f.orders.Deliver(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.NotEmpty(t, got.DownloadToken)
	assert.NotNil(t, got.DeliveredAt)
	assert.Equal(t, []model.OrderStatus{model.StatusPaid, model.StatusCompleted}, f.events.Statuses(o.ID))

	prod, err := f.products.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, prod.Stock)

	_, err = f.orders.Deliver(ctx, o.ID)
	assert.ErrorIs(t, err, ErrOrderNotPaid)

	_, err = f.orders.Deliver(ctx, 999)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateProductValidates(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	bad := []CreateProductInput{
		{Name: "", Category: "ebooks", Price: decimal.RequireFromString("1")},
		{Name: "x", Category: "ebooks", Price: decimal.RequireFromString("0")},
		{Name: "x", Category: "ebooks", Price: decimal.RequireFromString("1.999")},
		{Name: "x", Category: "ebooks", Price: decimal.RequireFromString("1"), Stock: -1},
	}
	for _, in := range bad {
		_, err := f.products.CreateProduct(ctx, in)
		assert.ErrorIs(t, err, ErrInvalidArgument, "%+v", in)
	}
}

func TestListAndRestock(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	book := f.product(t, "9.99", 0)
	_, err := f.products.CreateProduct(ctx, CreateProductInput{
		Name: "Course", Category: "video", Price: decimal.RequireFromString("49.00"), Stock: 3,
	})
	require.NoError(t, err)

	all, err := f.products.ListProducts(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	ebooks, err := f.products.ListProducts(ctx, "ebooks")
	require.NoError(t, err)
	require.Len(t, ebooks, 1)
	assert.Equal(t, book.ID, ebooks[0].ID)

	got, err := f.products.Restock(ctx, book.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Stock)

	_, err = f.products.Restock(ctx, book.ID, 0)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = f.products.Restock(ctx, 999, 1)
	assert.ErrorIs(t, err, ErrProductNotFound)

	_, err = f.products.GetProduct(ctx, 999)
	assert.ErrorIs(t, err, ErrProductNotFound)
}

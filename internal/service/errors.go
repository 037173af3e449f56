package service

import "errors"

var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrProductNotFound   = errors.New("product not found")
	ErrProductInactive   = errors.New("product is not for sale")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrAmountExhausted   = errors.New("no free payment amount after retries")

	ErrOrderNotFound   = errors.New("order not found")
	ErrOrderNotPending = errors.New("order is not awaiting payment")
	ErrOrderNotPaid    = errors.New("order is not paid")
	ErrNotOrderOwner   = errors.New("order belongs to another buyer")

	ErrUnsupportedToken  = errors.New("unsupported token")
	ErrInvalidPayment    = errors.New("invalid payment notification")
	ErrUnmatchedNotFound = errors.New("unmatched transaction not found")
	ErrAlreadyResolved   = errors.New("transaction already settled")
)

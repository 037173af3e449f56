package server

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"tron-storefront/internal/amount"
	"tron-storefront/internal/model"
	"tron-storefront/internal/service"
	"tron-storefront/pkg/logger"
	"tron-storefront/pkg/safe"
	pb "tron-storefront/proto/order"
)

// OrderGRPCServer 订单 gRPC 服务实现
type OrderGRPCServer struct {
	orderService *service.OrderService
}

// NewOrderGRPCServer 创建订单 gRPC 服务
func NewOrderGRPCServer(orderService *service.OrderService) *OrderGRPCServer {
	return &OrderGRPCServer{orderService: orderService}
}

// NewGRPCServer 创建已注册订单服务的 gRPC 服务器
func NewGRPCServer(orderService *service.OrderService) *grpc.Server {
	s := grpc.NewServer(grpc.ChainUnaryInterceptor(recoverInterceptor, logInterceptor))
	pb.RegisterOrderServiceServer(s, NewOrderGRPCServer(orderService))
	return s
}

// CreateOrder 创建订单
func (s *OrderGRPCServer) CreateOrder(ctx context.Context, req *pb.CreateOrderRequest) (*pb.OrderReply, error) {
	if req.BuyerID <= 0 || req.ProductID <= 0 || req.Quantity <= 0 {
		return nil, status.Error(codes.InvalidArgument, "buyer_id, product_id and quantity must be positive")
	}
	order, err := s.orderService.CreateOrder(ctx, service.CreateOrderInput{
		BuyerID:   req.BuyerID,
		ProductID: req.ProductID,
		Quantity:  int(req.Quantity),
	})
	if err != nil {
		return nil, grpcError(err)
	}
	return toOrderReply(order), nil
}

// GetOrder 查询订单
func (s *OrderGRPCServer) GetOrder(ctx context.Context, req *pb.GetOrderRequest) (*pb.OrderReply, error) {
	if req.OrderID <= 0 {
		return nil, status.Error(codes.InvalidArgument, "order_id must be positive")
	}
	order, err := s.orderService.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, grpcError(err)
	}
	return toOrderReply(order), nil
}

func toOrderReply(o *model.Order) *pb.OrderReply {
	return &pb.OrderReply{
		OrderID:        o.ID,
		BuyerID:        o.BuyerID,
		ProductID:      o.ProductID,
		Quantity:       int32(o.Quantity),
		Status:         string(o.Status),
		TotalAmount:    amount.Format(o.TotalAmount),
		PaymentAddress: o.PaymentAddress,
		ExpiresAt:      o.ExpiresAt.Unix(),
		DownloadToken:  o.DownloadToken,
	}
}

func grpcError(err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidArgument):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, service.ErrProductNotFound), errors.Is(err, service.ErrOrderNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, service.ErrProductInactive),
		errors.Is(err, service.ErrInsufficientStock),
		errors.Is(err, service.ErrOrderNotPending):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, service.ErrAmountExhausted):
		return status.Error(codes.ResourceExhausted, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

func recoverInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	defer func() {
		if r := recover(); r != nil {
			safe.Report(ctx, r)
			err = status.Error(codes.Internal, "internal error")
		}
	}()
	return handler(ctx, req)
}

func logInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	fields := []zap.Field{
		zap.String("method", info.FullMethod),
		zap.Duration("took", time.Since(start)),
	}
	if err != nil {
		st, _ := status.FromError(err)
		fields = append(fields, zap.String("code", st.Code().String()), zap.String("error", st.Message()))
		logger.Warn(ctx, "grpc call failed", fields...)
		return resp, err
	}
	logger.Debug(ctx, "grpc call", fields...)
	return resp, nil
}

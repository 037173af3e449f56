// Package orderpb 定义聊天机器人调用的 storefront.v1.OrderService gRPC 契约。
// 消息经本包注册的 JSON 编解码器传输，不包含生成代码。
// 非 Go 客户端（如 Python 机器人）必须使用 json 内容子类型，即
// content-type: application/grpc+json；服务端无法解析 protobuf 编码的请求。
package orderpb

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

const (
	ServiceName = "storefront.v1.OrderService"

	CreateOrderMethod = "/" + ServiceName + "/CreateOrder"
	GetOrderMethod    = "/" + ServiceName + "/GetOrder"
)

// CreateOrderRequest 创建订单请求
type CreateOrderRequest struct {
	BuyerID   int64 `json:"buyer_id"`
	ProductID int64 `json:"product_id"`
	Quantity  int32 `json:"quantity"`
}

// GetOrderRequest 查询订单请求
type GetOrderRequest struct {
	OrderID int64 `json:"order_id"`
}

// OrderReply 订单响应
type OrderReply struct {
	OrderID        int64  `json:"order_id"`
	BuyerID        int64  `json:"buyer_id"`
	ProductID      int64  `json:"product_id"`
	Quantity       int32  `json:"quantity"`
	Status         string `json:"status"`
	TotalAmount    string `json:"total_amount"`
	PaymentAddress string `json:"payment_address"`
	ExpiresAt      int64  `json:"expires_at"`
	DownloadToken  string `json:"download_token,omitempty"`
}

// OrderServiceServer 订单服务接口
type OrderServiceServer interface {
	CreateOrder(context.Context, *CreateOrderRequest) (*OrderReply, error)
	GetOrder(context.Context, *GetOrderRequest) (*OrderReply, error)
}

// RegisterOrderServiceServer 注册订单服务
func RegisterOrderServiceServer(s grpc.ServiceRegistrar, srv OrderServiceServer) {
	s.RegisterService(&OrderServiceDesc, srv)
}

// OrderServiceDesc 订单服务描述
var OrderServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*OrderServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateOrder", Handler: createOrderHandler},
		{MethodName: "GetOrder", Handler: getOrderHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "storefront/v1/order",
}

func createOrderHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CreateOrderRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OrderServiceServer).CreateOrder(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: CreateOrderMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(OrderServiceServer).CreateOrder(ctx, req.(*CreateOrderRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getOrderHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetOrderRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OrderServiceServer).GetOrder(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: GetOrderMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(OrderServiceServer).GetOrder(ctx, req.(*GetOrderRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// OrderServiceClient 订单服务客户端，连接需使用 CallOption() 或 WithJSON() 建立
type OrderServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewOrderServiceClient 创建订单服务客户端
func NewOrderServiceClient(cc grpc.ClientConnInterface) *OrderServiceClient {
	return &OrderServiceClient{cc: cc}
}

// CreateOrder 创建订单
func (c *OrderServiceClient) CreateOrder(ctx context.Context, in *CreateOrderRequest, opts ...grpc.CallOption) (*OrderReply, error) {
	out := new(OrderReply)
	if err := c.cc.Invoke(ctx, CreateOrderMethod, in, out, append([]grpc.CallOption{CallOption()}, opts...)...); err != nil {
		return nil, err
	}
	return out, nil
}

// GetOrder 查询订单
func (c *OrderServiceClient) GetOrder(ctx context.Context, in *GetOrderRequest, opts ...grpc.CallOption) (*OrderReply, error) {
	out := new(OrderReply)
	if err := c.cc.Invoke(ctx, GetOrderMethod, in, out, append([]grpc.CallOption{CallOption()}, opts...)...); err != nil {
		return nil, err
	}
	return out, nil
}

// CodecName 编解码器名称，即 gRPC 内容子类型
const CodecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return CodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// CallOption 为单次调用选择 JSON 编解码器
func CallOption() grpc.CallOption {
	return grpc.CallContentSubtype(CodecName)
}

// WithJSON 将 JSON 设为客户端连接的默认编解码器
func WithJSON() grpc.DialOption {
	return grpc.WithDefaultCallOptions(CallOption())
}

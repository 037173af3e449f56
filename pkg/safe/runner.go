package safe

import (
	"context"
	"runtime/debug"

	"go.uber.org/zap"

	"tron-storefront/pkg/logger"
)

// Go 在协程中执行 fn，panic 时记录日志而不是崩溃
func Go(ctx context.Context, fn func(ctx context.Context)) {
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		defer Recover(ctx)
		fn(ctx)
	}()
}

// Recover 必须直接 defer 调用
func Recover(ctx context.Context) {
	if r := recover(); r != nil {
		Report(ctx, r)
	}
}

// Report 记录 panic 值及当前堆栈
func Report(ctx context.Context, r any) {
	logger.Error(ctx, "panic recovered",
		zap.Any("panic", r),
		zap.String("stack", string(debug.Stack())),
	)
}

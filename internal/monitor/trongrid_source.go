package monitor

import (
	"context"
	"errors"
	"time"

	"tron-storefront/pkg/trongrid"
)

// TronGridSource 通过 TronGrid 读取转入指定地址的 TRC20 转账
type TronGridSource struct {
	client   *trongrid.Client
	address  string
	contract string
}

// NewTronGridSource 创建 TronGrid 链数据源
func NewTronGridSource(client *trongrid.Client, address, contract string) *TronGridSource {
	return &TronGridSource{client: client, address: address, contract: contract}
}

// LatestHeight 获取最新区块高度
func (s *TronGridSource) LatestHeight(ctx context.Context) (int64, error) {
	return s.client.LatestBlockHeight(ctx)
}

// ListTransfers 拉取最新的转入记录（按时间倒序）
func (s *TronGridSource) ListTransfers(ctx context.Context, limit int) ([]RawTransfer, error) {
	txs, err := s.client.GetTRC20Transactions(ctx, trongrid.TransferQuery{
		Address:         s.address,
		ContractAddress: s.contract,
		Limit:           limit,
		OnlyTo:          true,
	})
	if err != nil {
		return nil, err
	}
	out := make([]RawTransfer, 0, len(txs))
	for _, tx := range txs {
		out = append(out, RawTransfer{
			Hash:            tx.TransactionID,
			From:            tx.From,
			To:              tx.To,
			Type:            tx.Type,
			ContractAddress: tx.TokenInfo.Address,
			Value:           tx.Value,
			Decimals:        tx.TokenInfo.Decimals,
			BlockTimestamp:  time.UnixMilli(tx.BlockTimestamp).UTC(),
		})
	}
	return out, nil
}

// TransactionHeight 查询交易所在区块，未被索引时返回 ErrTxPending
func (s *TronGridSource) TransactionHeight(ctx context.Context, hash string) (int64, error) {
	n, err := s.client.TransactionBlockNumber(ctx, hash)
	if errors.Is(err, trongrid.ErrTxNotFound) {
		return 0, ErrTxPending
	}
	return n, err
}

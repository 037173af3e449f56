package trongrid

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const deposit = "TQn9Y2khEsLJW1ChVWFMSMeRDow5KcbLSE"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/accounts/"+deposit+"/transactions/trc20", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "20", q.Get("limit"))
		assert.Equal(t, "true", q.Get("only_to"))
		assert.Equal(t, USDTContract, q.Get("contract_address"))
		assert.Equal(t, "secret", r.Header.Get("TRON-PRO-API-KEY"))
		_, _ = w.Write([]byte(`{"success":true,"meta":{"at":1,"page_size":1},"data":[
			{"transaction_id":"abc","from":"TFrom","to":"` + deposit + `","type":"Transfer","value":"9990423",
			 "block_timestamp":1700000000000,
			 "token_info":{"symbol":"USDT","address":"` + USDTContract + `","decimals":6,"name":"Tether USD"}}]}`))
	})
	mux.HandleFunc("/wallet/getnowblock", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		_, _ = w.Write([]byte(`{"block_header":{"raw_data":{"number":5000}}}`))
	})
	mux.HandleFunc("/wallet/gettransactioninfobyid", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["value"] == "abc" {
			_, _ = w.Write([]byte(`{"id":"abc","blockNumber":4990}`))
			return
		}
		_, _ = w.Write([]byte(`{}`))
	})
	mux.HandleFunc("/broken/wallet/getnowblock", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestGetTRC20Transactions(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(srv.URL, "secret", WithRateLimit(100))

	txs, err := c.GetTRC20Transactions(context.Background(), TransferQuery{
		Address:         deposit,
		ContractAddress: USDTContract,
		Limit:           20,
		OnlyTo:          true,
	})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "abc", txs[0].TransactionID)
	assert.Equal(t, "9990423", txs[0].Value)
	assert.Equal(t, 6, txs[0].TokenInfo.Decimals)
}

func TestLatestBlockAndTxInfo(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(srv.URL, "")

	h, err := c.LatestBlockHeight(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5000), h)

	n, err := c.TransactionBlockNumber(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, int64(4990), n)

	_, err = c.TransactionBlockNumber(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrTxNotFound)
}

func TestNon200IsError(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(srv.URL+"/broken", "")
	_, err := c.LatestBlockHeight(context.Background())
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
}

// Package ledger holds the append-only transaction log and the derived
// views computed from it: per-asset balances, net worth, trade history
// and trade profit/loss, all bucketed by day.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TypeTrade      TransactionType = "trade"
	TypeDeposit    TransactionType = "deposit"
	TypeWithdrawal TransactionType = "withdrawal"
	TypeTransfer   TransactionType = "transfer"
)

// Transaction is one row of the append-only log. Amount is signed:
// negative for withdrawals and sells.
type Transaction struct {
	Id          string
	AccountName string
	Wallet      string
	Time        time.Time
	Type        TransactionType
	Asset       string
	Amount      decimal.Decimal
	Fee         decimal.Decimal
	// unit price in the base currency at transaction time, zero when unknown
	Price decimal.Decimal
	Note  string
	Spam  bool
	// links the two legs of an auto-merged transfer
	MergedId string
}

// BalanceSnapshot is the per-asset balance at the end of one day bucket.
type BalanceSnapshot struct {
	AccountName string
	Bucket      time.Time
	Asset       string
	Amount      decimal.Decimal
}

// NetWorthSnapshot is the base-currency valuation at the end of one day
// bucket.
type NetWorthSnapshot struct {
	AccountName string
	Bucket      time.Time
	Value       decimal.Decimal
}

// TradeMark is the derived cost basis and realized profit/loss of one
// trade transaction.
type TradeMark struct {
	TransactionId string
	AccountName   string
	Time          time.Time
	Asset         string
	CostBasis     decimal.Decimal
	ProfitLoss    decimal.Decimal
}

type Notification struct {
	Id          string
	AccountName string
	Message     string
	Time        time.Time
}

// Bucket floors a transaction time to its day bucket.
func Bucket(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}

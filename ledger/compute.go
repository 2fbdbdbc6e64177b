package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/folionet/folio/prices"

	"github.com/golang/glog"
)

const dayBucket = 24 * time.Hour

// Computer runs the recompute passes against the store. Every pass is
// parameterized by a from-bucket and idempotent: derived rows at or
// after the bucket are deleted and rebuilt forward, rows before it are
// untouched. A zero from recomputes from the origin.
type Computer struct {
	store    Store
	prices   prices.Provider
	currency string
}

func NewComputer(store Store, priceProvider prices.Provider, currency string) *Computer {
	return &Computer{
		store:    store,
		prices:   priceProvider,
		currency: currency,
	}
}

func (self *Computer) EarliestTransactionTime(ctx context.Context, accountName string) (time.Time, bool, error) {
	return self.store.EarliestTransactionTime(accountName)
}

func (self *Computer) LatestTransactionTime(ctx context.Context, accountName string) (time.Time, bool, error) {
	return self.store.LatestTransactionTime(accountName)
}

// RecomputeBalances rebuilds the daily per-asset balance snapshots from
// the from-bucket forward. The running balance is replayed from the
// origin; only snapshot writes are windowed.
func (self *Computer) RecomputeBalances(ctx context.Context, accountName string, from time.Time) error {
	fromBucket := Bucket(from)
	if err := self.store.DeleteBalanceSnapshots(accountName, fromBucket); err != nil {
		return err
	}

	transactions, err := self.store.ListTransactions(accountName, time.Time{})
	if err != nil {
		return err
	}
	if len(transactions) == 0 {
		return nil
	}

	balances := map[string]decimal.Decimal{}
	flush := func(bucket time.Time) error {
		if bucket.Before(fromBucket) {
			return nil
		}
		for asset, amount := range balances {
			err := self.store.UpsertBalanceSnapshot(&BalanceSnapshot{
				AccountName: accountName,
				Bucket:      bucket,
				Asset:       asset,
				Amount:      amount,
			})
			if err != nil {
				return err
			}
		}
		return nil
	}

	currentBucket := time.Time{}
	for _, transaction := range transactions {
		if err := ctx.Err(); err != nil {
			return err
		}
		bucket := Bucket(transaction.Time)
		if !currentBucket.IsZero() && bucket.After(currentBucket) {
			if err := flush(currentBucket); err != nil {
				return err
			}
		}
		currentBucket = bucket
		if transaction.Spam {
			continue
		}
		balances[transaction.Asset] = balances[transaction.Asset].Add(transaction.Amount).Sub(transaction.Fee)
	}
	return flush(currentBucket)
}

// RecomputeNetWorth rebuilds the daily valuation snapshots from the
// from-bucket forward, pricing each day's balances with the latest
// known price at or before that day.
func (self *Computer) RecomputeNetWorth(ctx context.Context, accountName string, from time.Time) error {
	fromBucket := Bucket(from)
	if err := self.store.DeleteNetWorthSnapshots(accountName, fromBucket); err != nil {
		return err
	}

	transactions, err := self.store.ListTransactions(accountName, time.Time{})
	if err != nil {
		return err
	}
	if len(transactions) == 0 {
		return nil
	}

	startBucket := Bucket(transactions[0].Time)
	endBucket := Bucket(transactions[len(transactions)-1].Time)
	if nowBucket := Bucket(time.Now()); nowBucket.After(endBucket) {
		endBucket = nowBucket
	}

	balances := map[string]decimal.Decimal{}
	i := 0
	for bucket := startBucket; !bucket.After(endBucket); bucket = bucket.Add(dayBucket) {
		if err := ctx.Err(); err != nil {
			return err
		}
		for i < len(transactions) && !Bucket(transactions[i].Time).After(bucket) {
			if !transactions[i].Spam {
				asset := transactions[i].Asset
				balances[asset] = balances[asset].Add(transactions[i].Amount).Sub(transactions[i].Fee)
			}
			i += 1
		}
		if bucket.Before(fromBucket) {
			continue
		}

		value := decimal.Zero
		for asset, amount := range balances {
			if amount.IsZero() {
				continue
			}
			price, ok, err := self.store.AssetPriceAt(asset, bucket)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			value = value.Add(amount.Mul(price))
		}
		err := self.store.UpsertNetWorthSnapshot(&NetWorthSnapshot{
			AccountName: accountName,
			Bucket:      bucket,
			Value:       value,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// RecomputeTradeHistory rebuilds the trade marks from the from-bucket
// forward with the average cost basis after each trade.
func (self *Computer) RecomputeTradeHistory(ctx context.Context, accountName string, from time.Time) error {
	fromBucket := Bucket(from)
	if err := self.store.DeleteTradeMarks(accountName, fromBucket); err != nil {
		return err
	}
	return self.replayTrades(ctx, accountName, func(transaction *Transaction, basis decimal.Decimal, profitLoss decimal.Decimal) error {
		if Bucket(transaction.Time).Before(fromBucket) {
			return nil
		}
		return self.store.UpsertTradeMark(&TradeMark{
			TransactionId: transaction.Id,
			AccountName:   accountName,
			Time:          transaction.Time,
			Asset:         transaction.Asset,
			CostBasis:     basis,
			ProfitLoss:    decimal.Zero,
		})
	})
}

// RecomputeTradeProfitLoss rewrites realized profit/loss on the trade
// marks from the from-bucket forward.
func (self *Computer) RecomputeTradeProfitLoss(ctx context.Context, accountName string, from time.Time) error {
	fromBucket := Bucket(from)
	return self.replayTrades(ctx, accountName, func(transaction *Transaction, basis decimal.Decimal, profitLoss decimal.Decimal) error {
		if Bucket(transaction.Time).Before(fromBucket) {
			return nil
		}
		return self.store.UpsertTradeMark(&TradeMark{
			TransactionId: transaction.Id,
			AccountName:   accountName,
			Time:          transaction.Time,
			Asset:         transaction.Asset,
			CostBasis:     basis,
			ProfitLoss:    profitLoss,
		})
	})
}

// replayTrades walks all trades in time order maintaining an average
// cost basis per asset. For each trade it reports the basis after the
// trade and the realized profit/loss (nonzero only for sells).
func (self *Computer) replayTrades(
	ctx context.Context,
	accountName string,
	visit func(transaction *Transaction, basis decimal.Decimal, profitLoss decimal.Decimal) error,
) error {
	transactions, err := self.store.ListTransactions(accountName, time.Time{})
	if err != nil {
		return err
	}

	type position struct {
		quantity decimal.Decimal
		cost     decimal.Decimal
	}
	positions := map[string]*position{}

	for i := range transactions {
		if err := ctx.Err(); err != nil {
			return err
		}
		transaction := &transactions[i]
		if transaction.Type != TypeTrade || transaction.Spam {
			continue
		}

		pos, ok := positions[transaction.Asset]
		if !ok {
			pos = &position{}
			positions[transaction.Asset] = pos
		}

		profitLoss := decimal.Zero
		if transaction.Amount.IsNegative() {
			// sell: realize against the average basis
			quantity := transaction.Amount.Neg()
			basis := decimal.Zero
			if pos.quantity.IsPositive() {
				basis = pos.cost.Div(pos.quantity)
			}
			profitLoss = transaction.Price.Sub(basis).Mul(quantity)
			pos.cost = pos.cost.Sub(basis.Mul(quantity))
			pos.quantity = pos.quantity.Sub(quantity)
		} else {
			pos.cost = pos.cost.Add(transaction.Price.Mul(transaction.Amount))
			pos.quantity = pos.quantity.Add(transaction.Amount)
		}

		basis := decimal.Zero
		if pos.quantity.IsPositive() {
			basis = pos.cost.Div(pos.quantity)
		}
		if err := visit(transaction, basis, profitLoss); err != nil {
			return err
		}
	}
	return nil
}

// refresh passes. these run on the current bucket, unconditionally.

func (self *Computer) RefreshBalances(ctx context.Context, accountName string) error {
	return self.RecomputeBalances(ctx, accountName, Bucket(time.Now()))
}

func (self *Computer) RefreshNetWorth(ctx context.Context, accountName string) error {
	return self.RecomputeNetWorth(ctx, accountName, Bucket(time.Now()))
}

func (self *Computer) RefreshTrades(ctx context.Context, accountName string) error {
	if err := self.RecomputeTradeHistory(ctx, accountName, Bucket(time.Now())); err != nil {
		return err
	}
	return self.RecomputeTradeProfitLoss(ctx, accountName, Bucket(time.Now()))
}

// RefetchPrices pulls daily series for every asset the account holds
// and stores them for the valuation passes.
func (self *Computer) RefetchPrices(ctx context.Context, accountName string) error {
	assets, err := self.store.ListAssets(accountName)
	if err != nil {
		return err
	}
	if len(assets) == 0 {
		return nil
	}

	from, ok, err := self.store.EarliestTransactionTime(accountName)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	series, err := self.prices.QueryPrices(ctx, &prices.Request{
		Assets:   assets,
		Currency: self.currency,
		From:     from,
		To:       time.Now(),
	})
	if err != nil {
		return err
	}

	for asset, points := range series {
		for _, point := range points {
			if err := self.store.UpsertAssetPrice(asset, Bucket(point.Time), point.Price); err != nil {
				return err
			}
		}
	}
	glog.V(1).Infof("[compute]%s prices %d assets\n", accountName, len(series))
	return nil
}

// RefreshMetadata records the asset set and the refresh time in the
// account's key-value store.
func (self *Computer) RefreshMetadata(ctx context.Context, accountName string) error {
	assets, err := self.store.ListAssets(accountName)
	if err != nil {
		return err
	}
	for _, asset := range assets {
		key := "asset:" + asset
		if _, ok, err := self.store.GetKeyValue(accountName, key); err != nil {
			return err
		} else if !ok {
			if err := self.store.SetKeyValue(accountName, key, asset); err != nil {
				return err
			}
		}
	}
	return self.store.SetKeyValue(accountName, "metadataRefreshTime", time.Now().UTC().Format(time.RFC3339))
}

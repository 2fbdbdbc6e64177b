package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/folionet/folio/prices"
)

type fixedProvider struct {
	series prices.Series
	calls  int
}

func (self *fixedProvider) QueryPrices(ctx context.Context, request *prices.Request) (prices.Series, error) {
	self.calls += 1
	return self.series, nil
}

func newTestComputer(t *testing.T) (*Computer, *SqliteStore, *fixedProvider) {
	store := newTestStore(t)
	assert.Equal(t, nil, store.CreateAccount("main"))
	provider := &fixedProvider{series: prices.Series{}}
	return NewComputer(store, provider, "USD"), store, provider
}

func insert(t *testing.T, store *SqliteStore, transaction Transaction) {
	t.Helper()
	transaction.AccountName = "main"
	assert.Equal(t, nil, store.InsertTransaction(&transaction))
}

func TestRecomputeBalances(t *testing.T) {
	computer, store, _ := newTestComputer(t)
	ctx := context.Background()

	day1 := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)
	day3 := day2.Add(24 * time.Hour)

	insert(t, store, Transaction{Id: "t1", Time: day1, Type: TypeDeposit, Asset: "BTC", Amount: dec(t, "1")})
	insert(t, store, Transaction{Id: "t2", Time: day2, Type: TypeDeposit, Asset: "ETH", Amount: dec(t, "2")})
	insert(t, store, Transaction{Id: "t3", Time: day3, Type: TypeTrade, Asset: "BTC", Amount: dec(t, "0.5"), Fee: dec(t, "0.01")})
	// spam rows never count
	insert(t, store, Transaction{Id: "t4", Time: day3, Type: TypeDeposit, Asset: "SCAM", Amount: dec(t, "1000"), Spam: true})

	assert.Equal(t, nil, computer.RecomputeBalances(ctx, "main", time.Time{}))

	snapshots, err := store.ListBalanceSnapshots("main", time.Time{})
	assert.Equal(t, nil, err)
	byKey := map[string]string{}
	for _, snapshot := range snapshots {
		byKey[snapshot.Bucket.UTC().Format("01-02")+" "+snapshot.Asset] = snapshot.Amount.String()
	}
	assert.Equal(t, "1", byKey["01-01 BTC"])
	assert.Equal(t, "1", byKey["01-02 BTC"])
	assert.Equal(t, "2", byKey["01-02 ETH"])
	assert.Equal(t, "1.49", byKey["01-03 BTC"])
	assert.Equal(t, "2", byKey["01-03 ETH"])
	_, hasSpam := byKey["01-03 SCAM"]
	assert.Equal(t, false, hasSpam)

	// a windowed recompute rewrites only rows at or after the from-bucket
	err = store.UpsertBalanceSnapshot(&BalanceSnapshot{
		AccountName: "main", Bucket: Bucket(day1), Asset: "BTC", Amount: dec(t, "42"),
	})
	assert.Equal(t, nil, err)
	assert.Equal(t, nil, computer.RecomputeBalances(ctx, "main", day3))

	snapshots, _ = store.ListBalanceSnapshots("main", time.Time{})
	byKey = map[string]string{}
	for _, snapshot := range snapshots {
		byKey[snapshot.Bucket.UTC().Format("01-02")+" "+snapshot.Asset] = snapshot.Amount.String()
	}
	assert.Equal(t, "42", byKey["01-01 BTC"])
	assert.Equal(t, "1.49", byKey["01-03 BTC"])
}

func TestRecomputeNetWorth(t *testing.T) {
	computer, store, _ := newTestComputer(t)
	ctx := context.Background()

	// recent days so the walk to the current bucket stays short
	day1 := Bucket(time.Now()).Add(-48 * time.Hour)
	day2 := day1.Add(24 * time.Hour)

	insert(t, store, Transaction{Id: "t1", Time: day1, Type: TypeDeposit, Asset: "BTC", Amount: dec(t, "2")})
	insert(t, store, Transaction{Id: "t2", Time: day2, Type: TypeDeposit, Asset: "XYZ", Amount: dec(t, "5")})

	assert.Equal(t, nil, store.UpsertAssetPrice("BTC", day1, dec(t, "100")))
	assert.Equal(t, nil, store.UpsertAssetPrice("BTC", day2, dec(t, "110")))
	// no price for XYZ: it contributes nothing rather than failing

	assert.Equal(t, nil, computer.RecomputeNetWorth(ctx, "main", time.Time{}))

	snapshots, err := store.ListNetWorthSnapshots("main", time.Time{})
	assert.Equal(t, nil, err)
	assert.Equal(t, true, 2 <= len(snapshots))
	assert.Equal(t, day1.UnixMilli(), snapshots[0].Bucket.UnixMilli())
	assert.Equal(t, "200", snapshots[0].Value.String())
	assert.Equal(t, "220", snapshots[1].Value.String())
	// the stale price carries forward to the current bucket
	assert.Equal(t, "220", snapshots[len(snapshots)-1].Value.String())
}

func TestTradeMarks(t *testing.T) {
	computer, store, _ := newTestComputer(t)
	ctx := context.Background()

	day1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	insert(t, store, Transaction{Id: "t1", Time: day1, Type: TypeTrade, Asset: "BTC", Amount: dec(t, "1"), Price: dec(t, "100")})
	insert(t, store, Transaction{Id: "t2", Time: day1.Add(time.Hour), Type: TypeTrade, Asset: "BTC", Amount: dec(t, "1"), Price: dec(t, "200")})
	insert(t, store, Transaction{Id: "t3", Time: day1.Add(2 * time.Hour), Type: TypeTrade, Asset: "BTC", Amount: dec(t, "-1"), Price: dec(t, "300")})
	// non-trades never mark
	insert(t, store, Transaction{Id: "t4", Time: day1.Add(3 * time.Hour), Type: TypeDeposit, Asset: "BTC", Amount: dec(t, "1")})

	assert.Equal(t, nil, computer.RecomputeTradeHistory(ctx, "main", time.Time{}))
	assert.Equal(t, nil, computer.RecomputeTradeProfitLoss(ctx, "main", time.Time{}))

	marks, err := store.ListTradeMarks("main", time.Time{})
	assert.Equal(t, nil, err)
	assert.Equal(t, 3, len(marks))

	// average basis after each trade
	assert.Equal(t, "t1", marks[0].TransactionId)
	assert.Equal(t, "100", marks[0].CostBasis.String())
	assert.Equal(t, "0", marks[0].ProfitLoss.String())

	assert.Equal(t, "150", marks[1].CostBasis.String())
	assert.Equal(t, "0", marks[1].ProfitLoss.String())

	// sell of 1 against the 150 average at 300 realizes 150
	assert.Equal(t, "t3", marks[2].TransactionId)
	assert.Equal(t, "150", marks[2].CostBasis.String())
	assert.Equal(t, "150", marks[2].ProfitLoss.String())
}

func TestDetectSpam(t *testing.T) {
	computer, store, _ := newTestComputer(t)
	ctx := context.Background()

	day1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	// free deposit of an asset nothing else touches
	insert(t, store, Transaction{Id: "scam", Time: day1, Type: TypeDeposit, Asset: "SCAM", Amount: dec(t, "9999")})
	// a priced deposit is not free
	insert(t, store, Transaction{Id: "btc", Time: day1, Type: TypeDeposit, Asset: "BTC", Amount: dec(t, "1"), Price: dec(t, "100")})
	// a free deposit of a traded asset is legitimate
	insert(t, store, Transaction{Id: "eth1", Time: day1, Type: TypeDeposit, Asset: "ETH", Amount: dec(t, "5")})
	insert(t, store, Transaction{Id: "eth2", Time: day1.Add(time.Hour), Type: TypeTrade, Asset: "ETH", Amount: dec(t, "1"), Price: dec(t, "50")})

	assert.Equal(t, nil, computer.DetectSpam(ctx, "main"))

	for id, spam := range map[string]bool{
		"scam": true,
		"btc":  false,
		"eth1": false,
		"eth2": false,
	} {
		transaction, err := store.GetTransaction("main", id)
		assert.Equal(t, nil, err)
		assert.Equal(t, spam, transaction.Spam)
	}
}

func TestAutoMergeTransfers(t *testing.T) {
	computer, store, _ := newTestComputer(t)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	// equal legs, different wallets, inside the window
	insert(t, store, Transaction{Id: "w1", Time: base, Type: TypeWithdrawal, Asset: "BTC", Amount: dec(t, "-1"), Wallet: "a"})
	insert(t, store, Transaction{Id: "d1", Time: base.Add(5 * time.Minute), Type: TypeDeposit, Asset: "BTC", Amount: dec(t, "1"), Wallet: "b"})
	// same wallet never merges
	insert(t, store, Transaction{Id: "w2", Time: base, Type: TypeWithdrawal, Asset: "ETH", Amount: dec(t, "-2"), Wallet: "a"})
	insert(t, store, Transaction{Id: "d2", Time: base.Add(time.Minute), Type: TypeDeposit, Asset: "ETH", Amount: dec(t, "2"), Wallet: "a"})
	// outside the window never merges
	insert(t, store, Transaction{Id: "w3", Time: base, Type: TypeWithdrawal, Asset: "LTC", Amount: dec(t, "-3"), Wallet: "a"})
	insert(t, store, Transaction{Id: "d3", Time: base.Add(20 * time.Minute), Type: TypeDeposit, Asset: "LTC", Amount: dec(t, "3"), Wallet: "b"})

	assert.Equal(t, nil, computer.AutoMergeTransfers(ctx, "main"))

	w1, _ := store.GetTransaction("main", "w1")
	d1, _ := store.GetTransaction("main", "d1")
	assert.Equal(t, "d1", w1.MergedId)
	assert.Equal(t, "w1", d1.MergedId)

	for _, id := range []string{"w2", "d2", "w3", "d3"} {
		transaction, _ := store.GetTransaction("main", id)
		assert.Equal(t, "", transaction.MergedId)
	}
}

func TestRefetchPrices(t *testing.T) {
	computer, store, provider := newTestComputer(t)
	ctx := context.Background()

	day1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	insert(t, store, Transaction{Id: "t1", Time: day1, Type: TypeDeposit, Asset: "BTC", Amount: dec(t, "1"), Price: dec(t, "90")})

	provider.series = prices.Series{
		"BTC": []prices.Point{
			{Time: day1, Price: dec(t, "100")},
			{Time: day1.Add(24 * time.Hour), Price: dec(t, "110")},
		},
	}

	assert.Equal(t, nil, computer.RefetchPrices(ctx, "main"))
	assert.Equal(t, 1, provider.calls)

	price, ok, err := store.AssetPriceAt("BTC", day1)
	assert.Equal(t, nil, err)
	assert.Equal(t, true, ok)
	assert.Equal(t, "100", price.String())
	price, _, _ = store.AssetPriceAt("BTC", day1.Add(24*time.Hour))
	assert.Equal(t, "110", price.String())

	// nothing held, nothing fetched
	assert.Equal(t, nil, store.CreateAccount("empty"))
	assert.Equal(t, nil, computer.RefetchPrices(ctx, "empty"))
	assert.Equal(t, 1, provider.calls)
}

func TestRefreshMetadata(t *testing.T) {
	computer, store, _ := newTestComputer(t)
	ctx := context.Background()

	day1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	insert(t, store, Transaction{Id: "t1", Time: day1, Type: TypeDeposit, Asset: "BTC", Amount: dec(t, "1"), Price: dec(t, "90")})

	assert.Equal(t, nil, computer.RefreshMetadata(ctx, "main"))

	value, ok, err := store.GetKeyValue("main", "asset:BTC")
	assert.Equal(t, nil, err)
	assert.Equal(t, true, ok)
	assert.Equal(t, "BTC", value)

	refreshTime, ok, _ := store.GetKeyValue("main", "metadataRefreshTime")
	assert.Equal(t, true, ok)
	_, err = time.Parse(time.RFC3339, refreshTime)
	assert.Equal(t, nil, err)
}

package folio

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/folionet/folio/ledger"
)

// wire shape of one transaction
type TransactionArgs struct {
	Id     string `json:"id,omitempty"`
	Wallet string `json:"wallet,omitempty"`
	// unix milliseconds
	Time   int64  `json:"time"`
	Type   string `json:"type"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
	Fee    string `json:"fee,omitempty"`
	Price  string `json:"price,omitempty"`
	Note   string `json:"note,omitempty"`
}

func (self *TransactionArgs) toTransaction(accountName string) (*ledger.Transaction, error) {
	amount, err := decimal.NewFromString(self.Amount)
	if err != nil {
		return nil, fmt.Errorf("amount: %w", err)
	}
	fee := decimal.Zero
	if self.Fee != "" {
		if fee, err = decimal.NewFromString(self.Fee); err != nil {
			return nil, fmt.Errorf("fee: %w", err)
		}
	}
	price := decimal.Zero
	if self.Price != "" {
		if price, err = decimal.NewFromString(self.Price); err != nil {
			return nil, fmt.Errorf("price: %w", err)
		}
	}
	txType := ledger.TransactionType(self.Type)
	switch txType {
	case ledger.TypeTrade, ledger.TypeDeposit, ledger.TypeWithdrawal, ledger.TypeTransfer:
	default:
		return nil, fmt.Errorf("unknown transaction type: %s", self.Type)
	}
	id := self.Id
	if id == "" {
		id = NewId().String()
	}
	return &ledger.Transaction{
		Id:          id,
		AccountName: accountName,
		Wallet:      self.Wallet,
		Time:        time.UnixMilli(self.Time),
		Type:        txType,
		Asset:       strings.ToUpper(self.Asset),
		Amount:      amount,
		Fee:         fee,
		Price:       price,
		Note:        self.Note,
	}, nil
}

func transactionArgs(transaction *ledger.Transaction) *TransactionArgs {
	return &TransactionArgs{
		Id:     transaction.Id,
		Wallet: transaction.Wallet,
		Time:   transaction.Time.UnixMilli(),
		Type:   string(transaction.Type),
		Asset:  transaction.Asset,
		Amount: transaction.Amount.String(),
		Fee:    transaction.Fee.String(),
		Price:  transaction.Price.String(),
		Note:   transaction.Note,
	}
}

var apiChannels = map[Channel]bool{
	ChannelAccountLifecycle: true,
	ChannelAuditLog:         true,
	ChannelTaskList:         true,
	ChannelTaskProgress:     true,
	ChannelKeyValue:         true,
	ChannelSettings:         true,
	ChannelNotifications:    true,
	ChannelServerFiles:      true,
}

func (self *Server) requireAccount(name string) (*Account, error) {
	if name == "" {
		return nil, fmt.Errorf("account name required")
	}
	account, ok := self.accounts.Get(name)
	if !ok {
		return nil, fmt.Errorf("account not found: %s", name)
	}
	return account, nil
}

// publishAuditLog raises one mutation event on the account's audit-log
// channel. The cascade listens here.
func (self *Server) publishAuditLog(accountName string, cause Cause, timestamp time.Time) {
	self.registry.Publish(accountName, ChannelAuditLog, AuditLogEvent{
		Cause:     cause,
		Timestamp: timestamp,
	})
}

func (self *Server) registerApi() {
	api := self.api

	api.Register("getAccounts", func(ctx context.Context, call *ApiCall) (any, error) {
		return self.store.ListAccounts()
	})

	api.Register("createAccount", func(ctx context.Context, call *ApiCall) (any, error) {
		name, err := DecodeParam[string](call.Params, 0)
		if err != nil {
			return nil, err
		}
		if name == "" {
			return nil, fmt.Errorf("account name required")
		}
		if err := self.store.CreateAccount(name); err != nil {
			return nil, err
		}
		if _, err := self.accounts.Create(name); err != nil {
			return nil, err
		}
		self.registry.Publish("", ChannelAccountLifecycle, AccountLifecycleEvent{
			Cause:       CauseCreated,
			AccountName: name,
		})
		return name, nil
	})

	api.Register("deleteAccount", func(ctx context.Context, call *ApiCall) (any, error) {
		name, err := DecodeParam[string](call.Params, 0)
		if err != nil {
			return nil, err
		}
		if _, err := self.requireAccount(name); err != nil {
			return nil, err
		}
		// subscriptions and jobs go first, then the stored rows
		self.accounts.Destroy(name)
		if err := self.store.DeleteAccount(name); err != nil {
			return nil, err
		}
		self.registry.Publish("", ChannelAccountLifecycle, AccountLifecycleEvent{
			Cause:       CauseDeleted,
			AccountName: name,
		})
		return nil, nil
	})

	api.Register("addTransaction", func(ctx context.Context, call *ApiCall) (any, error) {
		accountName, err := DecodeParam[string](call.Params, 0)
		if err != nil {
			return nil, err
		}
		if _, err := self.requireAccount(accountName); err != nil {
			return nil, err
		}
		args, err := DecodeParam[TransactionArgs](call.Params, 1)
		if err != nil {
			return nil, err
		}
		transaction, err := args.toTransaction(accountName)
		if err != nil {
			return nil, err
		}
		if err := self.store.InsertTransaction(transaction); err != nil {
			return nil, err
		}
		self.publishAuditLog(accountName, CauseCreated, transaction.Time)
		return transaction.Id, nil
	})

	api.Register("updateTransaction", func(ctx context.Context, call *ApiCall) (any, error) {
		accountName, err := DecodeParam[string](call.Params, 0)
		if err != nil {
			return nil, err
		}
		if _, err := self.requireAccount(accountName); err != nil {
			return nil, err
		}
		args, err := DecodeParam[TransactionArgs](call.Params, 1)
		if err != nil {
			return nil, err
		}
		if args.Id == "" {
			return nil, fmt.Errorf("transaction id required")
		}
		previous, err := self.store.GetTransaction(accountName, args.Id)
		if err != nil {
			return nil, err
		}
		transaction, err := args.toTransaction(accountName)
		if err != nil {
			return nil, err
		}
		if err := self.store.UpdateTransaction(transaction); err != nil {
			return nil, err
		}
		// a note-only edit is an update; a value edit dirties both the
		// old and the new position in the log
		cause := CauseUpdated
		timestamp := transaction.Time
		if !previous.Amount.Equal(transaction.Amount) ||
			!previous.Fee.Equal(transaction.Fee) ||
			!previous.Price.Equal(transaction.Price) ||
			previous.Asset != transaction.Asset ||
			previous.Type != transaction.Type ||
			!previous.Time.Equal(transaction.Time) {
			cause = CauseReset
			if previous.Time.Before(timestamp) {
				timestamp = previous.Time
			}
		}
		self.publishAuditLog(accountName, cause, timestamp)
		return nil, nil
	})

	api.Register("deleteTransaction", func(ctx context.Context, call *ApiCall) (any, error) {
		accountName, err := DecodeParam[string](call.Params, 0)
		if err != nil {
			return nil, err
		}
		if _, err := self.requireAccount(accountName); err != nil {
			return nil, err
		}
		id, err := DecodeParam[string](call.Params, 1)
		if err != nil {
			return nil, err
		}
		txTime, err := self.store.DeleteTransaction(accountName, id)
		if err != nil {
			return nil, err
		}
		self.publishAuditLog(accountName, CauseDeleted, txTime)
		return nil, nil
	})

	api.Register("getTransactions", func(ctx context.Context, call *ApiCall) (any, error) {
		accountName, err := DecodeParam[string](call.Params, 0)
		if err != nil {
			return nil, err
		}
		if _, err := self.requireAccount(accountName); err != nil {
			return nil, err
		}
		sinceMs, err := DecodeParam[int64](call.Params, 1)
		if err != nil {
			return nil, err
		}
		transactions, err := self.store.ListTransactions(accountName, time.UnixMilli(sinceMs))
		if err != nil {
			return nil, err
		}
		out := make([]*TransactionArgs, 0, len(transactions))
		for i := range transactions {
			out = append(out, transactionArgs(&transactions[i]))
		}
		return out, nil
	})

	api.Register("importTransactions", func(ctx context.Context, call *ApiCall) (any, error) {
		accountName, err := DecodeParam[string](call.Params, 0)
		if err != nil {
			return nil, err
		}
		if _, err := self.requireAccount(accountName); err != nil {
			return nil, err
		}
		csvData, err := DecodeParam[string](call.Params, 1)
		if err != nil {
			return nil, err
		}
		transactions, err := ledger.ParseCSV(strings.NewReader(csvData), accountName)
		if err != nil {
			return nil, err
		}
		for i := range transactions {
			if err := self.store.InsertTransaction(&transactions[i]); err != nil {
				return nil, err
			}
			// one event per row; the cascade coalesces the burst
			self.publishAuditLog(accountName, CauseCreated, transactions[i].Time)
		}
		return len(transactions), nil
	})

	api.Register("getBalances", func(ctx context.Context, call *ApiCall) (any, error) {
		accountName, err := DecodeParam[string](call.Params, 0)
		if err != nil {
			return nil, err
		}
		if _, err := self.requireAccount(accountName); err != nil {
			return nil, err
		}
		balances, err := self.store.LatestBalances(accountName)
		if err != nil {
			return nil, err
		}
		out := map[string]string{}
		for _, balance := range balances {
			out[balance.Asset] = balance.Amount.String()
		}
		return out, nil
	})

	api.Register("getNetWorth", func(ctx context.Context, call *ApiCall) (any, error) {
		accountName, err := DecodeParam[string](call.Params, 0)
		if err != nil {
			return nil, err
		}
		if _, err := self.requireAccount(accountName); err != nil {
			return nil, err
		}
		fromMs, err := DecodeParam[int64](call.Params, 1)
		if err != nil {
			return nil, err
		}
		snapshots, err := self.store.ListNetWorthSnapshots(accountName, time.UnixMilli(fromMs))
		if err != nil {
			return nil, err
		}
		out := make([]map[string]any, 0, len(snapshots))
		for _, snapshot := range snapshots {
			out = append(out, map[string]any{
				"time":  snapshot.Bucket.UnixMilli(),
				"value": snapshot.Value.String(),
			})
		}
		return out, nil
	})

	api.Register("getTrades", func(ctx context.Context, call *ApiCall) (any, error) {
		accountName, err := DecodeParam[string](call.Params, 0)
		if err != nil {
			return nil, err
		}
		if _, err := self.requireAccount(accountName); err != nil {
			return nil, err
		}
		marks, err := self.store.ListTradeMarks(accountName, time.Time{})
		if err != nil {
			return nil, err
		}
		out := make([]map[string]any, 0, len(marks))
		for _, mark := range marks {
			out = append(out, map[string]any{
				"transactionId": mark.TransactionId,
				"time":          mark.Time.UnixMilli(),
				"asset":         mark.Asset,
				"costBasis":     mark.CostBasis.String(),
				"profitLoss":    mark.ProfitLoss.String(),
			})
		}
		return out, nil
	})

	api.Register("getSetting", func(ctx context.Context, call *ApiCall) (any, error) {
		accountName, err := DecodeParam[string](call.Params, 0)
		if err != nil {
			return nil, err
		}
		key, err := DecodeParam[string](call.Params, 1)
		if err != nil {
			return nil, err
		}
		value, _, err := self.store.GetSetting(accountName, key)
		if err != nil {
			return nil, err
		}
		return value, nil
	})

	api.Register("setSetting", func(ctx context.Context, call *ApiCall) (any, error) {
		accountName, err := DecodeParam[string](call.Params, 0)
		if err != nil {
			return nil, err
		}
		key, err := DecodeParam[string](call.Params, 1)
		if err != nil {
			return nil, err
		}
		value, err := DecodeParam[string](call.Params, 2)
		if err != nil {
			return nil, err
		}
		if err := self.store.SetSetting(accountName, key, value); err != nil {
			return nil, err
		}
		// the scheduler re-arms off this event
		self.registry.Publish(accountName, ChannelSettings, SettingsEvent{
			Key:   key,
			Value: value,
		})
		return nil, nil
	})

	api.Register("getKeyValue", func(ctx context.Context, call *ApiCall) (any, error) {
		accountName, err := DecodeParam[string](call.Params, 0)
		if err != nil {
			return nil, err
		}
		key, err := DecodeParam[string](call.Params, 1)
		if err != nil {
			return nil, err
		}
		value, _, err := self.store.GetKeyValue(accountName, key)
		if err != nil {
			return nil, err
		}
		return value, nil
	})

	api.Register("setKeyValue", func(ctx context.Context, call *ApiCall) (any, error) {
		accountName, err := DecodeParam[string](call.Params, 0)
		if err != nil {
			return nil, err
		}
		key, err := DecodeParam[string](call.Params, 1)
		if err != nil {
			return nil, err
		}
		value, err := DecodeParam[string](call.Params, 2)
		if err != nil {
			return nil, err
		}
		if err := self.store.SetKeyValue(accountName, key, value); err != nil {
			return nil, err
		}
		self.registry.Publish(accountName, ChannelKeyValue, KeyValueEvent{
			Key: key,
		})
		return nil, nil
	})

	api.Register("getNotifications", func(ctx context.Context, call *ApiCall) (any, error) {
		accountName, err := DecodeParam[string](call.Params, 0)
		if err != nil {
			return nil, err
		}
		notifications, err := self.store.ListNotifications(accountName)
		if err != nil {
			return nil, err
		}
		out := make([]map[string]any, 0, len(notifications))
		for _, notification := range notifications {
			out = append(out, map[string]any{
				"id":      notification.Id,
				"message": notification.Message,
				"time":    notification.Time.UnixMilli(),
			})
		}
		return out, nil
	})

	api.Register("addNotification", func(ctx context.Context, call *ApiCall) (any, error) {
		accountName, err := DecodeParam[string](call.Params, 0)
		if err != nil {
			return nil, err
		}
		message, err := DecodeParam[string](call.Params, 1)
		if err != nil {
			return nil, err
		}
		notification := &ledger.Notification{
			Id:          NewId().String(),
			AccountName: accountName,
			Message:     message,
			Time:        time.Now(),
		}
		if err := self.store.InsertNotification(notification); err != nil {
			return nil, err
		}
		notificationId, _ := ParseId(notification.Id)
		self.registry.Publish(accountName, ChannelNotifications, NotificationEvent{
			NotificationId: notificationId,
			Message:        message,
		})
		return notification.Id, nil
	})

	// subscribe(accountName?, channel, callback) -> subscriptionId.
	// the callback is a function reference; every published event on
	// the channel is forwarded through it until unsubscribe or account
	// teardown. the subscription does NOT die with this connection.
	api.Register("subscribe", func(ctx context.Context, call *ApiCall) (any, error) {
		accountName, err := DecodeParam[string](call.Params, 0)
		if err != nil {
			return nil, err
		}
		channelName, err := DecodeParam[string](call.Params, 1)
		if err != nil {
			return nil, err
		}
		channel := Channel(channelName)
		if !apiChannels[channel] {
			return nil, fmt.Errorf("unknown channel: %s", channelName)
		}
		if accountName != "" {
			if _, err := self.requireAccount(accountName); err != nil {
				return nil, err
			}
		}
		callback, err := FuncParam(call.Conn, call.Params, 2)
		if err != nil {
			return nil, err
		}
		if callback == nil {
			return nil, fmt.Errorf("callback required")
		}
		subscriptionId := self.registry.Subscribe(accountName, channel, func(event Event) {
			callback(event)
		})
		return subscriptionId.String(), nil
	})

	api.Register("unsubscribe", func(ctx context.Context, call *ApiCall) (any, error) {
		subscriptionIdStr, err := DecodeParam[string](call.Params, 0)
		if err != nil {
			return nil, err
		}
		graceful, err := DecodeParam[bool](call.Params, 1)
		if err != nil {
			return nil, err
		}
		subscriptionId, err := ParseId(subscriptionIdStr)
		if err != nil {
			return nil, err
		}
		self.registry.Unsubscribe(subscriptionId, graceful)
		return nil, nil
	})

	// refreshPrices starts the refresh passes and returns a cancellation
	// handle as the result. invoking the handle abandons passes that
	// have not started yet.
	api.Register("refreshPrices", func(ctx context.Context, call *ApiCall) (any, error) {
		accountName, err := DecodeParam[string](call.Params, 0)
		if err != nil {
			return nil, err
		}
		account, err := self.requireAccount(accountName)
		if err != nil {
			return nil, err
		}

		cancelCtx, cancel := context.WithCancel(self.ctx)
		run := func(name string, pass func(ctx context.Context, accountName string) error) {
			account.tasks.Enqueue(name, func(taskCtx context.Context) error {
				select {
				case <-cancelCtx.Done():
					return context.Canceled
				default:
				}
				return pass(taskCtx, accountName)
			}, nil)
		}
		run("refetch-prices", self.recomputer.RefetchPrices)
		run("refresh-net-worth", self.recomputer.RefreshNetWorth)

		var cancelFn RemoteFunc = func(params ...any) {
			cancel()
		}
		return cancelFn, nil
	})
}

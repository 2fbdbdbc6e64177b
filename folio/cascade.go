package folio

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
)

// LedgerMarkers exposes the transaction-log boundary markers the cascade
// derives its invalidation window from.
type LedgerMarkers interface {
	EarliestTransactionTime(ctx context.Context, accountName string) (time.Time, bool, error)
	LatestTransactionTime(ctx context.Context, accountName string) (time.Time, bool, error)
}

// RecomputeOps are the ordered recompute passes. They run against
// derived views and must be idempotent; the cascade's job is only to
// trigger them no more often than necessary and in order.
type RecomputeOps interface {
	RecomputeBalances(ctx context.Context, accountName string, from time.Time) error
	RecomputeNetWorth(ctx context.Context, accountName string, from time.Time) error
	RecomputeTradeHistory(ctx context.Context, accountName string, from time.Time) error
	RecomputeTradeProfitLoss(ctx context.Context, accountName string, from time.Time) error
	DetectSpam(ctx context.Context, accountName string) error
	AutoMergeTransfers(ctx context.Context, accountName string) error
	RefreshBalances(ctx context.Context, accountName string) error
	RefetchPrices(ctx context.Context, accountName string) error
	RefreshNetWorth(ctx context.Context, accountName string) error
	RefreshTrades(ctx context.Context, accountName string) error
	RefreshMetadata(ctx context.Context, accountName string) error
}

type CascadeSettings struct {
	// quiesce window, reset on every new audit-log event
	DebounceTimeout time.Duration
	// upper bound on how long a burst can postpone the run
	MaxWaitTimeout time.Duration
	// invalidation floor granularity
	Bucket time.Duration
}

func DefaultCascadeSettings() *CascadeSettings {
	return &CascadeSettings{
		DebounceTimeout: 500 * time.Millisecond,
		MaxWaitTimeout:  5 * time.Second,
		Bucket:          24 * time.Hour,
	}
}

type cascadeState int

const (
	cascadeIdle cascadeState = iota
	cascadePendingDebounce
	cascadeRunning
)

// InvalidationCascade listens on an account's audit-log channel,
// coalesces bursts of mutation events into one oldest-dirty cursor, and
// once quiesced enqueues a fixed ordered sequence of recompute passes
// against that cursor instead of recomputing from scratch.
type InvalidationCascade struct {
	ctx    context.Context
	cancel context.CancelFunc

	accountName string
	registry    *SubscriptionRegistry
	tasks       *TaskRunner
	markers     LedgerMarkers
	ops         RecomputeOps

	settings *CascadeSettings

	stateMutex sync.Mutex
	state      cascadeState
	// oldest dirty transaction time since the last run. zero = none.
	// aggregation is min, never last-write.
	cursor time.Time
	causes map[Cause]bool
	// true once a run has observed the account's genesis marker
	sawGenesis bool

	debounceTimer *time.Timer
	maxWaitTimer  *time.Timer

	subscriptionId Id
}

func NewInvalidationCascadeWithDefaults(
	ctx context.Context,
	accountName string,
	registry *SubscriptionRegistry,
	tasks *TaskRunner,
	markers LedgerMarkers,
	ops RecomputeOps,
) *InvalidationCascade {
	return NewInvalidationCascade(ctx, accountName, registry, tasks, markers, ops, DefaultCascadeSettings())
}

func NewInvalidationCascade(
	ctx context.Context,
	accountName string,
	registry *SubscriptionRegistry,
	tasks *TaskRunner,
	markers LedgerMarkers,
	ops RecomputeOps,
	settings *CascadeSettings,
) *InvalidationCascade {
	cancelCtx, cancel := context.WithCancel(ctx)
	cascade := &InvalidationCascade{
		ctx:         cancelCtx,
		cancel:      cancel,
		accountName: accountName,
		registry:    registry,
		tasks:       tasks,
		markers:     markers,
		ops:         ops,
		settings:    settings,
		state:       cascadeIdle,
		causes:      map[Cause]bool{},
	}

	// an account that already has transactions has already passed its
	// genesis; spam detection and auto-merge only run for the first
	// transactions an account ever sees
	if _, ok, err := markers.EarliestTransactionTime(cancelCtx, accountName); err == nil && ok {
		cascade.sawGenesis = true
	}

	cascade.subscriptionId = registry.Subscribe(accountName, ChannelAuditLog, cascade.onAuditLogEvent)
	return cascade
}

func (self *InvalidationCascade) onAuditLogEvent(event Event) {
	auditEvent, ok := event.Payload.(AuditLogEvent)
	if !ok {
		return
	}

	self.stateMutex.Lock()
	defer self.stateMutex.Unlock()

	select {
	case <-self.ctx.Done():
		return
	default:
	}

	self.causes[auditEvent.Cause] = true
	if !auditEvent.Timestamp.IsZero() {
		if self.cursor.IsZero() || auditEvent.Timestamp.Before(self.cursor) {
			self.cursor = auditEvent.Timestamp
		}
	}

	switch self.state {
	case cascadeIdle:
		self.state = cascadePendingDebounce
		self.debounceTimer = time.AfterFunc(self.settings.DebounceTimeout, self.fire)
		self.maxWaitTimer = time.AfterFunc(self.settings.MaxWaitTimeout, self.fire)
	case cascadePendingDebounce:
		// trailing edge: every new event pushes the debounce out, the
		// max-wait timer keeps its original deadline
		self.debounceTimer.Stop()
		self.debounceTimer = time.AfterFunc(self.settings.DebounceTimeout, self.fire)
	case cascadeRunning:
		// aggregate only. the run's completion re-arms.
	}
}

func (self *InvalidationCascade) stopTimersLocked() {
	if self.debounceTimer != nil {
		self.debounceTimer.Stop()
		self.debounceTimer = nil
	}
	if self.maxWaitTimer != nil {
		self.maxWaitTimer.Stop()
		self.maxWaitTimer = nil
	}
}

func (self *InvalidationCascade) fire() {
	self.stateMutex.Lock()

	if self.state != cascadePendingDebounce {
		// the other timer won the race
		self.stateMutex.Unlock()
		return
	}
	select {
	case <-self.ctx.Done():
		self.stateMutex.Unlock()
		return
	default:
	}

	self.stopTimersLocked()
	self.state = cascadeRunning
	cursor := self.cursor
	causes := self.causes
	self.cursor = time.Time{}
	self.causes = map[Cause]bool{}

	self.stateMutex.Unlock()

	updatedOnly := len(causes) == 1 && causes[CauseUpdated]
	if updatedOnly {
		// pure metadata edits never dirty the derived views
		glog.V(1).Infof("[c]%s updated only, skip\n", self.accountName)
		self.finish(time.Time{}, false, false)
		return
	}

	creation := causes[CauseCreated] || causes[CauseReset]

	self.tasks.Enqueue(
		"cascade",
		func(ctx context.Context) error {
			return self.runPasses(ctx, cursor, creation)
		},
		func(err error) {
			self.finish(cursor, err != nil, err == nil)
		},
	)
}

// runPasses performs one cascade run. Independent passes are still
// attempted when an earlier one fails; the first error is reported so
// the cursor survives for retry.
func (self *InvalidationCascade) runPasses(ctx context.Context, cursor time.Time, creation bool) error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	genesis, hasTransactions, err := self.markers.EarliestTransactionTime(ctx, self.accountName)
	if err != nil {
		return err
	}
	last, _, err := self.markers.LatestTransactionTime(ctx, self.accountName)
	if err != nil {
		return err
	}
	glog.V(1).Infof("[c]%s run cursor=%s genesis=%s last=%s\n", self.accountName, cursor, genesis, last)

	if !cursor.IsZero() || !hasTransactions {
		// floor to the bucket, then step back one bucket, so the view
		// row straddling the cursor is rebuilt too. never later than
		// any event seen since the last run.
		from := time.Time{}
		if !cursor.IsZero() {
			from = cursor.Truncate(self.settings.Bucket).Add(-self.settings.Bucket)
		}
		keep(self.ops.RecomputeBalances(ctx, self.accountName, from))
		keep(self.ops.RecomputeNetWorth(ctx, self.accountName, from))
		keep(self.ops.RecomputeTradeHistory(ctx, self.accountName, from))
		keep(self.ops.RecomputeTradeProfitLoss(ctx, self.accountName, from))
	}

	if hasTransactions && !self.hasSeenGenesis() && creation {
		keep(self.ops.DetectSpam(ctx, self.accountName))
		keep(self.ops.AutoMergeTransfers(ctx, self.accountName))
	}
	if hasTransactions {
		self.setSeenGenesis()
	}

	// refresh passes run regardless of cursor presence. price refetch
	// never runs for deletion-only bursts.
	keep(self.ops.RefreshBalances(ctx, self.accountName))
	if creation {
		keep(self.ops.RefetchPrices(ctx, self.accountName))
	}
	keep(self.ops.RefreshNetWorth(ctx, self.accountName))
	keep(self.ops.RefreshTrades(ctx, self.accountName))

	return firstErr
}

// finish closes one run. On failure the consumed cursor is restored (min
// with anything that arrived during the run) so the dirty range is not
// lost; on success a metadata-changed event is published.
func (self *InvalidationCascade) finish(consumedCursor time.Time, failed bool, publish bool) {
	self.stateMutex.Lock()

	if failed && !consumedCursor.IsZero() {
		if self.cursor.IsZero() || consumedCursor.Before(self.cursor) {
			self.cursor = consumedCursor
		}
	}

	pending := !self.cursor.IsZero() || 0 < len(self.causes)
	if pending {
		self.state = cascadePendingDebounce
		self.debounceTimer = time.AfterFunc(self.settings.DebounceTimeout, self.fire)
		self.maxWaitTimer = time.AfterFunc(self.settings.MaxWaitTimeout, self.fire)
	} else {
		self.state = cascadeIdle
	}
	self.stateMutex.Unlock()

	if publish {
		self.registry.Publish(self.accountName, ChannelKeyValue, KeyValueEvent{
			Key: "metadata",
		})
	}
}

func (self *InvalidationCascade) hasSeenGenesis() bool {
	self.stateMutex.Lock()
	defer self.stateMutex.Unlock()
	return self.sawGenesis
}

func (self *InvalidationCascade) setSeenGenesis() {
	self.stateMutex.Lock()
	defer self.stateMutex.Unlock()
	self.sawGenesis = true
}

func (self *InvalidationCascade) Close() {
	self.registry.Unsubscribe(self.subscriptionId, true)

	self.stateMutex.Lock()
	self.stopTimersLocked()
	self.stateMutex.Unlock()

	self.cancel()
}

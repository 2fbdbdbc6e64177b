package folio

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"golang.org/x/exp/maps"

	"github.com/golang/glog"
)

// default intervals, minutes
const (
	DefaultRefreshIntervalMinutes         = 60
	DefaultMetadataRefreshIntervalMinutes = 24 * 60
	DefaultHealthIntervalMinutes          = 10
)

// SettingsStore reads the user-editable settings that drive the
// scheduler. Account name "" is the process scope.
type SettingsStore interface {
	GetSetting(accountName string, key string) (string, bool, error)
}

// Recomputer is everything the cascade and scheduler need from the
// ledger.
type Recomputer interface {
	LedgerMarkers
	RecomputeOps
}

// Account bundles the per-account mutable state: its serial task queue
// and its invalidation cascade. Scheduled jobs live in the scheduler,
// keyed by the account name.
type Account struct {
	name    string
	tasks   *TaskRunner
	cascade *InvalidationCascade
}

func (self *Account) Tasks() *TaskRunner {
	return self.tasks
}

// AccountManager is the only writer of the per-account registries. It
// owns creation and teardown ordering: on destroy, the account's
// subscriptions are removed before any other resource is released.
type AccountManager struct {
	ctx    context.Context
	cancel context.CancelFunc

	registry   *SubscriptionRegistry
	scheduler  *Scheduler
	recomputer Recomputer
	settings   SettingsStore

	cascadeSettings *CascadeSettings

	stateMutex sync.Mutex
	accounts   map[string]*Account
}

func NewAccountManager(
	ctx context.Context,
	registry *SubscriptionRegistry,
	scheduler *Scheduler,
	recomputer Recomputer,
	settings SettingsStore,
	cascadeSettings *CascadeSettings,
) *AccountManager {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &AccountManager{
		ctx:             cancelCtx,
		cancel:          cancel,
		registry:        registry,
		scheduler:       scheduler,
		recomputer:      recomputer,
		settings:        settings,
		cascadeSettings: cascadeSettings,
		accounts:        map[string]*Account{},
	}
}

func (self *AccountManager) Get(name string) (*Account, bool) {
	self.stateMutex.Lock()
	defer self.stateMutex.Unlock()
	account, ok := self.accounts[name]
	return account, ok
}

func (self *AccountManager) Names() []string {
	self.stateMutex.Lock()
	defer self.stateMutex.Unlock()
	return maps.Keys(self.accounts)
}

// Create wires the account's task queue, cascade, scheduled jobs, and
// the settings listener that re-arms those jobs on change.
func (self *AccountManager) Create(name string) (*Account, error) {
	self.stateMutex.Lock()
	if _, ok := self.accounts[name]; ok {
		self.stateMutex.Unlock()
		return nil, fmt.Errorf("account exists: %s", name)
	}

	tasks := NewTaskRunner(self.ctx, name, self.registry)
	account := &Account{
		name:  name,
		tasks: tasks,
		cascade: NewInvalidationCascade(
			self.ctx,
			name,
			self.registry,
			tasks,
			self.recomputer,
			self.recomputer,
			self.cascadeSettings,
		),
	}
	self.accounts[name] = account
	self.stateMutex.Unlock()

	self.armJobs(account)

	// account scoped, so account teardown removes it with the rest
	self.registry.Subscribe(name, ChannelSettings, func(event Event) {
		settingsEvent, ok := event.Payload.(SettingsEvent)
		if !ok {
			return
		}
		switch settingsEvent.Key {
		case SettingRefreshIntervalMinutes, SettingMetadataRefreshIntervalMinutes:
			self.armJobs(account)
		}
	})

	glog.V(1).Infof("[account]create %s\n", name)
	return account, nil
}

// Destroy tears the account down. Subscription removal comes first so
// no listener observes a half-released account.
func (self *AccountManager) Destroy(name string) {
	self.stateMutex.Lock()
	account, ok := self.accounts[name]
	delete(self.accounts, name)
	self.stateMutex.Unlock()
	if !ok {
		return
	}

	self.registry.RemoveAccount(name)
	self.scheduler.RemoveAccount(name)
	account.cascade.Close()
	account.tasks.Close()

	glog.V(1).Infof("[account]destroy %s\n", name)
}

func (self *AccountManager) Close() {
	for _, name := range self.Names() {
		self.Destroy(name)
	}
	self.cancel()
}

func (self *AccountManager) armJobs(account *Account) {
	refreshMinutes := self.intervalSetting(account.name, SettingRefreshIntervalMinutes, DefaultRefreshIntervalMinutes)
	self.scheduler.Arm(account.name, PurposeValueRefresh, refreshMinutes, func() {
		self.EnqueueValueRefresh(account)
	})

	metadataMinutes := self.intervalSetting(account.name, SettingMetadataRefreshIntervalMinutes, DefaultMetadataRefreshIntervalMinutes)
	self.scheduler.Arm(account.name, PurposeMetadataRefresh, metadataMinutes, func() {
		self.EnqueueMetadataRefresh(account)
	})
}

// EnqueueValueRefresh queues the same ordered recompute passes the
// cascade uses: balances, prices, net worth, trades.
func (self *AccountManager) EnqueueValueRefresh(account *Account) {
	name := account.name
	account.tasks.Enqueue("refresh-balances", func(ctx context.Context) error {
		return self.recomputer.RefreshBalances(ctx, name)
	}, nil)
	account.tasks.Enqueue("refetch-prices", func(ctx context.Context) error {
		return self.recomputer.RefetchPrices(ctx, name)
	}, nil)
	account.tasks.Enqueue("refresh-net-worth", func(ctx context.Context) error {
		return self.recomputer.RefreshNetWorth(ctx, name)
	}, nil)
	account.tasks.Enqueue("refresh-trades", func(ctx context.Context) error {
		return self.recomputer.RefreshTrades(ctx, name)
	}, nil)
}

func (self *AccountManager) EnqueueMetadataRefresh(account *Account) {
	name := account.name
	account.tasks.Enqueue("refresh-metadata", func(ctx context.Context) error {
		return self.recomputer.RefreshMetadata(ctx, name)
	}, nil)
}

func (self *AccountManager) intervalSetting(accountName string, key string, defaultMinutes int) int {
	value, ok, err := self.settings.GetSetting(accountName, key)
	if err != nil {
		glog.Infof("[account]%s setting %s error = %s\n", accountName, key, err)
		return defaultMinutes
	}
	if !ok {
		return defaultMinutes
	}
	minutes, err := strconv.Atoi(value)
	if err != nil {
		glog.Infof("[account]%s setting %s parse error = %s\n", accountName, key, err)
		return defaultMinutes
	}
	return minutes
}

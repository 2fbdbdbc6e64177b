package folio

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

type testSettings struct {
	values map[string]string
}

func (self *testSettings) GetSetting(accountName string, key string) (string, bool, error) {
	value, ok := self.values[accountName+"/"+key]
	return value, ok, nil
}

func newTestAccountManager(t *testing.T) (*AccountManager, *SubscriptionRegistry, *Scheduler, *testRecomputer) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	registry := NewSubscriptionRegistry()
	scheduler := NewScheduler()
	t.Cleanup(scheduler.Close)
	recomputer := newTestRecomputer()

	manager := NewAccountManager(
		ctx,
		registry,
		scheduler,
		recomputer,
		&testSettings{values: map[string]string{}},
		testCascadeSettings(),
	)
	t.Cleanup(manager.Close)
	return manager, registry, scheduler, recomputer
}

func TestAccountManagerCreateAndDestroy(t *testing.T) {
	manager, registry, scheduler, _ := newTestAccountManager(t)

	account, err := manager.Create("main")
	assert.Equal(t, nil, err)
	assert.Equal(t, false, account == nil)

	_, err = manager.Create("main")
	assert.NotEqual(t, nil, err)

	got, ok := manager.Get("main")
	assert.Equal(t, true, ok)
	assert.Equal(t, account, got)

	// cascade audit-log listener plus the settings listener
	assert.Equal(t, 2, registry.SubscriptionCount("main"))
	// value refresh and metadata refresh
	assert.Equal(t, 2, scheduler.JobCount("main"))

	manager.Destroy("main")
	_, ok = manager.Get("main")
	assert.Equal(t, false, ok)
	assert.Equal(t, 0, registry.SubscriptionCount("main"))
	assert.Equal(t, 0, scheduler.JobCount("main"))

	// destroy is idempotent
	manager.Destroy("main")
}

func TestAccountManagerValueRefreshOrder(t *testing.T) {
	manager, _, _, recomputer := newTestAccountManager(t)

	account, err := manager.Create("main")
	assert.Equal(t, nil, err)

	manager.EnqueueValueRefresh(account)

	waitFor(t, func() bool {
		return 0 < recomputer.callCount("refreshTrades")
	})

	recomputer.mutex.Lock()
	defer recomputer.mutex.Unlock()
	assert.Equal(t, []string{
		"refreshBalances",
		"refetchPrices",
		"refreshNetWorth",
		"refreshTrades",
	}, recomputer.calls)
}

func TestAccountManagerSettingsRearm(t *testing.T) {
	manager, registry, scheduler, _ := newTestAccountManager(t)

	_, err := manager.Create("main")
	assert.Equal(t, nil, err)
	assert.Equal(t, 2, scheduler.JobCount("main"))

	// a settings change re-arms without duplicating jobs
	for i := 0; i < 3; i += 1 {
		registry.Publish("main", ChannelSettings, SettingsEvent{
			Key:   SettingRefreshIntervalMinutes,
			Value: "30",
		})
	}
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, scheduler.JobCount("main"))

	// unrelated keys never touch the jobs
	registry.Publish("main", ChannelSettings, SettingsEvent{
		Key:   "favoriteColor",
		Value: "blue",
	})
	assert.Equal(t, 2, scheduler.JobCount("main"))
}

package folio

import (
	"sync"
	"time"

	"golang.org/x/exp/maps"

	"github.com/golang/glog"
)

// Channel is a named event stream. The set is closed; `Publish` and
// `Subscribe` only accept these values.
type Channel string

const (
	ChannelAccountLifecycle Channel = "account-lifecycle"
	ChannelAuditLog         Channel = "audit-log"
	ChannelTaskList         Channel = "task-list"
	ChannelTaskProgress     Channel = "task-progress"
	ChannelKeyValue         Channel = "key-value"
	ChannelSettings         Channel = "settings"
	ChannelNotifications    Channel = "notifications"
	ChannelServerFiles      Channel = "server-files"
)

// Cause classifies a mutation event and determines which recompute steps
// apply downstream.
type Cause string

const (
	CauseCreated Cause = "created"
	CauseUpdated Cause = "updated"
	CauseDeleted Cause = "deleted"
	CauseReset   Cause = "reset"
)

// one payload type per channel

type AccountLifecycleEvent struct {
	Cause       Cause  `json:"cause"`
	AccountName string `json:"accountName"`
}

type AuditLogEvent struct {
	Cause Cause `json:"cause"`
	// the transaction time of the mutated row, not the wall clock
	Timestamp time.Time `json:"timestamp"`
}

type TaskListEvent struct {
	TaskId Id     `json:"taskId"`
	Name   string `json:"name"`
	Done   bool   `json:"done"`
}

type TaskProgressEvent struct {
	TaskId   Id      `json:"taskId"`
	Name     string  `json:"name"`
	Fraction float32 `json:"fraction"`
}

type KeyValueEvent struct {
	Key string `json:"key"`
}

type SettingsEvent struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type NotificationEvent struct {
	NotificationId Id     `json:"notificationId"`
	Message        string `json:"message"`
}

type ServerFilesEvent struct {
	Cause Cause  `json:"cause"`
	Name  string `json:"name"`
}

// Event is what a listener receives. `AccountName` is empty for
// process-scoped events.
type Event struct {
	Channel     Channel `json:"channel"`
	AccountName string  `json:"accountName,omitempty"`
	Payload     any     `json:"payload,omitempty"`
}

type Listener func(event Event)

type subscription struct {
	subscriptionId Id
	accountName    string
	channel        Channel
	listener       Listener
}

// SubscriptionRegistry is the process-wide map of active subscriptions.
// A subscription with an account name attaches to that account's stream;
// one without attaches to the process-wide stream. Fan-out is synchronous
// to the listeners registered at publish time. A listener added during
// fan-out does not see the in-flight event.
type SubscriptionRegistry struct {
	mutex         sync.Mutex
	subscriptions map[Id]*subscription
	// index for account teardown
	accountSubscriptionIds map[string]map[Id]bool
}

func NewSubscriptionRegistry() *SubscriptionRegistry {
	return &SubscriptionRegistry{
		subscriptions:          map[Id]*subscription{},
		accountSubscriptionIds: map[string]map[Id]bool{},
	}
}

func (self *SubscriptionRegistry) Subscribe(accountName string, channel Channel, listener Listener) Id {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	subscriptionId := NewId()
	self.subscriptions[subscriptionId] = &subscription{
		subscriptionId: subscriptionId,
		accountName:    accountName,
		channel:        channel,
		listener:       listener,
	}
	if accountName != "" {
		subscriptionIds, ok := self.accountSubscriptionIds[accountName]
		if !ok {
			subscriptionIds = map[Id]bool{}
			self.accountSubscriptionIds[accountName] = subscriptionIds
		}
		subscriptionIds[subscriptionId] = true
	}
	return subscriptionId
}

// Unsubscribe is idempotent and safe to call during an in-flight publish.
// When not graceful, a missing subscription is logged.
func (self *SubscriptionRegistry) Unsubscribe(subscriptionId Id, graceful bool) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	sub, ok := self.subscriptions[subscriptionId]
	if !ok {
		if !graceful {
			glog.Infof("[sub]unsubscribe missing %s\n", subscriptionId)
		}
		return
	}
	delete(self.subscriptions, subscriptionId)
	if sub.accountName != "" {
		if subscriptionIds, ok := self.accountSubscriptionIds[sub.accountName]; ok {
			delete(subscriptionIds, subscriptionId)
			if len(subscriptionIds) == 0 {
				delete(self.accountSubscriptionIds, sub.accountName)
			}
		}
	}
}

// Publish fans an event out to the listeners currently registered for the
// (account scope, channel) pair.
func (self *SubscriptionRegistry) Publish(accountName string, channel Channel, payload any) {
	listeners := []Listener{}
	self.mutex.Lock()
	for _, sub := range self.subscriptions {
		if sub.accountName == accountName && sub.channel == channel {
			listeners = append(listeners, sub.listener)
		}
	}
	self.mutex.Unlock()

	event := Event{
		Channel:     channel,
		AccountName: accountName,
		Payload:     payload,
	}
	for _, listener := range listeners {
		listener(event)
	}
	glog.V(2).Infof("[sub]publish %s/%s -> %d\n", accountName, channel, len(listeners))
}

// RemoveAccount unsubscribes every subscription scoped to the account.
// Called by the account manager before the account's other resources are
// released.
func (self *SubscriptionRegistry) RemoveAccount(accountName string) {
	self.mutex.Lock()
	subscriptionIds := maps.Keys(self.accountSubscriptionIds[accountName])
	self.mutex.Unlock()

	for _, subscriptionId := range subscriptionIds {
		self.Unsubscribe(subscriptionId, true)
	}
}

func (self *SubscriptionRegistry) SubscriptionCount(accountName string) int {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	if accountName == "" {
		return len(self.subscriptions)
	}
	return len(self.accountSubscriptionIds[accountName])
}

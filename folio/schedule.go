package folio

import (
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/golang/glog"
)

// SchedulePurpose distinguishes the recurring jobs an account can carry.
type SchedulePurpose string

const (
	PurposeValueRefresh    SchedulePurpose = "value-refresh"
	PurposeMetadataRefresh SchedulePurpose = "metadata-refresh"
	// process scoped, keyed with an empty account name
	PurposeServerHealth SchedulePurpose = "server-health"
)

// settings keys driving the jobs
const (
	SettingRefreshIntervalMinutes         = "refreshIntervalMinutes"
	SettingMetadataRefreshIntervalMinutes = "metadataRefreshIntervalMinutes"
	SettingHealthIntervalMinutes          = "healthIntervalMinutes"
)

type scheduleKey struct {
	accountName string
	purpose     SchedulePurpose
}

// ScheduleExpression converts a minutes interval into a standard cron
// expression. The interval is representable only when it evenly divides
// an hour or a day.
func ScheduleExpression(intervalMinutes int) (string, error) {
	if intervalMinutes <= 0 {
		return "", fmt.Errorf("interval must be positive: %d", intervalMinutes)
	}
	if intervalMinutes < 60 {
		if 60%intervalMinutes != 0 {
			return "", fmt.Errorf("interval %dm does not divide an hour", intervalMinutes)
		}
		return fmt.Sprintf("*/%d * * * *", intervalMinutes), nil
	}
	if intervalMinutes%60 != 0 {
		return "", fmt.Errorf("interval %dm does not divide a day", intervalMinutes)
	}
	hours := intervalMinutes / 60
	if 24 < hours || 24%hours != 0 {
		return "", fmt.Errorf("interval %dm does not divide a day", intervalMinutes)
	}
	if hours == 24 {
		return "0 0 * * *", nil
	}
	return fmt.Sprintf("0 */%d * * *", hours), nil
}

// Scheduler holds at most one recurring job per (account, purpose).
// Arming an existing key always stops the previous timer first.
type Scheduler struct {
	cron *cron.Cron

	stateMutex sync.Mutex
	entries    map[scheduleKey]cron.EntryID
}

func NewScheduler() *Scheduler {
	scheduler := &Scheduler{
		cron:    cron.New(),
		entries: map[scheduleKey]cron.EntryID{},
	}
	scheduler.cron.Start()
	return scheduler
}

// Arm builds the job from the interval. An interval that cannot be
// expressed as a schedule leaves the job un-armed and is logged, never
// surfaced to the caller's caller.
func (self *Scheduler) Arm(accountName string, purpose SchedulePurpose, intervalMinutes int, fire func()) error {
	expression, err := ScheduleExpression(intervalMinutes)
	if err != nil {
		self.Disarm(accountName, purpose)
		glog.Infof("[s]%s/%s arm error = %s\n", accountName, purpose, err)
		return err
	}

	self.stateMutex.Lock()
	defer self.stateMutex.Unlock()

	key := scheduleKey{
		accountName: accountName,
		purpose:     purpose,
	}
	if entryId, ok := self.entries[key]; ok {
		self.cron.Remove(entryId)
		delete(self.entries, key)
	}

	entryId, err := self.cron.AddFunc(expression, fire)
	if err != nil {
		glog.Infof("[s]%s/%s arm error = %s\n", accountName, purpose, err)
		return err
	}
	self.entries[key] = entryId
	glog.V(1).Infof("[s]%s/%s armed %s\n", accountName, purpose, expression)
	return nil
}

func (self *Scheduler) Disarm(accountName string, purpose SchedulePurpose) {
	self.stateMutex.Lock()
	defer self.stateMutex.Unlock()

	key := scheduleKey{
		accountName: accountName,
		purpose:     purpose,
	}
	if entryId, ok := self.entries[key]; ok {
		self.cron.Remove(entryId)
		delete(self.entries, key)
	}
}

// RemoveAccount stops and discards every job keyed to the account.
func (self *Scheduler) RemoveAccount(accountName string) {
	self.stateMutex.Lock()
	defer self.stateMutex.Unlock()

	for key, entryId := range self.entries {
		if key.accountName == accountName {
			self.cron.Remove(entryId)
			delete(self.entries, key)
		}
	}
}

func (self *Scheduler) JobCount(accountName string) int {
	self.stateMutex.Lock()
	defer self.stateMutex.Unlock()

	count := 0
	for key := range self.entries {
		if key.accountName == accountName {
			count += 1
		}
	}
	return count
}

func (self *Scheduler) Close() {
	self.cron.Stop()
}

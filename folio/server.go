package folio

import (
	"context"
	"strconv"
	"time"

	"github.com/folionet/folio/ledger"

	"github.com/golang/glog"
)

type ServerSettings struct {
	// directory served by the protected file endpoints
	FilesDir string
	TokenTtl time.Duration

	ConnectionSettings *ConnectionSettings
	CascadeSettings    *CascadeSettings
}

func DefaultServerSettings() *ServerSettings {
	return &ServerSettings{
		FilesDir:           "files",
		TokenTtl:           30 * 24 * time.Hour,
		ConnectionSettings: DefaultConnectionSettings(),
		CascadeSettings:    DefaultCascadeSettings(),
	}
}

// Server is the single-process, multi-account reactive core. One
// instance owns the subscription registry, the scheduler and the
// account manager; connections come and go on top of it.
type Server struct {
	ctx    context.Context
	cancel context.CancelFunc

	store      ledger.Store
	recomputer Recomputer

	gate      *Gate
	api       *Api
	registry  *SubscriptionRegistry
	scheduler *Scheduler
	accounts  *AccountManager
	metrics   *Metrics

	connectionSettings *ConnectionSettings
	settings           *ServerSettings
}

func NewServerWithDefaults(ctx context.Context, store ledger.Store, recomputer Recomputer) (*Server, error) {
	return NewServer(ctx, store, recomputer, DefaultServerSettings())
}

func NewServer(ctx context.Context, store ledger.Store, recomputer Recomputer, settings *ServerSettings) (*Server, error) {
	cancelCtx, cancel := context.WithCancel(ctx)

	registry := NewSubscriptionRegistry()
	scheduler := NewScheduler()

	server := &Server{
		ctx:        cancelCtx,
		cancel:     cancel,
		store:      store,
		recomputer: recomputer,
		gate: NewGate(func() []byte {
			_, secret, ok, err := store.Auth()
			if err != nil || !ok {
				return nil
			}
			return secret
		}),
		api:                NewApi(),
		registry:           registry,
		scheduler:          scheduler,
		metrics:            NewMetrics(),
		connectionSettings: settings.ConnectionSettings,
		settings:           settings,
	}
	server.accounts = NewAccountManager(
		cancelCtx,
		registry,
		scheduler,
		recomputer,
		store,
		settings.CascadeSettings,
	)

	accountNames, err := store.ListAccounts()
	if err != nil {
		server.Close()
		return nil, err
	}
	for _, name := range accountNames {
		if _, err := server.accounts.Create(name); err != nil {
			server.Close()
			return nil, err
		}
	}

	server.armHealthJob()
	// process scoped settings listener for the health interval
	registry.Subscribe("", ChannelSettings, func(event Event) {
		settingsEvent, ok := event.Payload.(SettingsEvent)
		if !ok {
			return
		}
		if settingsEvent.Key == SettingHealthIntervalMinutes {
			server.armHealthJob()
		}
	})

	server.registerApi()

	glog.V(1).Infof("[server]up with %d accounts\n", len(accountNames))
	return server, nil
}

func (self *Server) armHealthJob() {
	minutes := DefaultHealthIntervalMinutes
	if value, ok, err := self.store.GetSetting("", SettingHealthIntervalMinutes); err == nil && ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			minutes = parsed
		}
	}
	self.scheduler.Arm("", PurposeServerHealth, minutes, func() {
		self.metrics.Sample(len(self.accounts.Names()))
	})
}

func (self *Server) Registry() *SubscriptionRegistry {
	return self.registry
}

func (self *Server) Gate() *Gate {
	return self.gate
}

func (self *Server) Close() {
	self.accounts.Close()
	self.scheduler.Close()
	self.cancel()
}

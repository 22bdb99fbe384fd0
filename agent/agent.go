package agent

import (
	"context"
	"sync"
	"time"

	"github.com/waflow/flowd/config"
	"github.com/waflow/flowd/dispatch"
	"github.com/waflow/flowd/engine"
	"github.com/waflow/flowd/flowcache"
	"github.com/waflow/flowd/gateway/whatsapp"
	"github.com/waflow/flowd/logger"
	"github.com/waflow/flowd/model"
	"github.com/waflow/flowd/persistence"
	"github.com/waflow/flowd/persistence/memory"
	"github.com/waflow/flowd/persistence/redis"
	"github.com/waflow/flowd/rest"
	"github.com/waflow/flowd/scheduler"
)

type Agent struct {
	Config       config.Config
	storage      persistence.Storage
	flows        *flowcache.Cache
	engine       *engine.Engine
	dispatcher   *dispatch.Dispatcher
	poller       *scheduler.Poller
	httpServer   *rest.Server
	shutdown     bool
	shutdownLock sync.Mutex
	wg           sync.WaitGroup
}

func New(conf config.Config) (*Agent, error) {
	a := &Agent{
		Config: conf,
	}
	setup := []func() error{
		a.setupStorage,
		a.setupEngine,
		a.setupDispatcher,
		a.setupPoller,
		a.setupHttpServer,
	}
	for _, fn := range setup {
		if err := fn(); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *Agent) setupStorage() error {
	switch a.Config.StorageType {
	case config.STORAGE_TYPE_MEMORY:
		a.storage = memory.NewMemoryStorage()
	default:
		a.storage = redis.NewRedisStorage(redis.Config{
			Addrs:     a.Config.RedisConfig.Addrs,
			Namespace: a.Config.RedisConfig.Namespace,
		})
	}
	a.flows = flowcache.New(a.storage.FlowDao(), time.Duration(a.Config.FlowCacheSeconds)*time.Second)
	return nil
}

func (a *Agent) setupEngine() error {
	gw := whatsapp.NewClient(whatsapp.Config{
		BaseUrl:       a.Config.WhatsAppConfig.BaseUrl,
		PhoneNumberId: a.Config.WhatsAppConfig.PhoneNumberId,
		AccessToken:   a.Config.WhatsAppConfig.AccessToken,
	})
	a.engine = engine.NewEngine(a.storage, gw, a.flows, time.Duration(a.Config.ApiCallTimeoutSeconds)*time.Second)
	return nil
}

func (a *Agent) setupDispatcher() error {
	a.dispatcher = dispatch.NewDispatcher(a.Config.DispatcherWorkers, a.Config.DispatcherCapacity, a.handleEvent, &a.wg)
	a.dispatcher.Start()
	return nil
}

func (a *Agent) handleEvent(ctx context.Context, event model.InboundEvent) error {
	if event.Type == model.EVENT_TYPE_TIMER {
		return a.engine.HandleTimer(ctx, model.DelayFiredMessage{
			ExecutionId:    event.ExecutionId,
			ConversationId: event.ConversationId,
			NodeId:         event.NodeId,
		})
	}
	return a.engine.HandleInbound(ctx, event)
}

func (a *Agent) setupPoller() error {
	if err := a.engine.RecoverDelays(context.Background()); err != nil {
		return err
	}
	interval := time.Duration(a.Config.DelayPollSeconds) * time.Second
	if interval <= 0 {
		interval = time.Second
	}
	a.poller = scheduler.NewPoller(a.storage.DelayQueue(), interval, a.dispatcher.Submit, &a.wg)
	a.poller.Start()
	return nil
}

func (a *Agent) setupHttpServer() error {
	var err error
	a.httpServer, err = rest.NewServer(a.Config.HttpPort, a.storage, a.flows, a.dispatcher, a.Config.WhatsAppConfig.VerifyToken)
	if err != nil {
		return err
	}
	return nil
}

func (a *Agent) Start() error {
	go func() {
		if err := a.httpServer.Start(); err != nil {
			_ = a.Shutdown()
			panic(err)
		}
	}()
	return nil
}

func (a *Agent) Shutdown() error {
	logger.Info("shutting down server")
	a.shutdownLock.Lock()
	defer a.shutdownLock.Unlock()
	if a.shutdown {
		return nil
	}
	a.shutdown = true

	shutdown := []func() error{
		a.httpServer.Stop,
		func() error {
			a.poller.Stop()
			return nil
		},
		func() error {
			a.dispatcher.Stop()
			return nil
		},
	}
	for _, fn := range shutdown {
		if err := fn(); err != nil {
			return err
		}
	}
	logger.Info("waiting for all services to shutdown...")
	a.wg.Wait()
	return nil
}

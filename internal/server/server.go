// Package server wires every component into one running process: config,
// storage, the host driver, every manager, both transports and the
// metrics endpoint, then owns their shutdown in reverse dependency order.
package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/AutoFlowLabs/ios-bridge/internal/auth"
	"github.com/AutoFlowLabs/ios-bridge/internal/capture"
	"github.com/AutoFlowLabs/ios-bridge/internal/config"
	"github.com/AutoFlowLabs/ios-bridge/internal/connmgr"
	"github.com/AutoFlowLabs/ios-bridge/internal/eventbus"
	"github.com/AutoFlowLabs/ios-bridge/internal/hostdriver"
	"github.com/AutoFlowLabs/ios-bridge/internal/metrics"
	"github.com/AutoFlowLabs/ios-bridge/internal/recording"
	"github.com/AutoFlowLabs/ios-bridge/internal/resourcemgr"
	"github.com/AutoFlowLabs/ios-bridge/internal/sessionmgr"
	"github.com/AutoFlowLabs/ios-bridge/internal/store"
	"github.com/AutoFlowLabs/ios-bridge/internal/transport/rest"
	"github.com/AutoFlowLabs/ios-bridge/internal/transport/ws"
)

// Server owns every long-lived component and the HTTP listeners in front
// of them.
type Server struct {
	cfg *config.AppConfig
	log *logrus.Entry

	store     *store.Store
	driver    *hostdriver.Driver
	sessions  *sessionmgr.Manager
	resources *resourcemgr.Manager
	conns     *connmgr.Manager
	broker    eventbus.Broker
	recorder  *recording.Recorder
	authV     *auth.Validator
	redis     *redis.Client

	httpSrv *http.Server
}

// New constructs every component against cfg without starting anything.
// A non-nil error here means a configuration or state-directory problem —
// the caller is expected to translate that into the exit codes spec.md §6
// names (2 for bad config, 3 for an unusable state dir, 4 for a missing
// host driver binary).
func New(cfg *config.AppConfig, log *logrus.Entry) (*Server, error) {
	st, err := store.New(cfg.State.Dir, cfg.State.BackupRetentionCount, log)
	if err != nil {
		return nil, err
	}

	driver := hostdriver.New(cfg.HostDriver.Binary, log)
	if err := driver.Available(); err != nil {
		return nil, err
	}

	resources := resourcemgr.New(driver, resourcemgr.Config{
		MaxMemoryMB:         cfg.Resource.MaxMemoryMB,
		MemoryCheckInterval: time.Duration(cfg.Resource.MemoryCheckIntervalSecs) * time.Second,
		ServiceIdleTimeout:  time.Duration(cfg.Resource.ServiceIdleTimeoutSecs) * time.Second,
		Capture: capture.Config{
			FramePushQueueSize:       cfg.Capture.FramePushQueueSize,
			UltraLowLatencyQueueSize: cfg.Capture.UltraLowLatencyQueueSize,
			WebRTCQueueSize:          cfg.Capture.WebRTCQueueSize,
		},
	}, log)

	broker, err := eventbus.New(eventbus.Config{
		Type: cfg.EventBus.Type,
		Redis: eventbus.RedisSettings{
			Address:  cfg.EventBus.Redis.Address,
			Password: cfg.EventBus.Redis.Password,
			DB:       cfg.EventBus.Redis.DB,
			Channel:  cfg.EventBus.Redis.Channel,
		},
		Kafka: eventbus.KafkaSettings{
			Brokers: cfg.EventBus.Kafka.Brokers,
			GroupID: cfg.EventBus.Kafka.GroupID,
			Topic:   cfg.EventBus.Kafka.Topic,
		},
	}, log)
	if err != nil {
		return nil, err
	}

	// eventChannel resolves to whichever channel/topic name applies to the
	// configured backend; it is unused when Type is "none".
	var eventChannel string
	switch cfg.EventBus.Type {
	case "redis":
		eventChannel = cfg.EventBus.Redis.Channel
	case "kafka":
		eventChannel = cfg.EventBus.Kafka.Topic
	}

	sessions := sessionmgr.New(driver, st, resources, broker, eventChannel, log)

	conns := connmgr.New(connmgr.Config{
		MaxPerSession:   cfg.Connection.MaxPerSession,
		MaxPerMinute:    cfg.Connection.MaxPerMinute,
		RateLimitWindow: time.Duration(cfg.Connection.RateLimitWindowSecs) * time.Second,
		ReapInterval:    time.Duration(cfg.State.ConnectionCleanupSecs) * time.Second,
	}, log)

	rec, err := recording.New(recording.WrapDriver(driver), recording.Config{
		ScratchDir:      cfg.State.Dir + "/recordings",
		EmergencyDir:    cfg.State.Dir + "/recordings/_emergency",
		StopGrace:       time.Duration(cfg.Recording.StopGraceSecs) * time.Second,
		EmergencyGrace:  time.Duration(cfg.Recording.EmergencyGraceSecs) * time.Second,
		EmergencyMaxAge: time.Duration(cfg.Recording.EmergencyMaxAgeDays) * 24 * time.Hour,
	}, broker, eventChannel, log)
	if err != nil {
		return nil, err
	}

	var redisClient *redis.Client
	var validator *auth.Validator
	if cfg.Auth.Enabled {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Auth.RedisAddress})
		validator = auth.NewValidator(cfg.Auth, redisClient)
	}

	return &Server{
		cfg:       cfg,
		log:       log,
		store:     st,
		driver:    driver,
		sessions:  sessions,
		resources: resources,
		conns:     conns,
		broker:    broker,
		recorder:  rec,
		authV:     validator,
		redis:     redisClient,
	}, nil
}

// Start reconciles session state, launches every background loop, mounts
// both transports onto one gin.Engine, and begins serving. It returns
// immediately; the listener runs in the background until Shutdown.
func (s *Server) Start(ctx context.Context) error {
	if err := s.sessions.Start(ctx); err != nil {
		return err
	}
	s.resources.Start(ctx)
	s.conns.StartReaper(ctx.Done())

	if s.cfg.Metrics.Enabled {
		metrics.StartServer(s.cfg.Metrics.Port, s.cfg.Metrics.Path)
	}

	router := rest.NewRouter(rest.Deps{
		Sessions:  s.sessions,
		Driver:    s.driver,
		Recorder:  s.recorder,
		Stats:     s.stats,
		Auth:      s.authV,
		AuthCfg:   s.cfg.Auth,
		UploadDir: s.cfg.State.Dir + "/uploads",
		Log:       s.log,
	})
	ws.RegisterRoutes(router, ws.Deps{
		Sessions:        s.sessions,
		Driver:          s.driver,
		Resources:       s.resources,
		Connections:     s.conns,
		Auth:            s.authV,
		AuthCfg:         s.cfg.Auth,
		WSCfg:           s.cfg.WebSocket,
		FramePopTimeout: time.Duration(s.cfg.Capture.ConsumerPopTimeoutMS) * time.Millisecond,
		UltraPopTimeout: time.Duration(s.cfg.Capture.UltraLowLatencyPopTimeoutMS) * time.Millisecond,
		Log:             s.log,
	})

	addr := s.cfg.Server.BindHost + ":" + strconv.Itoa(s.cfg.Server.BindPort)
	s.httpSrv = &http.Server{Addr: addr, Handler: router}

	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Fatal("server listener failed")
		}
	}()
	s.log.Infof("ios-bridge control plane listening on %s", addr)
	return nil
}

// Shutdown tears everything down in reverse dependency order: stop
// accepting new connections, let capture services drain, emergency-save
// any in-progress recordings, close the broker and the auth Redis client.
func (s *Server) Shutdown(ctx context.Context) {
	if s.httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			s.log.WithError(err).Warn("http server shutdown did not complete cleanly")
		}
	}

	s.resources.Stop()
	s.recorder.EmergencySaveAll()

	if s.broker != nil {
		if err := s.broker.Close(); err != nil {
			s.log.WithError(err).Warn("event bus close failed")
		}
	}
	if s.redis != nil {
		_ = s.redis.Close()
	}
}

func (s *Server) stats() rest.Stats {
	rs := s.resources.Stats()
	cs := s.conns.Stats()
	sessions, _ := s.sessions.List(context.Background())
	return rest.Stats{
		SessionCount:    len(sessions),
		ServiceCount:    rs.ServiceCount,
		ClientCount:     rs.ClientCount,
		TotalDrops:      rs.TotalDrops,
		MemoryPercent:   rs.MemoryPercent,
		Connections:     cs.TotalConnections,
		EventBusHealthy: s.broker != nil,
	}
}

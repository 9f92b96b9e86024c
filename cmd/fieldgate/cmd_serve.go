package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mgodb "fieldgate/data/database/mgo"
	"fieldgate/data/database/mgo/mongoutil"
	"fieldgate/data/database/pg"
	"fieldgate/global/config"
	"fieldgate/logger"
	"fieldgate/middleware"
	"fieldgate/middleware/security"
	chatmod "fieldgate/module/chat"
	"fieldgate/module/dashboard"
	"fieldgate/module/identity"
	"fieldgate/module/invalidation"
	"fieldgate/module/model"
	"fieldgate/service/chat"
	"fieldgate/service/chat/handlers"
	"fieldgate/service/fanout"
	"fieldgate/service/health"
	"fieldgate/service/kafka"
	"fieldgate/service/mgo"
	"fieldgate/service/natsx"
	"fieldgate/service/objstore"
	"fieldgate/service/storage"
	redisx "fieldgate/service/storage/redis"
	"fieldgate/tools/ids"
	"fieldgate/tools/safe"
	toolsec "fieldgate/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

const (
	healthService   = "fieldgate.Gateway"
	healthEvery     = 10 * time.Second
	mongoReadyWait  = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

func newServeCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		Long:  "Serve WebSocket sessions on /ws, chat history on /api/chat/:workerId/messages,\n/healthz over HTTP and grpc.health.v1 on the gRPC port.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

// bridgeTransport carries the alert/dashboard channels and, with relay on,
// the room events of peer instances.
type bridgeTransport interface {
	fanout.Source
	fanout.Sink
}

// connectedTransport is implemented by the broker transports that keep
// their own connection.
type connectedTransport interface {
	Connected() bool
}

func openTransport(cfg *config.AppConfig, coord *storage.Coord, channels []string) (bridgeTransport, func(), error) {
	switch cfg.Bridge.Transport {
	case config.BridgeNats:
		t, err := natsx.NewTransport(natsx.NatsxConfig{
			Servers: cfg.Nats.Servers,
			Name:    cfg.Nats.Name,
			User:    cfg.Nats.User,
			Pass:    cfg.Nats.Pass,
		}, channels)
		if err != nil {
			return nil, nil, errors.Wrap(err, "nats transport")
		}
		return t, func() { _ = t.Close() }, nil
	case config.BridgeKafka:
		t, err := kafka.NewTransport(kafka.Config{
			Brokers:             cfg.Kafka.Brokers,
			Topic:               cfg.Kafka.Topic,
			NodeID:              cfg.NodeID,
			Version:             cfg.Kafka.Version,
			ProducerCompression: cfg.Kafka.Compression,
			PartitionsPerTopic:  cfg.Kafka.Partitions,
			ReplicationFactor:   cfg.Kafka.ReplicationFactor,
			AutoCreateTopic:     cfg.Kafka.AutoCreateTopic,
		}, channels)
		if err != nil {
			return nil, nil, err
		}
		return t, func() { _ = t.Close() }, nil
	}
	return fanout.NewRedisTransport(coord, channels), func() {}, nil
}

// serve wires the gateway and blocks until ctx is cancelled or a listener
// fails.
func serve(ctx context.Context, cfg *config.AppConfig) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// 1) coordination store + durable store
	rdb, err := redisx.NewClient(ctx, redisx.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err != nil {
		return err
	}
	defer rdb.Close()
	coord := storage.NewCoord(rdb)

	pool, err := pg.NewPool(ctx, pg.Config{URL: cfg.Postgres.URL, MaxConns: cfg.Postgres.MaxConns})
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := pg.Migrate(ctx, pool); err != nil {
		return err
	}
	store := pg.NewStore(pool)

	checks := health.New(healthService)
	checks.Add("redis", coord.Ping)
	checks.Add("postgres", store.Ping)

	var repo chatmod.MessageRepo = store
	if cfg.Chat.Store == config.ChatStoreMongo {
		mm := mgo.NewManager(&mongoutil.Config{
			Uri:         cfg.Mongo.URI,
			Database:    cfg.Mongo.Database,
			Username:    cfg.Mongo.Username,
			Password:    cfg.Mongo.Password,
			MaxPoolSize: cfg.Mongo.MaxPoolSize,
			MaxRetry:    cfg.Mongo.MaxRetry,
		})
		mm.StartAsync(ctx)
		waitCtx, stopWait := context.WithTimeout(ctx, mongoReadyWait)
		err := mm.WaitReady(waitCtx)
		stopWait()
		if err != nil {
			return errors.Wrap(err, "mongo not ready")
		}
		msgs := mgodb.NewMessageStore(mm)
		if err := msgs.EnsureIndexes(ctx); err != nil {
			return err
		}
		repo = msgs
		checks.Add("mongo", mm.Ping)
	}

	// 2) identity + attachments
	verifier := identity.NewVerifier(identity.Config{
		Token: toolsec.Options{
			Secret: []byte(cfg.Auth.Secret),
			Alg:    cfg.Auth.Alg,
			Leeway: cfg.Auth.Leeway,
		},
		CacheTTL:      cfg.Auth.VersionTTL,
		DefaultClient: cfg.Auth.DefaultClient,
	}, coord, store)

	var attachments *chatmod.AttachmentResolver
	if cfg.ObjectStore.Secret != "" {
		signer, err := objstore.NewSigner(objstore.Config{
			BaseURL: cfg.ObjectStore.BaseURL,
			Secret:  []byte(cfg.ObjectStore.Secret),
		})
		if err != nil {
			return err
		}
		attachments = chatmod.NewAttachmentResolver(signer, coord, cfg.ObjectStore.URLTTL, cfg.ObjectStore.CacheTTL)
	} else {
		logger.Warn("[serve] object store not configured, attachment urls disabled")
	}

	// 3) websocket server, fanout, handler sets
	srv := chat.NewServer(ctx, chat.Config{
		NodeID: cfg.NodeID,
		Conn: chat.ConnConf{
			SendQueue:    cfg.Server.SendQueue,
			PingInterval: cfg.Server.PingInterval,
			PongWait:     cfg.Server.PongWait,
			WriteWait:    cfg.Server.WriteWait,
			ReadLimit:    cfg.Server.ReadLimit,
		},
		Manager: chat.ManagerConf{
			MaxPerUser:  cfg.Server.MaxConnsPerUser,
			EvictOldest: cfg.Server.EvictOldest,
		},
	}, verifier)

	transport, closeTransport, err := openTransport(cfg, coord, fanout.Channels(cfg.Bridge.Relay))
	if err != nil {
		return err
	}
	defer closeTransport()
	if ct, ok := transport.(connectedTransport); ok {
		name := cfg.Bridge.Transport
		checks.Add(name, func(context.Context) error {
			if !ct.Connected() {
				return errors.Errorf("%s disconnected", name)
			}
			return nil
		})
	}

	var relay fanout.Sink
	if cfg.Bridge.Relay {
		relay = transport
	}
	emit := fanout.NewBroadcaster(srv.Rooms(), relay, cfg.NodeID)

	svc := chatmod.NewService(chatmod.Config{
		LockTTL:        cfg.Chat.LockTTL,
		MaxAttachments: cfg.Chat.MaxAttachments,
		HistoryLimit:   cfg.Chat.HistoryLimit,
	}, repo, coord, attachments, emit, ids.NewGenerator(cfg.Server.SnowflakeID))
	dash := dashboard.NewAggregator(store, store, coord)
	poller := invalidation.NewPoller(coord, invalidation.Config{
		Block:    cfg.Poller.Block,
		Backoff:  cfg.Poller.Backoff,
		LookBack: cfg.Poller.LookBack,
	})

	srv.UseRole(model.KindOperator, handlers.NewOperatorSet(srv.Rooms(), dash))
	srv.UseRole(model.KindWorker, handlers.NewWorkerSet(srv.Rooms(), poller))
	srv.UseCommon(handlers.NewConversationSet(svc))
	srv.UseCommon(handlers.NewPresenceSet(coord, emit, cfg.NodeID, cfg.Server.PresenceTTL))

	bridge := fanout.NewBridge(srv.Rooms(), transport, cfg.NodeID)
	safe.Go("fanout-bridge", func() {
		if err := bridge.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("[serve] bridge stopped", zap.Error(err))
		}
	})

	// 4) listeners
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), middleware.AccessLog(), middleware.Origin(cfg.Server.AllowOrigins))
	engine.GET("/healthz", checks.Handler())
	srv.Register(engine)
	middleware.GET(engine, "/api/chat/:workerId/messages", handlers.History(svc),
		middleware.RouteOpt{Auth: security.Middleware(verifier, nil)})
	middleware.GET(engine, "/api/presence/:workerId", handlers.PresenceQuery(coord),
		middleware.RouteOpt{Auth: security.Middleware(verifier, nil)})

	errCh := make(chan error, 2)
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	safe.Go("http", func() {
		logger.Info("[HTTP] listening", zap.String("addr", httpSrv.Addr), zap.String("node", cfg.NodeID))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- errors.Wrap(err, "http")
		}
	})

	var gs *grpc.Server
	if cfg.Server.GrpcPort > 0 {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GrpcPort))
		if err != nil {
			return errors.Wrap(err, "grpc listen")
		}
		gs = grpc.NewServer()
		checks.RegisterGRPC(gs)
		safe.Go("grpc", func() {
			logger.Info("[gRPC] listening", zap.String("addr", lis.Addr().String()))
			if err := gs.Serve(lis); err != nil {
				errCh <- errors.Wrap(err, "grpc")
			}
		})
	}
	safe.Go("health-watch", func() { checks.Watch(ctx, healthEvery) })

	// 5) wait, then drain in reverse order
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("[serve] shutting down")
	case runErr = <-errCh:
		logger.Error("[serve] listener failed", zap.Error(runErr))
	}

	checks.Shutdown()
	srv.Shutdown()
	shutdownCtx, stopShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stopShutdown()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("[serve] http shutdown", zap.Error(err))
	}
	if gs != nil {
		gs.GracefulStop()
	}
	cancel()
	return runErr
}

// Package app собирает сервис исполнения заказов: хранилища, движок,
// gRPC и REST транспорты, outbox, Kafka и фоновые задачи.
package app

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	healthcheck "github.com/vladislavdragonenkov/fulfillment/internal/health"
	"github.com/vladislavdragonenkov/fulfillment/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/fulfillment/internal/metrics"
	grpcsvc "github.com/vladislavdragonenkov/fulfillment/internal/service/grpc"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/httpapi"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/idempotency"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/outbox"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/workflow"
	"github.com/vladislavdragonenkov/fulfillment/internal/version"
)

// App — собранный, но ещё не запущенный сервис.
type App struct {
	cfg    Config
	logger *log.Entry

	registry *prometheus.Registry
	deps     *Dependencies
	engine   *workflow.Engine
	guard    *idempotency.Guard

	grpcServer    *grpc.Server
	grpcHealth    *health.Server
	httpServer    *http.Server
	metricsServer *http.Server

	grpcListener    net.Listener
	httpListener    net.Listener
	metricsListener net.Listener

	outboxWorker  *outbox.Worker
	cleanupWorker *idempotency.CleanupWorker
	producer      *kafka.Producer
	consumer      *kafka.Consumer
}

// Run собирает приложение и работает до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	a, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}

// New создаёт зависимости и занимает порты. При ошибке всё уже открытое закрывается.
func New(ctx context.Context, cfg Config) (_ *App, err error) {
	a := &App{
		cfg:      cfg,
		logger:   log.WithField("component", "app"),
		registry: prometheus.NewRegistry(),
	}
	defer func() {
		if err != nil {
			a.closeResources()
		}
	}()

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a.deps, err = NewDependencies(ctx, cfg, a.logger)
	if err != nil {
		return nil, err
	}

	a.engine, err = workflow.NewEngine(a.deps.Orders, a.deps.Catalog,
		workflow.WithLogger(log.WithField("component", "workflow")),
		workflow.WithMetrics(metrics.NewWorkflowMetricsWithRegisterer(a.registry)),
		workflow.WithTimeline(a.deps.Timeline),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create workflow engine")
	}

	idempotencyMetrics := metrics.NewIdempotencyMetricsWithRegisterer(a.registry)
	a.guard = idempotency.NewGuard(a.deps.Idempotency,
		idempotency.WithGuardMetrics(idempotencyMetrics),
		idempotency.WithTTL(cfg.Idempotency.TTL),
	)
	a.cleanupWorker = idempotency.NewCleanupWorker(a.deps.Idempotency,
		idempotency.WithMetrics(idempotencyMetrics),
		idempotency.WithSchedule(cfg.Idempotency.CleanupSchedule),
		idempotency.WithBatchSize(cfg.Idempotency.CleanupBatchSize),
	)

	if err := a.initKafka(); err != nil {
		return nil, err
	}

	a.initGRPC()
	a.initHTTP()
	a.initMetricsServer()

	if a.grpcListener, err = net.Listen("tcp", cfg.GRPC.Addr); err != nil {
		return nil, errors.Wrapf(err, "listen grpc %s", cfg.GRPC.Addr)
	}
	if a.httpListener, err = net.Listen("tcp", cfg.HTTP.Addr); err != nil {
		return nil, errors.Wrapf(err, "listen http %s", cfg.HTTP.Addr)
	}
	if a.metricsListener, err = net.Listen("tcp", cfg.Metrics.Addr); err != nil {
		return nil, errors.Wrapf(err, "listen metrics %s", cfg.Metrics.Addr)
	}
	return a, nil
}

// initKafka подключает producer для outbox и consumer статусов поставщика.
// Недоступный брокер не мешает старту: события копятся в outbox.
func (a *App) initKafka() error {
	outboxMetrics := metrics.NewOutboxMetricsWithRegisterer(a.registry)
	if !a.cfg.KafkaEnabled() {
		a.logger.Warn("kafka brokers are not configured, outbox events stay pending")
		return nil
	}

	producer, err := kafka.NewProducer(a.cfg.Kafka.Brokers, a.cfg.Kafka.ClientID)
	if err != nil {
		a.logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil
	}
	a.producer = producer

	topic := a.cfg.Kafka.OrderEventsTopic
	a.outboxWorker = outbox.NewWorker(a.deps.Outbox, kafka.NewOutboxPublisher(producer, topic),
		outbox.WithLogger(log.WithField("component", "outbox-worker")),
		outbox.WithMetrics(outboxMetrics),
		outbox.WithDLQPublisher(kafka.NewOutboxPublisher(producer, kafka.DLQTopic(topic))),
		outbox.WithPollInterval(a.cfg.Outbox.PollInterval),
		outbox.WithBatchSize(a.cfg.Outbox.BatchSize),
		outbox.WithMaxAttempts(a.cfg.Outbox.MaxAttempts),
		outbox.WithRetryBaseDelay(a.cfg.Outbox.RetryBaseDelay),
	)

	consumer, err := kafka.NewConsumer(
		a.cfg.Kafka.Brokers,
		a.cfg.Kafka.ConsumerGroup,
		[]string{a.cfg.Kafka.SupplierStatusTopic},
		kafka.NewSupplierStatusHandler(a.engine),
		kafka.ConsumerOptions{MaxRetries: a.cfg.Kafka.MaxRetries, DLQ: producer},
	)
	if err != nil {
		a.logger.WithError(err).Warn("failed to create kafka consumer, supplier status feed disabled")
		return nil
	}
	a.consumer = consumer

	a.logger.WithField("brokers", a.cfg.Kafka.Brokers).Info("kafka initialized")
	return nil
}

func (a *App) initGRPC() {
	serverMetrics := promgrpc.NewServerMetrics()
	a.registry.MustRegister(serverMetrics)

	a.grpcHealth = health.NewServer()
	svc := grpcsvc.NewFulfillmentService(a.engine, a.guard, log.WithField("layer", "grpc"))
	a.grpcServer = grpcsvc.NewServer(svc, serverMetrics, a.grpcHealth)
}

func (a *App) initHTTP() {
	handler := httpapi.NewHandler(a.engine, a.guard, log.WithField("layer", "http"))
	a.httpServer = &http.Server{
		Handler:           otelhttp.NewHandler(httpapi.NewEcho(handler), "fulfillment-api"),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
}

// initMetricsServer — /metrics для Prometheus и health checks.
func (a *App) initMetricsServer() {
	healthHandler := healthcheck.NewHandler(version.GetVersion())
	for name, checker := range a.deps.Checks {
		healthHandler.RegisterChecker(name, checker)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry}))
	healthHandler.Register(mux)

	a.metricsServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}

// Engine возвращает движок исполнения заказов.
func (a *App) Engine() *workflow.Engine { return a.engine }

// GRPCAddr возвращает фактический адрес gRPC-сервера.
func (a *App) GRPCAddr() string { return a.grpcListener.Addr().String() }

// HTTPAddr возвращает фактический адрес REST API.
func (a *App) HTTPAddr() string { return a.httpListener.Addr().String() }

// MetricsAddr возвращает фактический адрес сервера метрик.
func (a *App) MetricsAddr() string { return a.metricsListener.Addr().String() }

// Run запускает серверы и фоновые задачи и останавливает их при отмене ctx
// или падении любого из них.
func (a *App) Run(ctx context.Context) error {
	defer a.closeResources()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.WithField("addr", a.GRPCAddr()).Info("grpc server listening")
		if err := a.grpcServer.Serve(a.grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return errors.Wrap(err, "grpc server")
		}
		return nil
	})
	g.Go(func() error {
		a.logger.WithField("addr", a.HTTPAddr()).Info("http api listening")
		if err := a.httpServer.Serve(a.httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})
	g.Go(func() error {
		a.logger.WithField("addr", a.MetricsAddr()).Info("metrics and health checks listening")
		if err := a.metricsServer.Serve(a.metricsListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "metrics server")
		}
		return nil
	})
	g.Go(func() error {
		return a.cleanupWorker.Run(gctx)
	})
	if a.outboxWorker != nil {
		g.Go(func() error {
			a.outboxWorker.Run(gctx)
			return nil
		})
	}
	if a.consumer != nil {
		if err := a.consumer.Start(gctx); err != nil {
			return errors.Wrap(err, "start kafka consumer")
		}
	}

	g.Go(func() error {
		<-gctx.Done()
		a.shutdown()
		return nil
	})

	a.logger.WithFields(log.Fields(version.Get().Fields())).Info("fulfillment service started")
	err := g.Wait()
	a.logger.Info("fulfillment service stopped")
	return err
}

// shutdown останавливает приём запросов и ждёт завершения текущих в пределах ShutdownTimeout.
func (a *App) shutdown() {
	timeout := a.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	a.grpcHealth.Shutdown()
	stopped := make(chan struct{})
	go func() {
		a.grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		a.logger.Warn("grpc graceful stop timed out, forcing stop")
		a.grpcServer.Stop()
	}

	shutdownHTTP(ctx, a.httpServer, a.logger)
	shutdownHTTP(ctx, a.metricsServer, a.logger)

	a.stopConsumer()
}

func (a *App) stopConsumer() {
	if a.consumer == nil {
		return
	}
	if err := a.consumer.Stop(); err != nil {
		a.logger.WithError(err).Warn("failed to stop kafka consumer")
	}
	a.consumer = nil
}

func (a *App) closeResources() {
	a.stopConsumer()
	for _, lis := range []net.Listener{a.grpcListener, a.httpListener, a.metricsListener} {
		if lis != nil {
			_ = lis.Close()
		}
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.WithError(err).Warn("failed to close kafka producer")
		}
		a.producer = nil
	}
	if err := a.deps.Close(); err != nil {
		a.logger.WithError(err).Warn("failed to close storage")
	}
}

func shutdownHTTP(ctx context.Context, srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http server shutdown with error")
	}
}

package boot

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	"gacha-admin/internal/config"
	"gacha-admin/internal/consumer/invalidation"
	"gacha-admin/internal/discovery/etcd"
	"gacha-admin/internal/logging"
	"gacha-admin/internal/metrics"
	"gacha-admin/internal/mq/kafka"
	"gacha-admin/internal/repository"
	"gacha-admin/internal/repository/edge"
	"gacha-admin/internal/repository/postgres"
	redisrepo "gacha-admin/internal/repository/redis"
	"gacha-admin/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/plugin/opentelemetry/tracing"

	go_otel "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// InstanceID 本进程唯一标识：etcd 注册 key、kafka 事件 origin 与消费组后缀
type InstanceID string

func NewInstanceID() InstanceID { return InstanceID(uuid.NewString()) }

// Repositories 按 repository.driver 选出的仓库实现
type Repositories struct {
	Menus    repository.MenuRepository
	Identity repository.IdentityRepository
}

// InvalidationConsumer 其他实例发布的授权变更 -> 本地缓存失效
type InvalidationConsumer struct {
	Consumer *kafka.Consumer
	Handler  *invalidation.Handler
}

type App struct {
	Config     *config.Config
	Logger     *logging.Logger
	HTTP       *gin.Engine
	InstanceID InstanceID

	DB        *gorm.DB
	Redis     *redisrepo.Client
	Kafka     *kafka.Producer
	Etcd      *etcd.Client
	Registrar *etcd.Registrar
	Editor    *service.EditorService
	Consumer  *InvalidationConsumer

	tracerProv *trace.TracerProvider
}

func NewLogger(c *config.Config) (*logging.Logger, error) {
	return logging.New(c.Log.Level, c.Log.Format)
}

// NewTracerProvider otel.enable 关闭或 exporter 初始化失败时返回 nil，仍使用全局 noop provider
func NewTracerProvider(c *config.Config, l *logging.Logger) *trace.TracerProvider {
	if !c.OTel.Enable {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(c.OTel.Endpoint)}
	if c.OTel.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	} else {
		opts = append(opts, otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
	}
	exp, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		l.Error("otel_exporter_init_failed", zap.Error(err))
		return nil
	}
	res, _ := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(c.AppMeta.Name),
		semconv.ServiceVersionKey.String(c.AppMeta.Version),
		semconv.DeploymentEnvironmentKey.String(c.AppMeta.Env),
	))
	sampler := trace.ParentBased(trace.TraceIDRatioBased(c.OTel.SamplerRatio))
	tp := trace.NewTracerProvider(trace.WithBatcher(exp), trace.WithResource(res), trace.WithSampler(sampler))
	go_otel.SetTracerProvider(tp)
	go_otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	l.Info("otel_tracer_provider_initialized", zap.String("endpoint", c.OTel.Endpoint))
	return tp
}

// NewPostgres 仅 postgres 驱动需要；edge 驱动返回 nil
func NewPostgres(c *config.Config, l *logging.Logger, tp *trace.TracerProvider) (*gorm.DB, error) {
	if c.Repository.Driver != config.DriverPostgres {
		return nil, nil
	}
	db, err := postgres.New(postgres.Config{DSN: c.Postgres.DSN, MaxOpen: c.Postgres.MaxOpen, MaxIdle: c.Postgres.MaxIdle, AutoMigrate: c.Postgres.AutoMigrate})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if tp != nil {
		if err := db.Use(tracing.NewPlugin()); err != nil {
			l.Error("gorm_tracing_plugin_failed", zap.Error(err))
		} else {
			l.Info("gorm_tracing_plugin_enabled")
		}
	}
	return db, nil
}

func NewEdgeClient(c *config.Config) *edge.Client {
	if c.Repository.Driver != config.DriverEdge {
		return nil
	}
	return edge.New(edge.Config{
		BaseURL:       c.Edge.BaseURL,
		FunctionsPath: c.Edge.FunctionsPath,
		RestPath:      c.Edge.RestPath,
		AnonKey:       c.Edge.AnonKey,
		Timeout:       c.Edge.Timeout,
	})
}

func NewRepositories(c *config.Config, ec *edge.Client, db *gorm.DB) (Repositories, error) {
	switch c.Repository.Driver {
	case config.DriverEdge:
		return Repositories{Menus: edge.NewMenuRepository(ec), Identity: edge.NewIdentityRepository(ec)}, nil
	case config.DriverPostgres:
		return Repositories{Menus: postgres.NewMenuRepository(db), Identity: postgres.NewIdentityRepository(db)}, nil
	}
	return Repositories{}, fmt.Errorf("unknown repository driver %q", c.Repository.Driver)
}

// NewRedis redis.addr 为空时返回 nil，缓存退化为进程内
func NewRedis(c *config.Config, l *logging.Logger) *redisrepo.Client {
	if c.Redis.Addr == "" {
		return nil
	}
	r := redisrepo.New(redisrepo.Config{
		Addr:         c.Redis.Addr,
		Password:     c.Redis.Password,
		DB:           c.Redis.DB,
		DialTimeout:  c.Redis.DialTimeout,
		ReadTimeout:  c.Redis.ReadTimeout,
		WriteTimeout: c.Redis.WriteTimeout,
	})
	// 启动时探测一次，避免首个请求才暴露问题
	ctx, cancel := context.WithTimeout(context.Background(), c.Redis.PingTimeout)
	defer cancel()
	if err := r.Ping(ctx); err != nil {
		metrics.RedisUp.Set(0)
		l.Error("redis_ping_failed", zap.Error(err), zap.String("addr", c.Redis.Addr))
	} else {
		metrics.RedisUp.Set(1)
		l.Info("redis_ping_ok", zap.String("addr", c.Redis.Addr))
	}
	return r
}

// NewKafkaProducer 未配置 brokers 时返回 nil
func NewKafkaProducer(c *config.Config, id InstanceID) *kafka.Producer {
	if len(c.Kafka.Brokers) == 0 {
		return nil
	}
	return kafka.NewProducer(kafka.Config{Brokers: c.Kafka.Brokers, Topic: c.Kafka.PermissionTopic}, string(id))
}

// NewEventPublisher producer 为 nil 时返回 nil 接口，service 层据此跳过发布
func NewEventPublisher(p *kafka.Producer) service.EventPublisher {
	if p == nil {
		return nil
	}
	return p
}

// NewInvalidationConsumer 每个实例独立消费组，保证每条事件广播到所有实例
func NewInvalidationConsumer(c *config.Config, id InstanceID, perm *service.PermissionService, l *logging.Logger) *InvalidationConsumer {
	if len(c.Kafka.Brokers) == 0 {
		return nil
	}
	consumer := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:         c.Kafka.Brokers,
		GroupID:         c.Kafka.GroupPrefix + "-" + string(id),
		Topics:          []string{c.Kafka.PermissionTopic},
		StartFromLatest: true,
	}, l)
	return &InvalidationConsumer{Consumer: consumer, Handler: invalidation.NewHandler(perm, string(id), l)}
}

// NewEtcd 未配置 endpoints 时返回 nil
func NewEtcd(c *config.Config) (*etcd.Client, error) {
	if len(c.Etcd.Endpoints) == 0 {
		return nil, nil
	}
	cli, err := etcd.New(etcd.Config{Endpoints: c.Etcd.Endpoints, TTL: c.Etcd.TTL, Prefix: c.Etcd.Prefix})
	if err != nil {
		return nil, fmt.Errorf("connect etcd: %w", err)
	}
	return cli, nil
}

func NewRegistrar(c *config.Config, e *etcd.Client, l *logging.Logger) *etcd.Registrar {
	if e == nil {
		return nil
	}
	return etcd.NewRegistrar(e, c.Etcd.Prefix, c.Etcd.TTL, l)
}

// upstreamAddr edge base_url -> host:port，用于就绪探测
func upstreamAddr(baseURL string) (string, bool) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return "", false
	}
	if u.Port() != "" {
		return u.Host, true
	}
	port := "443"
	if u.Scheme == "http" {
		port = "80"
	}
	return net.JoinHostPort(u.Hostname(), port), true
}

func NewApp(c *config.Config, l *logging.Logger, engine *gin.Engine, id InstanceID, db *gorm.DB, r *redisrepo.Client, k *kafka.Producer, e *etcd.Client, reg *etcd.Registrar, editor *service.EditorService, ic *InvalidationConsumer, tp *trace.TracerProvider) *App {
	return &App{
		Config:     c,
		Logger:     l,
		HTTP:       engine,
		InstanceID: id,
		DB:         db,
		Redis:      r,
		Kafka:      k,
		Etcd:       e,
		Registrar:  reg,
		Editor:     editor,
		Consumer:   ic,
		tracerProv: tp,
	}
}

// Run 启动后台任务，ctx 取消后全部退出
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Editor.Run(ctx)
		return nil
	})
	if a.Redis != nil {
		g.Go(func() error {
			a.redisHeartbeat(ctx)
			return nil
		})
	}
	if a.Consumer != nil {
		g.Go(func() error {
			a.Logger.Info("invalidation_consumer_start", zap.String("instance_id", string(a.InstanceID)))
			return a.Consumer.Consumer.Start(ctx, a.Consumer.Handler.Handle)
		})
	}
	if a.Registrar != nil {
		g.Go(func() error {
			inst := etcd.Instance{ID: string(a.InstanceID), Addr: a.Config.HTTP.Addr, Version: a.Config.AppMeta.Version, StartedAt: time.Now()}
			if err := a.Registrar.Register(ctx, inst); err != nil && !errors.Is(err, context.Canceled) {
				// 注册失败不影响对外服务
				a.Logger.Error("etcd_register_failed", zap.Error(err))
			}
			return nil
		})
	}
	return g.Wait()
}

func (a *App) redisHeartbeat(ctx context.Context) {
	interval := a.Config.Redis.HeartbeatEvery
	if interval < 2*time.Second {
		interval = 2 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	lastUp := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, a.Config.Redis.PingTimeout)
			err := a.Redis.Ping(pctx)
			cancel()
			if err != nil {
				metrics.RedisUp.Set(0)
				if lastUp {
					a.Logger.Warn("redis_down", zap.Error(err))
				}
				lastUp = false
				continue
			}
			metrics.RedisUp.Set(1)
			if !lastUp {
				a.Logger.Info("redis_recovered")
			}
			lastUp = true
		}
	}
}

func (a *App) Close() {
	if a.Registrar != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := a.Registrar.Deregister(ctx); err != nil {
			a.Logger.Error("etcd_deregister_failed", zap.Error(err))
		}
		cancel()
		metrics.EtcdUp.Set(0)
	}
	if a.Consumer != nil {
		if err := a.Consumer.Consumer.Close(); err != nil {
			a.Logger.Error("kafka_consumer_close_error", zap.Error(err))
		}
	}
	if a.Kafka != nil {
		if err := a.Kafka.Close(); err != nil {
			a.Logger.Error("kafka_close_error", zap.Error(err))
		}
	}
	if a.DB != nil {
		if err := postgres.Close(a.DB); err != nil {
			a.Logger.Error("db_close_error", zap.Error(err))
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Error("redis_close_error", zap.Error(err))
		}
	}
	if a.Etcd != nil {
		if err := a.Etcd.Close(); err != nil {
			a.Logger.Error("etcd_close_error", zap.Error(err))
		}
	}
	if a.tracerProv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.tracerProv.Shutdown(ctx); err != nil {
			a.Logger.Error("otel_tracer_shutdown_error", zap.Error(err))
		}
		cancel()
	}
	_ = a.Logger.Sync()
}

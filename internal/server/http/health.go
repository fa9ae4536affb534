package http

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"gacha-admin/internal/discovery/etcd"
	"gacha-admin/internal/metrics"
	redisrepo "gacha-admin/internal/repository/redis"

	"github.com/prometheus/client_golang/prometheus"
	kafkaGo "github.com/segmentio/kafka-go"
	"gorm.io/gorm"
)

// Probe 一个外部依赖的就绪检查；Gauge 可为 nil
type Probe struct {
	Name    string
	Timeout time.Duration
	Check   func(ctx context.Context) error
	Gauge   prometheus.Gauge
}

// HealthChecker 聚合健康检查（liveness / readiness），未配置的依赖不参与
type HealthChecker struct {
	probes []Probe

	cacheMu     sync.Mutex
	cacheResult map[string]interface{}
	cacheCode   int
	cacheExpiry time.Time
	cacheTTL    time.Duration
}

func NewHealthChecker(probes ...Probe) *HealthChecker {
	return &HealthChecker{probes: probes, cacheTTL: 2 * time.Second}
}

func DBProbe(db *gorm.DB) Probe {
	return Probe{Name: "db", Timeout: 300 * time.Millisecond, Gauge: metrics.DBUp, Check: func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}}
}

func RedisProbe(r *redisrepo.Client) Probe {
	return Probe{Name: "redis", Timeout: 250 * time.Millisecond, Gauge: metrics.RedisUp, Check: r.Ping}
}

// KafkaProbe 任一 broker 可连接即视为可用
func KafkaProbe(brokers []string) Probe {
	return Probe{Name: "kafka", Timeout: 500 * time.Millisecond, Gauge: metrics.KafkaUp, Check: func(ctx context.Context) error {
		var errs []error
		for _, b := range brokers {
			conn, err := kafkaGo.DialContext(ctx, "tcp", b)
			if err == nil {
				return conn.Close()
			}
			errs = append(errs, err)
		}
		if len(errs) == 0 {
			return errors.New("no brokers")
		}
		return errors.Join(errs...)
	}}
}

func EtcdProbe(c *etcd.Client) Probe {
	return Probe{Name: "etcd", Timeout: 250 * time.Millisecond, Gauge: metrics.EtcdUp, Check: func(ctx context.Context) error {
		_, err := c.Get(ctx, "health")
		return err
	}}
}

// TCPProbe 仅检查地址可连接，用于 edge 上游
func TCPProbe(name, addr string) Probe {
	return Probe{Name: name, Timeout: 500 * time.Millisecond, Check: func(ctx context.Context) error {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return err
		}
		return conn.Close()
	}}
}

// Liveness 仅表示进程活着，不依赖外部组件
func (h *HealthChecker) Liveness() map[string]interface{} {
	return map[string]interface{}{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	}
}

// Refresh 丢弃缓存的就绪结果
func (h *HealthChecker) Refresh() {
	h.cacheMu.Lock()
	h.cacheExpiry = time.Time{}
	h.cacheMu.Unlock()
}

// Readiness 并发检测外部依赖，带缓存与耗时指标
func (h *HealthChecker) Readiness(ctx context.Context) (map[string]interface{}, int) {
	h.cacheMu.Lock()
	if time.Now().Before(h.cacheExpiry) && h.cacheResult != nil {
		res, code := h.cacheResult, h.cacheCode
		h.cacheMu.Unlock()
		return res, code
	}
	h.cacheMu.Unlock()

	type depResult struct {
		name string
		up   bool
		err  string
		dur  time.Duration
	}
	results := make([]depResult, len(h.probes))
	var wg sync.WaitGroup
	for i, p := range h.probes {
		wg.Add(1)
		go func(i int, p Probe) {
			defer wg.Done()
			timeout := p.Timeout
			if timeout <= 0 {
				timeout = 250 * time.Millisecond
			}
			start := time.Now()
			ctx2, cancel := context.WithTimeout(ctx, timeout)
			err := p.Check(ctx2)
			cancel()
			out := depResult{name: p.Name, up: err == nil, dur: time.Since(start)}
			if err != nil {
				out.err = err.Error()
			}
			metrics.DependencyCheckDuration.WithLabelValues(p.Name).Observe(out.dur.Seconds())
			if p.Gauge != nil {
				if out.up {
					p.Gauge.Set(1)
				} else {
					p.Gauge.Set(0)
				}
			}
			results[i] = out
		}(i, p)
	}
	wg.Wait()

	res := map[string]interface{}{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	}
	detail := make([]map[string]interface{}, 0, len(results))
	for _, r := range results {
		if r.up {
			res[r.name] = "up"
		} else {
			res[r.name] = r.err
			res["status"] = "degraded"
		}
		ms := float64(r.dur.Microseconds()) / 1000.0
		res[r.name+"_duration_ms"] = ms
		detail = append(detail, map[string]interface{}{"dep": r.name, "up": r.up, "error": r.err, "duration_ms": ms})
	}
	res["detail"] = detail

	code := 200
	if res["status"] != "ok" {
		code = 503
	}
	h.cacheMu.Lock()
	h.cacheResult, h.cacheCode = res, code
	h.cacheExpiry = time.Now().Add(h.cacheTTL)
	h.cacheMu.Unlock()
	return res, code
}

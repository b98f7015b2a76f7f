package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/taxi-dispatch/internal/models"
)

var (
	fixesConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_position_fixes_total",
		Help: "Total driver position fixes consumed",
	})
	fixesInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_position_fixes_invalid_total",
		Help: "Total malformed position messages received",
	})
	redisUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_redis_updates_total",
		Help: "Total successful redis geo updates",
	})
	redisErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_redis_errors_total",
		Help: "Total redis update failures after retries",
	})
)

func init() {
	prometheus.MustRegister(fixesConsumed, fixesInvalid, redisUpdates, redisErrors)
}

func main() {
	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.Parse()

	brokers := splitList(os.Getenv("KAFKA_BROKERS"))
	if len(brokers) == 0 {
		brokers = []string{"localhost:9092"}
	}
	topic := getenv("KAFKA_TOPIC", "driver-positions")
	group := getenv("KAFKA_GROUP", "taxi-dispatch-consumer")
	geoKey := getenv("REDIS_GEO_KEY", "drivers_geo")
	redisAddr := getenv("REDIS_ADDR", "localhost:6379")

	rc := redis.NewClient(&redis.Options{Addr: redisAddr, Password: os.Getenv("REDIS_PASSWORD")})
	updater := &redisAdapter{c: rc}

	go serveMetrics(metricsAddr, rc)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: topic, GroupID: group, MinBytes: 10e3, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		_ = rc.Close()
	}()

	log.Printf("position consumer listening topic=%s brokers=%v group=%s", topic, brokers, group)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Println("shutting down consumer")
				return
			}
			log.Printf("kafka read error: %v; backing off %s", err, backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second

		fixesConsumed.Inc()

		var fix models.PositionFix
		if err := json.Unmarshal(m.Value, &fix); err != nil || fix.DriverID == "" {
			fixesInvalid.Inc()
			log.Printf("invalid position message: %v", err)
			continue
		}

		if err := updateIndexWithRetry(ctx, updater, geoKey, fix, 3, 200*time.Millisecond); err != nil {
			redisErrors.Inc()
			log.Printf("redis update failed for driver=%s: %v", fix.DriverID, err)
			continue
		}
		redisUpdates.Inc()
	}
}

func serveMetrics(addr string, rc *redis.Client) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := rc.Ping(r.Context()).Err(); err != nil {
			http.Error(w, "redis not ready", 503)
			return
		}
		w.WriteHeader(200)
		w.Write([]byte("ready"))
	})
	log.Printf("metrics/health listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("metrics server stopped: %v", err)
	}
}

// GeoUpdater is the subset of redis operations the consumer needs, kept
// small so tests can fake it.
type GeoUpdater interface {
	GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error
	HSet(ctx context.Context, key string, values map[string]interface{}) error
}

type redisAdapter struct{ c *redis.Client }

func (r *redisAdapter) GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error {
	_, err := r.c.GeoAdd(ctx, key, loc).Result()
	return err
}

func (r *redisAdapter) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	_, err := r.c.HSet(ctx, key, values).Result()
	return err
}

// updateIndexWithRetry writes the fix's coordinate to the GEO set and a
// freshness timestamp to the driver meta hash, retrying with doubling
// backoff.
func updateIndexWithRetry(ctx context.Context, rc GeoUpdater, geoKey string, fix models.PositionFix, attempts int, delay time.Duration) error {
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			time.Sleep(delay)
			delay *= 2
		}
		if err := rc.GeoAdd(ctx, geoKey, &redis.GeoLocation{
			Longitude: fix.Location.Lon,
			Latitude:  fix.Location.Lat,
			Name:      fix.DriverID,
		}); err != nil {
			lastErr = err
			continue
		}
		meta := map[string]interface{}{"last_fix_at": fix.At.UTC().Format(time.RFC3339)}
		if fix.RideID != "" {
			meta["ride_id"] = fix.RideID
		}
		if err := rc.HSet(ctx, "driver:meta:"+fix.DriverID, meta); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

func getenv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func splitList(v string) []string {
	var out []string
	for _, b := range strings.Split(v, ",") {
		if s := strings.TrimSpace(b); s != "" {
			out = append(out, s)
		}
	}
	return out
}

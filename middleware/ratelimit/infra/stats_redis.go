package infra

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"troubadour/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

// RedisStatsStore soma as decisões de todas as instâncias em hashes do Redis:
//
//	<prefix>:total               allowed|denied
//	<prefix>:minute:<YYYYMMDDhhmm> allowed|denied   (expira em ttl)
//	<prefix>:route               "<METHOD> <pattern>:allowed|denied"
//	<prefix>:tier                "<tier>:allowed|denied"
//	<prefix>:key:<key>           allowed|denied   (só com trackKeys; expira em ttl)
type RedisStatsStore struct {
	rdb       redis.Cmdable
	prefix    string
	ttl       time.Duration
	bucket    string // "minute" (padrão) ou "none"
	trackKeys bool
}

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.prefix = strings.Trim(prefix, ":") }
}

func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

func WithStatsBucket(bucket string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

// WithStatsTrackKeys liga o contador por usuário/IP. Cuidado com a cardinalidade.
func WithStatsTrackKeys(track bool) RedisStatsOption {
	return func(s *RedisStatsStore) { s.trackKeys = track }
}

func NewRedisStatsStore(rdb redis.Cmdable, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:    rdb,
		prefix: "troubadour:ratelimit:stats",
		ttl:    24 * time.Hour,
		bucket: "minute",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// hincr é um HINCRBY de 1, opcionalmente com EXPIRE na chave.
type hincr struct {
	key, field string
	expire     bool
}

func (s *RedisStatsStore) increments(ev domain.StatsEvent) []hincr {
	outcome := "denied"
	if ev.Allowed {
		outcome = "allowed"
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	incs := []hincr{{key: s.prefix + ":total", field: outcome}}
	if s.bucket == "minute" {
		incs = append(incs, hincr{
			key:    s.prefix + ":minute:" + at.UTC().Format("200601021504"),
			field:  outcome,
			expire: true,
		})
	}
	if route := strings.TrimSpace(strings.TrimSpace(ev.Method) + " " + strings.TrimSpace(ev.Path)); route != "" {
		incs = append(incs, hincr{key: s.prefix + ":route", field: route + ":" + outcome})
	}
	if ev.Tier != "" {
		incs = append(incs, hincr{key: s.prefix + ":tier", field: string(ev.Tier) + ":" + outcome})
	}
	if k := strings.TrimSpace(string(ev.Key)); s.trackKeys && k != "" {
		incs = append(incs, hincr{key: s.prefix + ":key:" + k, field: outcome, expire: true})
	}
	return incs
}

// Record implementa domain.StatsStore num único pipeline.
func (s *RedisStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}
	incs := s.increments(ev)
	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, inc := range incs {
			pipe.HIncrBy(ctx, inc.key, inc.field, 1)
			if inc.expire && s.ttl > 0 {
				pipe.Expire(ctx, inc.key, s.ttl)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis stats record: %w", err)
	}
	return nil
}

// Totals lê o total acumulado de todas as instâncias.
func (s *RedisStatsStore) Totals(ctx context.Context) (Counters, error) {
	if s == nil || s.rdb == nil {
		return Counters{}, nil
	}
	vals, err := s.rdb.HGetAll(ctx, s.prefix+":total").Result()
	if err != nil {
		return Counters{}, fmt.Errorf("redis stats totals: %w", err)
	}
	var c Counters
	if v, ok := vals["allowed"]; ok {
		c.Allowed, _ = strconv.ParseInt(v, 10, 64)
	}
	if v, ok := vals["denied"]; ok {
		c.Denied, _ = strconv.ParseInt(v, 10, 64)
	}
	return c, nil
}

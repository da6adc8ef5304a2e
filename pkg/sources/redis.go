package sources

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/illmade-knight/go-opsdash/pkg/poll"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	configParamSlowLogThreshold = "slowlog-log-slower-than"
	configParamSlowLogMaxLength = "slowlog-max-len"

	defaultSlowLogCount = 200
	defaultRedisTTL     = 60 * time.Second
)

// RedisConfig holds the configuration for the Redis client.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient creates and connects a Redis client.
// It pings the Redis server to ensure connectivity before returning.
func NewRedisClient(ctx context.Context, cfg *RedisConfig, logger zerolog.Logger) (*redis.Client, error) {
	if cfg == nil {
		return nil, errors.New("redis config cannot be nil")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info().Str("redis_address", cfg.Addr).Msg("Successfully connected to Redis.")
	return rdb, nil
}

// CommandTrace is one entry of a Redis slow log.
type CommandTrace struct {
	ID         int64         `json:"id"`
	Time       time.Time     `json:"time"`
	Duration   time.Duration `json:"duration"`
	Args       []string      `json:"args"`
	ClientAddr string        `json:"client_addr,omitempty"`
	ClientName string        `json:"client_name,omitempty"`
}

// RedisServer abstracts the server-level commands a RedisInstance polls and
// issues, so the instance can be tested without a live server.
type RedisServer interface {
	ConfigGet(ctx context.Context, pattern string) (map[string]string, error)
	ConfigSet(ctx context.Context, param, value string) error
	SlowLogGet(ctx context.Context, count int64) ([]CommandTrace, error)
	SlowLogReset(ctx context.Context) error
	DBSize(ctx context.Context) (int64, error)
}

// goRedisServer wraps a go-redis client to satisfy RedisServer.
type goRedisServer struct {
	client redis.UniversalClient
}

// NewRedisServer creates an adapter that makes a go-redis client conform to
// the RedisServer interface. The client's lifecycle stays with the caller.
func NewRedisServer(client redis.UniversalClient) RedisServer {
	if client == nil {
		return nil
	}
	return &goRedisServer{client: client}
}

func (s *goRedisServer) ConfigGet(ctx context.Context, pattern string) (map[string]string, error) {
	return s.client.ConfigGet(ctx, pattern).Result()
}

func (s *goRedisServer) ConfigSet(ctx context.Context, param, value string) error {
	return s.client.ConfigSet(ctx, param, value).Err()
}

func (s *goRedisServer) SlowLogGet(ctx context.Context, count int64) ([]CommandTrace, error) {
	entries, err := s.client.SlowLogGet(ctx, count).Result()
	if err != nil {
		return nil, err
	}
	traces := make([]CommandTrace, len(entries))
	for i, e := range entries {
		traces[i] = CommandTrace{
			ID:         e.ID,
			Time:       e.Time,
			Duration:   e.Duration,
			Args:       e.Args,
			ClientAddr: e.ClientAddr,
			ClientName: e.ClientName,
		}
	}
	return traces, nil
}

func (s *goRedisServer) SlowLogReset(ctx context.Context) error {
	return s.client.Do(ctx, "slowlog", "reset").Err()
}

func (s *goRedisServer) DBSize(ctx context.Context) (int64, error) {
	return s.client.DBSize(ctx).Result()
}

// RedisInstanceConfig configures the items polled for one Redis instance.
type RedisInstanceConfig struct {
	// Name identifies the instance in item names, e.g. "redis/<name>/slowlog".
	Name         string
	ConfigTTL    time.Duration
	SlowLogTTL   time.Duration
	KeyCountTTL  time.Duration
	SlowLogCount int64
}

// NewRedisInstanceDefaults provides a config with sensible defaults.
func NewRedisInstanceDefaults(name string) *RedisInstanceConfig {
	return &RedisInstanceConfig{
		Name:         name,
		ConfigTTL:    defaultRedisTTL,
		SlowLogTTL:   defaultRedisTTL,
		KeyCountTTL:  defaultRedisTTL,
		SlowLogCount: defaultSlowLogCount,
	}
}

// RedisInstance owns the polled items for one Redis server. The items are
// created with the instance and closed with it.
type RedisInstance struct {
	name   string
	server RedisServer
	logger zerolog.Logger

	// Config is the server configuration from CONFIG GET *.
	Config *poll.Item[map[string]string]
	// SlowLog holds the most recent slow-log entries.
	SlowLog *poll.Item[[]CommandTrace]
	// KeyCount is the number of keys in the selected database.
	KeyCount *poll.Item[int64]
}

// NewRedisInstance creates the polled items for a Redis server. The poll
// options (registry, clock, observer) apply to every item.
func NewRedisInstance(cfg *RedisInstanceConfig, server RedisServer, logger zerolog.Logger, opts ...poll.Option) (*RedisInstance, error) {
	if cfg == nil {
		return nil, errors.New("redis instance config cannot be nil")
	}
	if server == nil {
		return nil, errors.New("redis server cannot be nil")
	}
	if cfg.Name == "" {
		return nil, errors.New("redis instance name cannot be empty")
	}
	count := cfg.SlowLogCount
	if count <= 0 {
		count = defaultSlowLogCount
	}

	r := &RedisInstance{
		name:   cfg.Name,
		server: server,
		logger: logger.With().Str("component", "RedisInstance").Str("instance", cfg.Name).Logger(),
	}
	opts = append([]poll.Option{poll.WithLogger(logger)}, opts...)

	var err error
	r.Config, err = poll.New[map[string]string](r.itemName("config"), ttlOrDefault(cfg.ConfigTTL), func(ctx context.Context) (map[string]string, error) {
		return server.ConfigGet(ctx, "*")
	}, opts...)
	if err != nil {
		return nil, err
	}
	r.SlowLog, err = poll.New[[]CommandTrace](r.itemName("slowlog"), ttlOrDefault(cfg.SlowLogTTL), func(ctx context.Context) ([]CommandTrace, error) {
		return server.SlowLogGet(ctx, count)
	}, opts...)
	if err != nil {
		_ = r.Close()
		return nil, err
	}
	r.KeyCount, err = poll.New[int64](r.itemName("dbsize"), ttlOrDefault(cfg.KeyCountTTL), server.DBSize, opts...)
	if err != nil {
		_ = r.Close()
		return nil, err
	}

	r.logger.Info().Msg("RedisInstance initialized.")
	return r, nil
}

// Name returns the instance name.
func (r *RedisInstance) Name() string { return r.name }

// IsSlowLogEnabled reports whether the last fetched configuration has a
// positive slowlog-log-slower-than. It never triggers a fetch; with no
// configuration fetched yet it returns false.
func (r *RedisInstance) IsSlowLogEnabled() bool {
	config, ok := r.Config.Peek()
	if !ok {
		return false
	}
	raw, ok := config[configParamSlowLogThreshold]
	if !ok {
		return false
	}
	threshold, err := strconv.Atoi(raw)
	return err == nil && threshold > 0
}

// SetSlowLogThreshold sets the slow-log threshold in milliseconds. A nil or
// non-positive value disables the slow log.
func (r *RedisInstance) SetSlowLogThreshold(ctx context.Context, minMilliseconds *int) error {
	value := "-1"
	if minMilliseconds != nil && *minMilliseconds > 0 {
		value = strconv.Itoa(*minMilliseconds * 1000)
	}
	return r.SetConfigValue(ctx, configParamSlowLogThreshold, value)
}

// SetSlowLogMaxLength sets how many entries the server keeps in its slow log.
func (r *RedisInstance) SetSlowLogMaxLength(ctx context.Context, numItems int) error {
	if numItems < 0 {
		return fmt.Errorf("slow log max length cannot be negative, got %d", numItems)
	}
	return r.SetConfigValue(ctx, configParamSlowLogMaxLength, strconv.Itoa(numItems))
}

// SetConfigValue writes one server setting and drops the cached
// configuration so the next read sees the change.
func (r *RedisInstance) SetConfigValue(ctx context.Context, param, value string) error {
	if err := r.server.ConfigSet(ctx, param, value); err != nil {
		r.logger.Error().Err(err).Str("param", param).Msg("Failed to set Redis config value.")
		return fmt.Errorf("redis config set %s: %w", param, err)
	}
	r.Config.ForceClear()
	r.logger.Info().Str("param", param).Str("value", value).Msg("Redis config value set.")
	return nil
}

// ClearSlowLog resets the server's slow log and drops the cached copy.
func (r *RedisInstance) ClearSlowLog(ctx context.Context) error {
	if err := r.server.SlowLogReset(ctx); err != nil {
		r.logger.Error().Err(err).Msg("Failed to reset Redis slow log.")
		return fmt.Errorf("redis slowlog reset: %w", err)
	}
	r.SlowLog.ForceClear()
	r.logger.Info().Msg("Redis slow log cleared.")
	return nil
}

// Close unregisters the instance's items. The underlying client is managed
// by the caller.
func (r *RedisInstance) Close() error {
	if r.Config != nil {
		_ = r.Config.Close()
	}
	if r.SlowLog != nil {
		_ = r.SlowLog.Close()
	}
	if r.KeyCount != nil {
		_ = r.KeyCount.Close()
	}
	return nil
}

func (r *RedisInstance) itemName(kind string) string {
	return "redis/" + r.name + "/" + kind
}

func ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return defaultRedisTTL
	}
	return ttl
}

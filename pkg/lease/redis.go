package lease

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/odvcencio/playwire/pkg/observability"
)

// DefaultRedisPrefix namespaces every coordinator key.
const DefaultRedisPrefix = "playwire:lease:"

// Keys, relative to the prefix:
//
//	browser:<port>            hash: endpoint browser headless created_at session_key last_used_at holder
//	free:<browser>:<mode>     set of free ports
//	key:<session key>         string: bound port
//	events                    pub/sub channel for kill and shutdown notices

// acquireScript returns {port, endpoint} for the browser bound to KEYS[1],
// else binds one popped from KEYS[2]. Stale bindings are dropped.
const acquireScript = `
local bound = redis.call('GET', KEYS[1])
if bound then
	local hkey = ARGV[1] .. 'browser:' .. bound
	local ep = redis.call('HGET', hkey, 'endpoint')
	if ep then
		redis.call('HSET', hkey, 'last_used_at', ARGV[3])
		return {bound, ep}
	end
	redis.call('DEL', KEYS[1])
end
while true do
	local port = redis.call('SPOP', KEYS[2])
	if not port then
		return nil
	end
	local hkey = ARGV[1] .. 'browser:' .. port
	local ep = redis.call('HGET', hkey, 'endpoint')
	if ep then
		redis.call('SET', KEYS[1], port)
		redis.call('HSET', hkey, 'session_key', ARGV[2], 'last_used_at', ARGV[3], 'holder', ARGV[4])
		return {port, ep}
	end
end
`

// releaseScript unbinds KEYS[1] and returns its port to the free set.
const releaseScript = `
local port = redis.call('GET', KEYS[1])
if not port then
	return 0
end
redis.call('DEL', KEYS[1])
local hkey = ARGV[1] .. 'browser:' .. port
local browser = redis.call('HGET', hkey, 'browser')
if not browser then
	return 0
end
local mode = 'headful'
if redis.call('HGET', hkey, 'headless') == '1' then
	mode = 'headless'
end
redis.call('HDEL', hkey, 'session_key', 'holder')
redis.call('SADD', ARGV[1] .. 'free:' .. browser .. ':' .. mode, port)
return 1
`

// registerScript adds a browser hash and marks it free.
const registerScript = `
redis.call('HSET', KEYS[1], 'endpoint', ARGV[1], 'browser', ARGV[2], 'headless', ARGV[3], 'created_at', ARGV[4], 'last_used_at', ARGV[4])
redis.call('SADD', KEYS[2], ARGV[5])
return 1
`

// killScript forgets a browser and any binding to it.
const killScript = `
local hkey = ARGV[1] .. 'browser:' .. ARGV[2]
local browser = redis.call('HGET', hkey, 'browser')
if not browser then
	return 0
end
local key = redis.call('HGET', hkey, 'session_key')
if key then
	redis.call('DEL', ARGV[1] .. 'key:' .. key)
end
redis.call('SREM', ARGV[1] .. 'free:' .. browser .. ':headless', ARGV[2])
redis.call('SREM', ARGV[1] .. 'free:' .. browser .. ':headful', ARGV[2])
redis.call('DEL', hkey)
return 1
`

// redisClient is the subset of *redis.Client the source uses.
//
//go:generate mockgen -package=lease -destination=mock_redis_client_test.go github.com/odvcencio/playwire/pkg/lease redisClient
type redisClient interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// RedisConfig configures NewRedisSource.
type RedisConfig struct {
	URL    string `yaml:"url"`
	Prefix string `yaml:"prefix"`
}

// RedisSource keeps the browser pool in Redis. Acquire and release are
// single Lua scripts so concurrent sessions never share a browser.
type RedisSource struct {
	client redisClient
	prefix string
	holder string
	logger *observability.Logger
}

// NewRedisSource connects to cfg.URL (redis://...).
func NewRedisSource(cfg RedisConfig, logger *observability.Logger) (*RedisSource, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return newRedisSource(redis.NewClient(opt), cfg.Prefix, logger), nil
}

func newRedisSource(client redisClient, prefix string, logger *observability.Logger) *RedisSource {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if logger == nil {
		logger = observability.Nop()
	}
	return &RedisSource{
		client: client,
		prefix: prefix,
		holder: uuid.NewString(),
		logger: logger,
	}
}

func (s *RedisSource) freeKey(browser string, headless bool) string {
	mode := "headful"
	if headless {
		mode = "headless"
	}
	return s.prefix + "free:" + browser + ":" + mode
}

func (s *RedisSource) bindKey(sessionKey string) string {
	return s.prefix + "key:" + sessionKey
}

func (s *RedisSource) Acquire(ctx context.Context, browser string, headless bool, sessionKey string) (Lease, error) {
	res, err := s.client.Eval(ctx, acquireScript,
		[]string{s.bindKey(sessionKey), s.freeKey(browser, headless)},
		s.prefix, sessionKey, nowUnix(), s.holder,
	).Result()
	if errors.Is(err, redis.Nil) {
		observe("redis", opAcquire, ErrNoBrowser)
		return Lease{}, ErrNoBrowser
	}
	if err != nil {
		observe("redis", opAcquire, err)
		return Lease{}, fmt.Errorf("lease acquire: %w", err)
	}
	pair, ok := res.([]interface{})
	if !ok || len(pair) != 2 {
		return Lease{}, fmt.Errorf("lease acquire: unexpected script result %v", res)
	}
	port, err := strconv.Atoi(fmt.Sprint(pair[0]))
	if err != nil {
		return Lease{}, fmt.Errorf("lease acquire: bad port %v", pair[0])
	}
	observe("redis", opAcquire, nil)
	return Lease{Endpoint: fmt.Sprint(pair[1]), Port: port, SessionKey: sessionKey}, nil
}

func (s *RedisSource) Release(ctx context.Context, sessionKey string) error {
	err := s.client.Eval(ctx, releaseScript, []string{s.bindKey(sessionKey)}, s.prefix).Err()
	observe("redis", opRelease, err)
	return err
}

// Register adds a browser to the free pool. Workers call it after starting
// a debuggable browser.
func (s *RedisSource) Register(ctx context.Context, info BrowserInfo) error {
	headless := "0"
	if info.Headless {
		headless = "1"
	}
	if info.CreatedAt == 0 {
		info.CreatedAt = nowUnix()
	}
	port := strconv.Itoa(info.Port)
	return s.client.Eval(ctx, registerScript,
		[]string{s.prefix + "browser:" + port, s.freeKey(info.Browser, info.Headless)},
		info.Endpoint, info.Browser, headless, info.CreatedAt, port,
	).Err()
}

func (s *RedisSource) List(ctx context.Context) ([]BrowserInfo, error) {
	var out []BrowserInfo
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"browser:*", 100).Result()
		if err != nil {
			observe("redis", opList, err)
			return nil, err
		}
		for _, key := range keys {
			fields, err := s.client.HGetAll(ctx, key).Result()
			if err != nil {
				return nil, err
			}
			if len(fields) == 0 {
				continue
			}
			out = append(out, browserInfoFromHash(key[len(s.prefix+"browser:"):], fields))
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	observe("redis", opList, nil)
	return out, nil
}

func browserInfoFromHash(port string, fields map[string]string) BrowserInfo {
	info := BrowserInfo{
		Endpoint:   fields["endpoint"],
		Browser:    fields["browser"],
		Headless:   fields["headless"] == "1",
		SessionKey: fields["session_key"],
	}
	info.Port, _ = strconv.Atoi(port)
	info.CreatedAt, _ = strconv.ParseInt(fields["created_at"], 10, 64)
	info.LastUsedAt, _ = strconv.ParseInt(fields["last_used_at"], 10, 64)
	return info
}

func (s *RedisSource) Kill(ctx context.Context, port int) error {
	if err := s.client.Eval(ctx, killScript, nil, s.prefix, strconv.Itoa(port)).Err(); err != nil {
		observe("redis", opKill, err)
		return err
	}
	err := s.notify(ctx, request{Type: opKill, Port: port})
	observe("redis", opKill, err)
	return err
}

// Shutdown asks workers listening on the events channel to stop.
func (s *RedisSource) Shutdown(ctx context.Context) error {
	err := s.notify(ctx, request{Type: opShutdown})
	observe("redis", opShutdown, err)
	return err
}

func (s *RedisSource) notify(ctx context.Context, msg request) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, s.prefix+"events", data).Err()
}

func (s *RedisSource) Ping(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.client.Ping(ctx).Err(); err != nil {
		s.logger.Debug("redis ping failed", "error", err)
		return false, nil
	}
	return true, nil
}

func (s *RedisSource) Close() error {
	return s.client.Close()
}

func observe(backend, op string, err error) {
	outcome := "ok"
	switch {
	case errors.Is(err, ErrNoBrowser):
		outcome = "empty"
	case err != nil:
		outcome = "error"
	}
	observability.LeaseRequests.WithLabelValues(backend, op, outcome).Inc()
}

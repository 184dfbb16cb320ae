package cache

import "time"

type RedisOption func(*RedisConfig)

type RedisConfig struct {
	Host         string
	Port         int
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	PoolTimeout  time.Duration
	Prefix       string
}

func WithRedisHost(host string) RedisOption {
	return func(c *RedisConfig) { c.Host = host }
}

func WithRedisPort(port int) RedisOption {
	return func(c *RedisConfig) { c.Port = port }
}

func WithRedisPassword(password string) RedisOption {
	return func(c *RedisConfig) { c.Password = password }
}

func WithRedisDB(db int) RedisOption {
	return func(c *RedisConfig) { c.DB = db }
}

// WithRedisPool sets the pool size, idle floor and how long a caller waits for a connection.
func WithRedisPool(poolSize, minIdleConns int, timeout time.Duration) RedisOption {
	return func(c *RedisConfig) {
		c.PoolSize = poolSize
		c.MinIdleConns = minIdleConns
		c.PoolTimeout = timeout
	}
}

// WithRedisPrefix namespaces every key, so several deployments can share one Redis.
func WithRedisPrefix(prefix string) RedisOption {
	return func(c *RedisConfig) { c.Prefix = prefix }
}

type MemoryOption func(*MemoryCache)

// WithMemoryMaxSize bounds the number of entries; the least recently used one is evicted first.
func WithMemoryMaxSize(size int) MemoryOption {
	return func(m *MemoryCache) {
		if size > 0 {
			m.maxSize = size
		}
	}
}

// WithMemoryClock replaces time.Now, for tests.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *MemoryCache) { m.now = now }
}

type LayeredOption func(*LayeredCache)

func WithLayeredMemorySize(size int) LayeredOption {
	return func(l *LayeredCache) { l.memSize = size }
}

// WithLayeredMemoryTTL caps how long the memory tier may serve a value without asking Redis.
func WithLayeredMemoryTTL(ttl time.Duration) LayeredOption {
	return func(l *LayeredCache) { l.memTTL = ttl }
}

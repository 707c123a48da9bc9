package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"estate-voice-server/pkg/config"
	"estate-voice-server/pkg/errors"
	"estate-voice-server/pkg/metrics"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisStore implements Store on Redis. Each record is a JSON string with
// a TTL; a set indexes the live session ids.
type RedisStore struct {
	client    redis.UniversalClient
	logger    *logrus.Logger
	keyPrefix string
	ttl       time.Duration
}

// NewRedisStore connects to Redis and verifies the connection
func NewRedisStore(cfg config.RedisConfig, logger *logrus.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.Database,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	store := NewRedisStoreWithClient(client, cfg.KeyPrefix, cfg.TTL, logger)

	logger.WithFields(logrus.Fields{
		"address":  cfg.Address,
		"database": cfg.Database,
		"ttl":      cfg.TTL,
	}).Info("Redis session store initialized")

	return store, nil
}

// NewRedisStoreWithClient wraps an existing client
func NewRedisStoreWithClient(client redis.UniversalClient, keyPrefix string, ttl time.Duration, logger *logrus.Logger) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "voice:session:"
	}
	return &RedisStore{
		client:    client,
		logger:    logger,
		keyPrefix: keyPrefix,
		ttl:       ttl,
	}
}

// Save writes the record and refreshes its TTL
func (r *RedisStore) Save(ctx context.Context, record *Record) error {
	if record == nil || record.SessionID == "" {
		return errors.NewInvalidInput("session record requires a session id")
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal session record: %w", err)
	}

	start := time.Now()
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.sessionKey(record.SessionID), data, r.ttl)
	pipe.SAdd(ctx, r.indexKey(), record.SessionID)
	_, err = pipe.Exec(ctx)
	metrics.RecordRedisOperation("save", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to store session in Redis: %w", err)
	}

	r.logger.WithField("session_id", record.SessionID).Debug("Session record stored in Redis")
	return nil
}

// Get loads a record
func (r *RedisStore) Get(ctx context.Context, sessionID string) (*Record, error) {
	start := time.Now()
	data, err := r.client.Get(ctx, r.sessionKey(sessionID)).Bytes()
	opErr := err
	if err == redis.Nil {
		opErr = nil
	}
	metrics.RecordRedisOperation("get", time.Since(start), opErr)
	if err != nil {
		if err == redis.Nil {
			return nil, errors.NewSessionNotFound(sessionID)
		}
		return nil, fmt.Errorf("failed to get session from Redis: %w", err)
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session record: %w", err)
	}
	return &record, nil
}

// Delete removes a record and its index entry
func (r *RedisStore) Delete(ctx context.Context, sessionID string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.sessionKey(sessionID))
	pipe.SRem(ctx, r.indexKey(), sessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete session from Redis: %w", err)
	}

	r.logger.WithField("session_id", sessionID).Debug("Session record deleted from Redis")
	return nil
}

// List returns all live records. Index entries whose record expired are
// pruned on the way.
func (r *RedisStore) List(ctx context.Context) ([]*Record, error) {
	ids, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list session ids: %w", err)
	}
	if len(ids) == 0 {
		return []*Record{}, nil
	}
	sort.Strings(ids)

	pipe := r.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, r.sessionKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to execute batch get: %w", err)
	}

	records := make([]*Record, 0, len(ids))
	var expired []interface{}
	for i, cmd := range cmds {
		data, err := cmd.Bytes()
		if err == redis.Nil {
			expired = append(expired, ids[i])
			continue
		}
		if err != nil {
			continue
		}

		var record Record
		if err := json.Unmarshal(data, &record); err != nil {
			r.logger.WithError(err).Warning("Failed to parse session record from Redis")
			continue
		}
		records = append(records, &record)
	}

	if len(expired) > 0 {
		if err := r.client.SRem(ctx, r.indexKey(), expired...).Err(); err != nil {
			r.logger.WithError(err).Warning("Failed to prune expired session index entries")
		}
	}

	return records, nil
}

// Health pings Redis
func (r *RedisStore) Health(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) sessionKey(sessionID string) string {
	return r.keyPrefix + sessionID
}

func (r *RedisStore) indexKey() string {
	return strings.TrimSuffix(r.keyPrefix, ":") + "s:index"
}

package presence

import (
	"context"
	"fmt"
	"time"

	"telecare/internal/core/domain"
	"telecare/internal/core/ports"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Membership entries expire on their own so a crashed relay instance does not
// leave ghost participants behind.
const membershipTTL = 24 * time.Hour

// redisPresence mirrors room membership into Redis sets keyed by room id.
// The in-memory registry stays authoritative; this mirror only serves
// operational visibility across relay instances.
type redisPresence struct {
	client *redis.Client
	logger *zap.SugaredLogger
}

// NewRedisClient creates a Redis client with connection pooling and verifies
// connectivity before returning it.
func NewRedisClient(address, password string, db, poolSize int, logger *zap.SugaredLogger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         address,
		Password:     password,
		DB:           db,
		PoolSize:     poolSize,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if logger != nil {
		logger.Infow("connected to Redis", "address", address, "db", db, "pool_size", poolSize)
	}
	return client, nil
}

func NewRedisPresence(client *redis.Client, logger *zap.SugaredLogger) ports.Presence {
	return &redisPresence{client: client, logger: logger}
}

func roomKey(roomID domain.RoomID) string {
	return "room:" + string(roomID) + ":participants"
}

func (p *redisPresence) Track(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error {
	key := roomKey(roomID)
	pipe := p.client.Pipeline()
	pipe.SAdd(ctx, key, string(userID))
	pipe.Expire(ctx, key, membershipTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (p *redisPresence) Untrack(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error {
	return p.client.SRem(ctx, roomKey(roomID), string(userID)).Err()
}

func (p *redisPresence) List(ctx context.Context, roomID domain.RoomID) ([]domain.UserID, error) {
	members, err := p.client.SMembers(ctx, roomKey(roomID)).Result()
	if err != nil {
		return nil, err
	}
	users := make([]domain.UserID, 0, len(members))
	for _, m := range members {
		users = append(users, domain.UserID(m))
	}
	return users, nil
}

func (p *redisPresence) Close() error {
	return p.client.Close()
}

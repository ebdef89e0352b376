package clients

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"semaphore/liveclass/internal/config"
	"semaphore/liveclass/internal/tutor"
)

type Clients struct {
	Redis *redis.Client
	Tutor *tutor.Client
}

// New connects to the broker and prepares the text generation client. The
// broker must answer a ping within timeout.
func New(ctx context.Context, cfg config.Config, timeout time.Duration) (*Clients, error) {
	rdb, err := dialRedis(ctx, cfg, timeout)
	if err != nil {
		return nil, err
	}
	return &Clients{
		Redis: rdb,
		Tutor: tutor.NewClient(tutor.Config{
			ResponsesURL: cfg.TutorResponsesURL,
			APIKey:       cfg.TutorAPIKey,
			Model:        cfg.TutorModel,
			Timeout:      cfg.TutorTimeout,
		}),
	}, nil
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
}

func dialRedis(ctx context.Context, cfg config.Config, timeout time.Duration) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
	}
	return rdb, nil
}

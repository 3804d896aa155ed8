package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/voltgrid/voltgrid/internal/config"
)

const (
	keyFramesChargePoint = "frames:cp:%s"
	keyFramesEndpoint    = "frames:endpoint:%s"
	keyCommandLock       = "command:lock:%s:%d"
)

// FrameLimiter throttles inbound protocol frames per charge point and per
// endpoint, and serializes outbound availability commands per connector.
type FrameLimiter struct {
	enabled bool

	bucket *TokenBucket
	locker *CommandLocker

	frameRate     float64
	frameBurst    int
	endpointRate  float64
	endpointBurst int
	lockTTL       time.Duration
}

func NewFrameLimiter(cfg config.Config) (*FrameLimiter, error) {
	if !cfg.RateLimitEnabled {
		return nil, nil
	}

	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if cfg.FrameRate <= 0 || cfg.FrameBurst <= 0 {
		return nil, errors.New("frame rate limit must be positive")
	}
	if cfg.EndpointRate <= 0 || cfg.EndpointBurst <= 0 {
		return nil, errors.New("endpoint rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.RedisPassword),
		DB:       cfg.RedisDB,
	})

	return &FrameLimiter{
		enabled:       true,
		bucket:        NewTokenBucket(client),
		locker:        NewCommandLocker(client),
		frameRate:     cfg.FrameRate,
		frameBurst:    cfg.FrameBurst,
		endpointRate:  cfg.EndpointRate,
		endpointBurst: cfg.EndpointBurst,
		lockTTL:       time.Duration(cfg.CommandLockTTLSeconds) * time.Second,
	}, nil
}

func (l *FrameLimiter) Enabled() bool {
	return l != nil && l.enabled
}

// AllowChargePoint rate-limits frames from a single station identity.
func (l *FrameLimiter) AllowChargePoint(ctx context.Context, identity string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyFramesChargePoint, strings.TrimSpace(identity)), l.frameRate, l.frameBurst)
}

// AllowEndpoint rate-limits an HTTP endpoint across all stations.
func (l *FrameLimiter) AllowEndpoint(ctx context.Context, endpoint string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyFramesEndpoint, strings.TrimSpace(endpoint)), l.endpointRate, l.endpointBurst)
}

// TryLockCommand claims the per-connector command lock so only one
// availability round trip is in flight at a time.
func (l *FrameLimiter) TryLockCommand(ctx context.Context, identity string, connectorID int) (string, bool, error) {
	if !l.Enabled() {
		return "", true, nil
	}
	key := fmt.Sprintf(keyCommandLock, strings.TrimSpace(identity), connectorID)
	return l.locker.TryLock(ctx, key, l.lockTTL)
}

// ReleaseCommand releases a previously claimed command lock.
func (l *FrameLimiter) ReleaseCommand(ctx context.Context, identity string, connectorID int, token string) error {
	if !l.Enabled() {
		return nil
	}
	key := fmt.Sprintf(keyCommandLock, strings.TrimSpace(identity), connectorID)
	return l.locker.Release(ctx, key, token)
}

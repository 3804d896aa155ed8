package server

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/voltgrid/voltgrid/internal/observability/logger"
	obsmetrics "github.com/voltgrid/voltgrid/internal/observability/metrics"
	"go.uber.org/zap"
)

const (
	rateLimitReasonChargePoint = "charge-point-rate"
	rateLimitReasonEndpoint    = "endpoint-rate"
)

// FrameRateLimit throttles inbound frames, first per station identity and
// then per endpoint across all stations.
func (s *Server) FrameRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.frameLimiter == nil || !s.frameLimiter.Enabled() {
			c.Next()
			return
		}

		identity := strings.TrimSpace(c.Param("identity"))
		endpoint := normalizeRateLimitEndpoint(c)
		ctx := c.Request.Context()

		result, err := s.frameLimiter.AllowChargePoint(ctx, identity)
		if err != nil {
			logger.FromContext(ctx).Warn("charge point rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !result.Allowed {
			denyFrameRateLimit(c, endpoint, identity, rateLimitReasonChargePoint, s.obsMetrics)
			return
		}

		result, err = s.frameLimiter.AllowEndpoint(ctx, endpoint)
		if err != nil {
			logger.FromContext(ctx).Warn("endpoint rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !result.Allowed {
			denyFrameRateLimit(c, endpoint, identity, rateLimitReasonEndpoint, s.obsMetrics)
			return
		}

		recordRateLimitAllowed(ctx, endpoint, identity, s.obsMetrics)
		c.Next()
	}
}

func denyFrameRateLimit(c *gin.Context, endpoint, identity, reason string, metrics *obsmetrics.Metrics) {
	ctx := c.Request.Context()
	logger.FromContext(ctx).Warn("frame rate limit exceeded",
		zap.String("reason", reason),
		zap.String("endpoint", endpoint),
	)
	recordRateLimitDenied(ctx, endpoint, identity, reason, metrics)

	c.Header("Retry-After", "1")
	c.Header("X-Rate-Limited-Reason", reason)
	AbortWithError(c, ErrRateLimited)
}

func recordRateLimitAllowed(ctx context.Context, endpoint, identity string, metrics *obsmetrics.Metrics) {
	if metrics == nil {
		return
	}
	metrics.RecordRateLimitAllowed(ctx, identity, endpoint)
}

func recordRateLimitDenied(ctx context.Context, endpoint, identity, reason string, metrics *obsmetrics.Metrics) {
	if metrics == nil {
		return
	}
	metrics.RecordRateLimitDenied(ctx, identity, endpoint, reason)
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}

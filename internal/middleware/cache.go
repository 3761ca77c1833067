package middleware

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/dreamteamprod/digiscript-live/internal/config"
	"github.com/dreamteamprod/digiscript-live/internal/logging"
)

// captureWriter tees the response body, up to limit bytes, while writing it
// to the client.
type captureWriter struct {
	http.ResponseWriter
	status    int
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (w *captureWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *captureWriter) Write(b []byte) (int, error) {
	if !w.truncated {
		if w.limit > 0 && w.buf.Len()+len(b) > w.limit {
			w.truncated = true
		} else {
			w.buf.Write(b)
		}
	}
	return w.ResponseWriter.Write(b)
}

func cacheKey(cfg config.CacheConfig, c echo.Context) string {
	r := c.Request()
	var tail string
	switch strings.ToLower(cfg.KeyStrategy) {
	case "full_path":
		tail = r.Method + " " + r.URL.Path + "?" + r.URL.RawQuery
	default:
		tail = c.Path() + "|" + strings.Join(c.ParamValues(), "/") + "?" + r.URL.RawQuery
	}
	sum := sha1.Sum([]byte(tail))
	return cfg.Prefix + ":" + hex.EncodeToString(sum[:])
}

// cacheTag names the set holding every key cached under one scope value,
// or "" when the route has no such parameter.
func cacheTag(cfg config.CacheConfig, c echo.Context) string {
	if cfg.ScopeParam == "" {
		return ""
	}
	v := c.Param(cfg.ScopeParam)
	if v == "" {
		return ""
	}
	return cfg.Prefix + ":tag:" + v
}

// NewRedisCache caches successful JSON responses in Redis. Routes that
// change cached content must be wrapped in NewCacheEvictor. Without a
// client, or when disabled, it passes every request.
func NewRedisCache(cfg config.CacheConfig, rdb *redis.Client) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return passthrough
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !cfg.Methods[c.Request().Method] {
				return next(c)
			}
			key := cacheKey(cfg, c)
			if body, err := rdb.Get(c.Request().Context(), key).Bytes(); err == nil {
				c.Response().Header().Set("X-Cache", "HIT")
				return c.JSONBlob(http.StatusOK, body)
			}

			cw := &captureWriter{ResponseWriter: c.Response().Writer, status: http.StatusOK, limit: cfg.MaxBodyBytes}
			c.Response().Writer = cw
			c.Response().Header().Set("X-Cache", "MISS")
			if err := next(c); err != nil {
				return err
			}
			if cw.status == http.StatusOK && !cw.truncated && cw.buf.Len() > 0 {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				pipe := rdb.TxPipeline()
				pipe.Set(ctx, key, cw.buf.Bytes(), cfg.TTL)
				if tag := cacheTag(cfg, c); tag != "" {
					pipe.SAdd(ctx, tag, key)
					pipe.Expire(ctx, tag, cfg.TTL)
				}
				_, _ = pipe.Exec(ctx)
			}
			return nil
		}
	}
}

// NewCacheEvictor drops every cached response of the request's scope once
// the wrapped handler succeeds.
func NewCacheEvictor(cfg config.CacheConfig, rdb *redis.Client) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return passthrough
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if err := next(c); err != nil {
				return err
			}
			tag := cacheTag(cfg, c)
			if tag == "" || c.Response().Status >= http.StatusMultipleChoices {
				return nil
			}
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			keys, err := rdb.SMembers(ctx, tag).Result()
			if err != nil {
				logging.From(c).Warn("cache evict", "tag", tag, "err", err)
				return nil
			}
			_ = rdb.Del(ctx, append(keys, tag)...).Err()
			return nil
		}
	}
}

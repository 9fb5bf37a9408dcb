package middleware

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/pokearcanum/marketplace/internal/config"
)

// captureWriter tees the handler's response so a successful body can be
// stored in Redis after it has been sent to the client.
type captureWriter struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
	tooBig bool
	limit  int
}

func (w *captureWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *captureWriter) Write(b []byte) (int, error) {
	if !w.tooBig {
		if w.buf.Len()+len(b) > w.limit {
			w.tooBig = true
			w.buf.Reset()
		} else {
			w.buf.Write(b)
		}
	}
	return w.ResponseWriter.Write(b)
}

// NewRedisCache caches successful responses of the public read-only
// endpoints (top listings, recent trades, stats).  Keys are derived
// from method, route and the sorted query string, so the same logical
// request hits the same entry regardless of parameter order.
func NewRedisCache(cfg config.CacheConfig, rdb *redis.Client) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc {
			return func(c echo.Context) error { return next(c) }
		}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			method := c.Request().Method
			if !cfg.Methods[method] {
				return next(c)
			}

			key := cacheKeyFrom(cfg.Prefix, c)
			ctx := c.Request().Context()

			if raw, err := rdb.Get(ctx, key).Bytes(); err == nil {
				if status, hdr, body, derr := decodePayload(raw); derr == nil {
					h := c.Response().Header()
					for k, v := range hdr {
						h.Set(k, v)
					}
					h.Set("X-Cache", "HIT")
					return c.Blob(status, hdr["Content-Type"], body)
				}
			}

			cw := &captureWriter{
				ResponseWriter: c.Response().Writer,
				status:         http.StatusOK,
				limit:          cfg.MaxBodyBytes,
			}
			c.Response().Header().Set("X-Cache", "MISS")
			c.Response().Writer = cw

			if err := next(c); err != nil {
				return err
			}

			if cw.status == http.StatusOK && !cw.tooBig && cw.buf.Len() > 0 {
				hdr := map[string]string{
					"Content-Type": c.Response().Header().Get(echo.HeaderContentType),
				}
				if raw, err := encodePayload(cw.status, hdr, cw.buf.Bytes()); err == nil {
					rdb.SetEx(ctx, key, raw, cfg.TTL)
				}
			}
			return nil
		}
	}
}

func cacheKeyFrom(prefix string, c echo.Context) string {
	q := c.QueryParams()
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(c.Request().Method)
	sb.WriteByte('|')
	sb.WriteString(c.Path())
	for _, k := range keys {
		sb.WriteByte('|')
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(strings.Join(q[k], ","))
	}

	sum := sha1.Sum([]byte(sb.String()))
	return prefix + ":" + hex.EncodeToString(sum[:])
}

// payload layout: [4B status][4B header length][header JSON][body]
func encodePayload(status int, hdr map[string]string, body []byte) ([]byte, error) {
	hj, err := json.Marshal(hdr)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 8+len(hj)+len(body))
	var b4 [4]byte
	binary.BigEndian.PutUint32(b4[:], uint32(status))
	out = append(out, b4[:]...)
	binary.BigEndian.PutUint32(b4[:], uint32(len(hj)))
	out = append(out, b4[:]...)
	out = append(out, hj...)
	out = append(out, body...)
	return out, nil
}

func decodePayload(raw []byte) (int, map[string]string, []byte, error) {
	if len(raw) < 8 {
		return 0, nil, nil, errors.New("cache payload too short")
	}
	status := int(binary.BigEndian.Uint32(raw[:4]))
	hlen := int(binary.BigEndian.Uint32(raw[4:8]))
	if len(raw) < 8+hlen {
		return 0, nil, nil, errors.New("cache payload truncated")
	}
	hdr := map[string]string{}
	if hlen > 0 {
		if err := json.Unmarshal(raw[8:8+hlen], &hdr); err != nil {
			return 0, nil, nil, err
		}
	}
	return status, hdr, raw[8+hlen:], nil
}

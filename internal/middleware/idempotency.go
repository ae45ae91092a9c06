package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/studio-reservations/internal/config"
)

// IdempotencyHeader carries the client's key for a mutating request.
const IdempotencyHeader = "Idempotency-Key"

// inFlight marks a key whose first request has not finished yet.
var inFlight = []byte("in-flight")

// captureWriter captures response body/status while forwarding to the client.
type captureWriter struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
	size   int64
	limit  int64
}

func (cw *captureWriter) WriteHeader(code int) {
	cw.status = code
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *captureWriter) Write(b []byte) (int, error) {
	if remain := cw.limit - cw.size; cw.limit <= 0 || remain > 0 {
		if cw.limit > 0 && int64(len(b)) > remain {
			cw.buf.Write(b[:remain])
		} else {
			cw.buf.Write(b)
		}
	}
	cw.size += int64(len(b))
	return cw.ResponseWriter.Write(b)
}

// truncated reports whether the body outgrew the capture limit.
func (cw *captureWriter) truncated() bool { return cw.limit > 0 && cw.size > cw.limit }

// idempotencyKey scopes the client key to the caller and the route so two
// users cannot collide on the same value.
func idempotencyKey(prefix string, c echo.Context, clientKey string) string {
	tail := strings.Join([]string{UserID(c), c.Request().Method, c.Path(), clientKey}, "\x00")
	sum := sha256.Sum256([]byte(tail))
	return fmt.Sprintf("%s:%x", prefix, sum[:16])
}

// encodePayload packs: [4 bytes status][4 bytes headerLen][headerJSON][body]
func encodePayload(status int, header http.Header, body []byte) ([]byte, error) {
	hdrJSON, err := json.Marshal(header)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 8+len(hdrJSON)+len(body))
	binary.BigEndian.PutUint32(out[0:4], uint32(status))
	binary.BigEndian.PutUint32(out[4:8], uint32(len(hdrJSON)))
	copy(out[8:], hdrJSON)
	copy(out[8+len(hdrJSON):], body)
	return out, nil
}

func decodePayload(bs []byte) (status int, header http.Header, body []byte, ok bool) {
	if len(bs) < 8 {
		return 0, nil, nil, false
	}
	status = int(binary.BigEndian.Uint32(bs[0:4]))
	hlen := int(binary.BigEndian.Uint32(bs[4:8]))
	if hlen < 0 || 8+hlen > len(bs) {
		return 0, nil, nil, false
	}
	header = make(http.Header)
	if hlen > 0 {
		if err := json.Unmarshal(bs[8:8+hlen], &header); err != nil {
			return 0, nil, nil, false
		}
	}
	return status, header, bs[8+hlen:], true
}

// Idempotency replays the stored response of a mutating request when the
// client retries it with the same Idempotency-Key.  A retry that arrives
// while the first attempt is still running gets 409.  Responses with a 5xx
// status are not stored so the client can retry them; this matters for
// gateway timeouts, which the services resume from their ledger.
func Idempotency(cfg config.IdempotencyConfig, rdb *redis.Client, logger *zap.Logger) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return passthrough
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			clientKey := strings.TrimSpace(c.Request().Header.Get(IdempotencyHeader))
			if clientKey == "" || c.Request().Method == http.MethodGet || c.Request().Method == http.MethodHead {
				return next(c)
			}
			if len(clientKey) > 255 {
				return c.JSON(http.StatusBadRequest, echo.Map{"error": "Idempotency-Key is too long"})
			}

			ctx := c.Request().Context()
			key := idempotencyKey(cfg.Prefix, c, clientKey)

			acquired, err := rdb.SetNX(ctx, key, inFlight, cfg.LockTTL).Result()
			if err != nil {
				logger.Warn("idempotency lock", zap.String("key", key), zap.Error(err))
				return next(c)
			}
			if !acquired {
				return replay(c, rdb, key)
			}

			cw := &captureWriter{ResponseWriter: c.Response().Writer, status: http.StatusOK, limit: int64(cfg.MaxBodyBytes)}
			c.Response().Writer = cw

			herr := next(c)
			if herr != nil {
				c.Error(herr)
			}

			// The request context may already be cancelled by now.
			bg := context.WithoutCancel(ctx)
			if cw.status >= 500 || cw.truncated() || !c.Response().Committed {
				_ = rdb.Del(bg, key).Err()
				return nil
			}
			hdr := c.Response().Header().Clone()
			hdr.Del("Content-Length")
			payload, err := encodePayload(cw.status, hdr, cw.buf.Bytes())
			if err == nil {
				err = rdb.Set(bg, key, payload, cfg.TTL).Err()
			}
			if err != nil {
				logger.Warn("idempotency store", zap.String("key", key), zap.Error(err))
				_ = rdb.Del(bg, key).Err()
			}
			return nil
		}
	}
}

func replay(c echo.Context, rdb *redis.Client, key string) error {
	bs, err := rdb.Get(c.Request().Context(), key).Bytes()
	if errors.Is(err, redis.Nil) || bytes.Equal(bs, inFlight) {
		return c.JSON(http.StatusConflict, echo.Map{"error": "a request with this Idempotency-Key is in progress"})
	}
	if err != nil {
		return err
	}
	status, hdr, body, ok := decodePayload(bs)
	if !ok {
		return c.JSON(http.StatusConflict, echo.Map{"error": "a request with this Idempotency-Key is in progress"})
	}
	for k, vals := range hdr {
		for _, v := range vals {
			c.Response().Header().Add(k, v)
		}
	}
	c.Response().Header().Set("Idempotent-Replayed", "true")
	c.Response().WriteHeader(status)
	_, err = c.Response().Write(body)
	return err
}

package httpmiddleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Limiter is an in-memory token bucket per client IP. It mainly slows down
// password guessing against the shared lector gate; terminals scan far below
// the limit because of their cool-down.
type Limiter struct {
	burst  float64
	perSec float64
	idle   time.Duration
	now    func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

type bucket struct {
	tokens float64
	seen   time.Time
}

// NewLimiter allows perMinute requests per client with bursts of burst.
// A non-positive perMinute disables limiting.
func NewLimiter(perMinute, burst int) *Limiter {
	if burst <= 0 {
		burst = perMinute
	}
	l := &Limiter{
		burst:   float64(burst),
		perSec:  float64(perMinute) / 60,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
	// a bucket idle this long is full again and can be forgotten
	l.idle = time.Minute
	if l.perSec > 0 {
		if full := time.Duration(l.burst / l.perSec * float64(time.Second)); full > l.idle {
			l.idle = full
		}
	}
	return l
}

// Middleware rejects over-limit clients with 429 and a Retry-After header.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if l.perSec <= 0 {
			c.Next()
			return
		}
		key := c.ClientIP()
		if key == "" {
			key = "unknown"
		}
		if ok, wait := l.take(key); !ok {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"status":  "error",
				"code":    "rate_limited",
				"message": "Demasiadas solicitudes",
			})
			return
		}
		c.Next()
	}
}

// take spends one token of key, or reports how long until one is available.
func (l *Limiter) take(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.burst, seen: now}
		l.buckets[key] = b
	}
	b.tokens = math.Min(l.burst, b.tokens+now.Sub(b.seen).Seconds()*l.perSec)
	b.seen = now
	if b.tokens < 1 {
		return false, time.Duration((1 - b.tokens) / l.perSec * float64(time.Second))
	}
	b.tokens--
	return true, 0
}

func (l *Limiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.idle {
		return
	}
	l.lastSweep = now
	for k, b := range l.buckets {
		if now.Sub(b.seen) >= l.idle {
			delete(l.buckets, k)
		}
	}
}

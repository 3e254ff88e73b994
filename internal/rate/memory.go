package rate

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter es el fallback de proceso único: misma semántica de ventana
// fija que el driver redis, contadores en un map propio. No sirve con varias
// réplicas detrás de un balanceador.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*memoryWindow
	max     int64
	window  time.Duration
	now     func() time.Time
}

type memoryWindow struct {
	start time.Time
	hits  int64
}

func NewMemoryLimiter(max int, window time.Duration) *MemoryLimiter {
	if max <= 0 {
		max = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	return &MemoryLimiter{
		windows: make(map[string]*memoryWindow),
		max:     int64(max),
		window:  window,
		now:     time.Now,
	}
}

func (l *MemoryLimiter) Allow(ctx context.Context, key string) (Result, error) {
	now := l.now().UTC()
	start := now.Truncate(l.window)

	l.mu.Lock()
	w, ok := l.windows[key]
	if !ok || !w.start.Equal(start) {
		w = &memoryWindow{start: start}
		l.windows[key] = w
	}
	w.hits++
	hits := w.hits
	if len(l.windows) > 4096 {
		l.purgeLocked(start)
	}
	l.mu.Unlock()

	ttl := start.Add(l.window).Sub(now)
	return verdict(hits, l.max, ttl, l.window), nil
}

// purgeLocked tira las ventanas viejas. Se llama con el lock tomado.
func (l *MemoryLimiter) purgeLocked(current time.Time) {
	for k, w := range l.windows {
		if !w.start.Equal(current) {
			delete(l.windows, k)
		}
	}
}

package guard

import "time"

// rateLimitEntry tracks one client IP's attempts within the current window.
// blockUntil is only meaningful while blocked is set.
type rateLimitEntry struct {
	count        int
	firstAttempt time.Time
	lastAttempt  time.Time
	blocked      bool
	blockUntil   time.Time
}

// RateLimitResult reports whether an IP is currently limited and, if so, how
// long the caller should tell the client to wait.
type RateLimitResult struct {
	Limited    bool
	RetryAfter time.Duration
}

// RetryAfterSeconds returns the retry delay rounded up to whole seconds, the
// unit the Retry-After header wants.
func (r RateLimitResult) RetryAfterSeconds() int {
	if r.RetryAfter <= 0 {
		return 0
	}
	return int((r.RetryAfter + time.Second - 1) / time.Second)
}

// CheckRateLimit reports whether ip is rate limited. The check itself can
// transition an entry to blocked: merging the query with the transition keeps
// check-and-block atomic under the table lock, so a burst cannot slip between
// a separate check and record.
func (g *Guard) CheckRateLimit(ip string) RateLimitResult {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	entry, ok := g.rates[ip]
	if !ok {
		return RateLimitResult{}
	}

	// An elapsed block removes the whole entry; the next attempt starts a
	// fresh window rather than resuming the old counter.
	if entry.blocked {
		if now.After(entry.blockUntil) {
			delete(g.rates, ip)
			return RateLimitResult{}
		}
		return RateLimitResult{Limited: true, RetryAfter: entry.blockUntil.Sub(now)}
	}

	if now.Sub(entry.firstAttempt) > rateLimitWindow {
		delete(g.rates, ip)
		return RateLimitResult{}
	}

	if entry.count >= maxAttempts {
		entry.blocked = true
		entry.blockUntil = now.Add(blockDuration)
		return RateLimitResult{Limited: true, RetryAfter: blockDuration}
	}

	return RateLimitResult{}
}

// RecordAttempt counts one attempt for ip, starting a fresh window if none is
// active or the previous one has expired.
func (g *Guard) RecordAttempt(ip string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	entry, ok := g.rates[ip]
	if !ok || (!entry.blocked && now.Sub(entry.firstAttempt) > rateLimitWindow) {
		g.rates[ip] = &rateLimitEntry{
			count:        1,
			firstAttempt: now,
			lastAttempt:  now,
		}
		return
	}

	entry.count++
	entry.lastAttempt = now
}

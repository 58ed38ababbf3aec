// Package session composes the account, proxy, and fingerprint pools into
// live session contexts and manages their lifecycle.
package session

import (
	"sync"
	"time"

	"github.com/radar-hq/radar/internal/fingerprint"
	"github.com/radar-hq/radar/internal/model"
)

// Key identifies a session: one live context per (account, platform).
type Key = model.SessionRecordKey

// Context is a live session: the account's bound proxy and fingerprint
// plus health bookkeeping. The browser state itself (cookies, storage)
// lives in the orchestrator's record table, not here.
type Context struct {
	AccountID string
	Platform  string

	mu                sync.Mutex
	proxy             model.Proxy
	fp                *fingerprint.Fingerprint
	consecutiveErrors int
	createdAt         time.Time
	lastActivity      time.Time
}

func newContext(accountID, platform string, px model.Proxy, fp *fingerprint.Fingerprint, now time.Time) *Context {
	return &Context{
		AccountID:    accountID,
		Platform:     platform,
		proxy:        px,
		fp:           fp,
		createdAt:    now,
		lastActivity: now,
	}
}

func (c *Context) Proxy() model.Proxy {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.proxy
}

func (c *Context) setProxy(px model.Proxy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.proxy = px
}

func (c *Context) Fingerprint() *fingerprint.Fingerprint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fp
}

// RecordActivity refreshes the idle clock.
func (c *Context) RecordActivity() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActivity = time.Now()
}

func (c *Context) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

func (c *Context) CreatedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.createdAt
}

// markError bumps the consecutive-error counter and returns the new count.
func (c *Context) markError() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consecutiveErrors++
	return c.consecutiveErrors
}

func (c *Context) resetErrors() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consecutiveErrors = 0
}

func (c *Context) Errors() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.consecutiveErrors
}

// Healthy reports whether the context is under the error threshold.
func (c *Context) Healthy(threshold int) bool {
	return c.Errors() < threshold
}

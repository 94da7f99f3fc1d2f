package model

import (
	"sync"
	"time"
)

// Level orders flash messages by severity.
type Level int

const (
	Info Level = iota
	Warn
	Err
)

// Flash holds one transient notification shown in the status bar.
type Flash struct {
	mu      sync.RWMutex
	message string
	level   Level
	expires time.Time
	now     func() time.Time
}

// NewFlash returns a Flash reading time from now. A nil now uses time.Now.
func NewFlash(now func() time.Time) *Flash {
	if now == nil {
		now = time.Now
	}
	return &Flash{now: now}
}

// Set stores a message that expires after d. A lower-severity message does
// not replace a live higher-severity one.
func (f *Flash) Set(msg string, level Level, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now()
	if f.message != "" && now.Before(f.expires) && level < f.level {
		return
	}
	f.message = msg
	f.level = level
	f.expires = now.Add(d)
}

// Get returns the current message and its level, or "" once expired.
func (f *Flash) Get() (string, Level) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if !f.now().Before(f.expires) {
		return "", Info
	}
	return f.message, f.level
}

// Package clock abstracts the current time so that feed parsing and update
// bookkeeping can be pinned in tests and replays.
package clock

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// RealClock reads the system time.
type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now()
}

// ServiceDay returns midnight of the current day in loc. A nil loc means UTC.
// Realtime trip descriptors without a start date are anchored to this day.
func ServiceDay(c Clock, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	now := c.Now().In(loc)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
}

// MockClock is a settable, goroutine-safe clock for tests.
type MockClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

func (m *MockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *MockClock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// Advance moves the clock by d, which may be negative.
func (m *MockClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// EnvironmentClock pins the time to a value read from an environment variable
// or, failing that, a file. It is re-read on every call so a replay harness
// can move time forward between updates. Without a usable value it falls back
// to the system time.
type EnvironmentClock struct {
	envVar   string
	filePath string
	location *time.Location
}

func NewEnvironmentClock(envVar, filePath string, location *time.Location) *EnvironmentClock {
	return &EnvironmentClock{envVar: envVar, filePath: filePath, location: location}
}

func (e *EnvironmentClock) Now() time.Time {
	if t, err := e.fromEnv(); err == nil {
		return t
	}
	if t, err := e.fromFile(); err == nil {
		return t
	}
	if e.envVar != "" || e.filePath != "" {
		slog.Warn("pinned time unavailable, using system time",
			slog.String("env_var", e.envVar), slog.String("file_path", e.filePath))
	}
	return time.Now()
}

func (e *EnvironmentClock) fromEnv() (time.Time, error) {
	if e.envVar == "" {
		return time.Time{}, errors.New("no environment variable configured")
	}
	raw := os.Getenv(e.envVar)
	if raw == "" {
		return time.Time{}, fmt.Errorf("environment variable %s is empty", e.envVar)
	}
	return e.parse(raw)
}

func (e *EnvironmentClock) fromFile() (time.Time, error) {
	if e.filePath == "" {
		return time.Time{}, errors.New("no file configured")
	}
	data, err := os.ReadFile(e.filePath)
	if err != nil {
		return time.Time{}, err
	}
	return e.parse(string(data))
}

func (e *EnvironmentClock) parse(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if e.location == nil {
		return time.Time{}, errors.New("time without offset requires a location")
	}
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, raw, e.location); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse time %q", raw)
}

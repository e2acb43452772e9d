// Package ratelimit gates outbound high-frequency updates per message class.
package ratelimit

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/time/rate"

	"github.com/1ureka/worldlink/internal/protocol"
)

// Class is an independently throttled category of outbound message.
type Class int

const (
	PlayerPose Class = iota
	ObjectState
	classCount
)

func (c Class) String() string {
	switch c {
	case PlayerPose:
		return "player-pose"
	case ObjectState:
		return "object-state"
	}
	return "unknown"
}

// Default minimum send intervals.
const (
	DefaultPlayerPoseInterval  = 16 * time.Millisecond
	DefaultObjectStateInterval = 42 * time.Millisecond
)

// Params configures a Limiter. Zero intervals take the defaults.
type Params struct {
	Clock               clock.Clock
	PlayerPoseInterval  time.Duration
	ObjectStateInterval time.Duration
}

// Limiter admits at most one send per class per interval. Attempts inside the
// interval are dropped, never queued.
type Limiter struct {
	clock   clock.Clock
	mu      sync.Mutex
	buckets [classCount]*rate.Limiter
}

// New creates a Limiter with every class immediately admissible.
func New(params Params) *Limiter {
	c := params.Clock
	if c == nil {
		c = clock.New()
	}
	pose := params.PlayerPoseInterval
	if pose <= 0 {
		pose = DefaultPlayerPoseInterval
	}
	object := params.ObjectStateInterval
	if object <= 0 {
		object = DefaultObjectStateInterval
	}

	l := &Limiter{clock: c}
	l.buckets[PlayerPose] = rate.NewLimiter(rate.Every(pose), 1)
	l.buckets[ObjectState] = rate.NewLimiter(rate.Every(object), 1)
	return l
}

// Allow reports whether a message of class c may be sent now, consuming the
// slot if so.
func (l *Limiter) Allow(c Class) bool {
	if c < 0 || c >= classCount {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buckets[c].AllowN(l.clock.Now(), 1)
}

// ClassOf maps a message to its throttling class. Messages outside the
// high-frequency classes are never throttled.
func ClassOf(m protocol.Message) (Class, bool) {
	switch m.(type) {
	case protocol.UpdatePlayer, protocol.PlayerUpdated:
		return PlayerPose, true
	case protocol.UpdateObject, protocol.ObjectUpdated:
		return ObjectState, true
	}
	return 0, false
}

// AllowMessage applies Allow to throttled message classes and admits
// everything else.
func (l *Limiter) AllowMessage(m protocol.Message) bool {
	c, ok := ClassOf(m)
	if !ok {
		return true
	}
	return l.Allow(c)
}

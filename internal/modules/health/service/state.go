package service

import (
	"sync/atomic"
	"time"
)

// State is the process health seen by the admin endpoints.
type State struct {
	ready     atomic.Bool
	startedAt time.Time

	wsConnected atomic.Bool
	lastTick    atomic.Int64 // unix millis
}

func NewState() *State {
	return &State{startedAt: time.Now()}
}

// SetReady is flipped by the workspace once a challenge session is open.
func (s *State) SetReady(v bool) { s.ready.Store(v) }
func (s *State) Ready() bool     { return s.ready.Load() }

func (s *State) SetWSConnected(v bool) { s.wsConnected.Store(v) }
func (s *State) WSConnected() bool     { return s.wsConnected.Load() }

// TouchTick records the observation time of the newest quote.
func (s *State) TouchTick(t time.Time) { s.lastTick.Store(t.UnixMilli()) }
func (s *State) LastTick() time.Time {
	ms := s.lastTick.Load()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func (s *State) Uptime() time.Duration { return time.Since(s.startedAt) }

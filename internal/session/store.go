// Package session owns the single current authenticated session and the
// background task bound to it.
package session

import (
	"context"
	"time"
)

// RunFunc is the background task of a session. It must return once ctx is
// cancelled.
type RunFunc func(ctx context.Context, user string)

// Session is one authenticated user together with its background task.
type Session struct {
	ID        string
	User      string
	StartedAt time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// Done is closed once the session's task has returned.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// stop cancels the task and waits for it to return.
func (s *Session) stop() {
	s.cancel()
	<-s.done
}

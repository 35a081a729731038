package auth

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"sync"
	"time"
)

var successPage = template.Must(template.New("success").Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>Signed in</title></head>
<body><h1>Login successful</h1><p>You can close this window and return to sitewatch.</p></body></html>`))

var failurePage = template.Must(template.New("failure").Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>Login failed</title></head>
<body><h1>Login failed</h1><p>{{.}}</p></body></html>`))

type callbackResult struct {
	code string
	err  error
}

// Loopback is an ephemeral HTTP listener on 127.0.0.1 that captures exactly
// one authorization redirect. It has no clock of its own: it stops when the
// context given to StartLoopback ends or after its single request.
type Loopback struct {
	listener    net.Listener
	server      *http.Server
	redirectURI string
	state       string

	results    chan callbackResult
	handleOnce sync.Once
	finishOnce sync.Once
	stopOnce   sync.Once
	stopped    chan struct{}
}

// StartLoopback binds an OS assigned port on the loopback interface and
// starts serving. When state is non-empty, a redirect carrying a different
// state is rejected.
func StartLoopback(ctx context.Context, state string) (*Loopback, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to start loopback listener: %w", err)
	}

	l := &Loopback{
		listener:    listener,
		redirectURI: fmt.Sprintf("http://localhost:%d", listener.Addr().(*net.TCPAddr).Port),
		state:       state,
		results:     make(chan callbackResult, 1),
		stopped:     make(chan struct{}),
	}
	l.server = &http.Server{
		Handler:           http.HandlerFunc(l.handle),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		_ = l.server.Serve(listener)
	}()

	go func() {
		select {
		case <-ctx.Done():
			l.Close()
		case <-l.stopped:
		}
	}()

	return l, nil
}

// RedirectURI is the value to send as redirect_uri.
func (l *Loopback) RedirectURI() string {
	return l.redirectURI
}

// Done is closed once the listener has shut down.
func (l *Loopback) Done() <-chan struct{} {
	return l.stopped
}

// Wait blocks until the authorization code arrives or ctx ends. A listener
// that stopped without delivering a code counts as a timeout.
func (l *Loopback) Wait(ctx context.Context) (string, error) {
	select {
	case res, ok := <-l.results:
		if !ok {
			if err := ctx.Err(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
				return "", err
			}
			return "", fmt.Errorf("%w: no authorization code received", ErrAuthTimeout)
		}
		if res.err != nil {
			return "", res.err
		}
		return res.code, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %w", ErrAuthTimeout, ctx.Err())
		}
		return "", ctx.Err()
	}
}

// Close stops the listener. It is safe to call more than once.
func (l *Loopback) Close() {
	l.finish(nil)
	l.stopOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = l.server.Shutdown(ctx)
		close(l.stopped)
	})
}

// finish publishes at most one result and closes the channel.
func (l *Loopback) finish(res *callbackResult) {
	l.finishOnce.Do(func() {
		if res != nil {
			l.results <- *res
		}
		close(l.results)
	})
}

func (l *Loopback) handle(w http.ResponseWriter, r *http.Request) {
	handled := false
	l.handleOnce.Do(func() {
		handled = true
		l.capture(w, r)
		go l.Close()
	})

	if !handled {
		http.Error(w, "authorization already received", http.StatusGone)
	}
}

func (l *Loopback) capture(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Connection", "close")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	query := r.URL.Query()
	switch {
	case query.Get("error") != "":
		err := fmt.Errorf("%w: %s: %s", ErrProvider, query.Get("error"), query.Get("error_description"))
		w.WriteHeader(http.StatusBadRequest)
		_ = failurePage.Execute(w, query.Get("error_description"))
		l.finish(&callbackResult{err: err})
	case l.state != "" && query.Get("state") != l.state:
		w.WriteHeader(http.StatusBadRequest)
		_ = failurePage.Execute(w, "The login response did not match this request.")
		l.finish(&callbackResult{err: fmt.Errorf("%w: state mismatch in redirect", ErrProvider)})
	case query.Get("code") != "":
		_ = successPage.Execute(w, nil)
		l.finish(&callbackResult{code: query.Get("code")})
	default:
		w.WriteHeader(http.StatusBadRequest)
		_ = failurePage.Execute(w, "No authorization code was received.")
		l.finish(nil)
	}
}

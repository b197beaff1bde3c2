// Package web contains a small extension to the standard library's HTTP
// support that wires in a request-scoped context value, a uniform error
// return from handlers, and an httptreemux-based router that groups routes
// by API version.
package web

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/dimfeld/httptreemux/v5"
	"github.com/google/uuid"
)

// Handler is the signature every application handler must implement. A
// returned error is handled centrally by the Errors middleware instead of
// at each call site.
type Handler func(ctx context.Context, w http.ResponseWriter, r *http.Request) error

// Middleware wraps a Handler with cross-cutting behavior and returns a new
// Handler to run in its place.
type Middleware func(Handler) Handler

// =============================================================================

// Values carries request-scoped information through the context: a trace
// id for correlating log lines with a single request, and the time the
// request started for latency logging.
type Values struct {
	TraceID    string
	Now        time.Time
	StatusCode int
}

type ctxKey int

const key ctxKey = 1

// GetValues returns the Values stored in ctx, or an error if none were
// set. Every request carries one, set by the App before any handler or
// middleware runs.
func GetValues(ctx context.Context) (*Values, error) {
	v, ok := ctx.Value(key).(*Values)
	if !ok {
		return nil, errors.New("web value missing from context")
	}
	return v, nil
}

// SetStatusCode records the status code a handler intends to write, so
// logging middleware run after the fact can report it.
func SetStatusCode(ctx context.Context, statusCode int) error {
	v, err := GetValues(ctx)
	if err != nil {
		return err
	}
	v.StatusCode = statusCode
	return nil
}

// =============================================================================

// shutdownError is returned by a handler to signal the application should
// begin a graceful shutdown; App.Handle recognizes it and signals the
// shutdown channel rather than merely logging the error.
type shutdownError struct {
	Message string
}

// NewShutdownError returns an error that causes the framework to signal a
// graceful shutdown of the application.
func NewShutdownError(message string) error {
	return &shutdownError{message}
}

func (se *shutdownError) Error() string {
	return se.Message
}

// IsShutdown checks to see if the shutdown error is contained in the
// specified error value.
func IsShutdown(err error) bool {
	var se *shutdownError
	return errors.As(err, &se)
}

// =============================================================================

// App is the entrypoint for the application, wrapping httptreemux's router
// with middleware that runs on every registered route.
type App struct {
	*httptreemux.ContextMux
	shutdown chan os.Signal
	mw       []Middleware
}

// NewApp creates an App value that handles a set of routes for the
// application, applying mw to every handler registered afterward.
func NewApp(shutdown chan os.Signal, mw ...Middleware) *App {
	return &App{
		ContextMux: httptreemux.NewContextMux(),
		shutdown:   shutdown,
		mw:         mw,
	}
}

// SignalShutdown is used to gracefully shut down the app when an integrity
// issue is identified.
func (a *App) SignalShutdown() {
	a.shutdown <- os.Interrupt
}

// Handle sets a handler function for a given HTTP method and path pair to
// the application's router, versioned under group (pass "" to skip
// versioning, as OPTIONS preflight routes do). Handler-specific middleware
// runs innermost, closest to h; the App's own middleware runs outermost.
func (a *App) Handle(method string, group string, path string, h Handler, mw ...Middleware) {
	h = wrapMiddleware(mw, h)
	h = wrapMiddleware(a.mw, h)

	fn := func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		v := Values{
			TraceID: uuid.NewString(),
			Now:     time.Now(),
		}
		ctx = context.WithValue(ctx, key, &v)

		if err := h(ctx, w, r); err != nil {
			if IsShutdown(err) {
				a.SignalShutdown()
			}
		}
	}

	finalPath := path
	if group != "" {
		finalPath = "/" + group + path
	}

	a.ContextMux.Handle(method, finalPath, fn)
}

// wrapMiddleware wraps handler h with mw, applied in slice order so the
// first middleware in the slice is the outermost layer.
func wrapMiddleware(mw []Middleware, h Handler) Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		if mw[i] != nil {
			h = mw[i](h)
		}
	}
	return h
}

// Param returns the web call parameters from the request.
func Param(r *http.Request, key string) string {
	m := httptreemux.ContextParams(r.Context())
	return m[key]
}

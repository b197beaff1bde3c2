package mid

import (
	"context"
	"expvar"
	"net/http"
	"runtime"

	"github.com/proofchain/powchain/foundation/web"
)

// m contains the global program counters for the application.
var m = struct {
	goroutines *expvar.Int
	requests   *expvar.Int
	errors     *expvar.Int
	panics     *expvar.Int
}{
	goroutines: expvar.NewInt("goroutines"),
	requests:   expvar.NewInt("requests"),
	errors:     expvar.NewInt("errors"),
	panics:     expvar.NewInt("panics"),
}

// Metrics updates program counters using the expvar package.
func Metrics() web.Middleware {

	mw := func(handler web.Handler) web.Handler {

		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			err := handler(ctx, w, r)

			m.requests.Add(1)

			if n := runtime.NumGoroutine(); n%100 == 0 {
				m.goroutines.Set(int64(n))
			}

			if err != nil {
				m.errors.Add(1)
			}

			return err
		}

		return h
	}

	return mw
}

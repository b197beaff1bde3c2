package mid

import (
	"context"
	"net/http"

	"github.com/proofchain/powchain/business/web/errs"
	"github.com/proofchain/powchain/foundation/web"
	"go.uber.org/zap"
)

// Errors handles errors coming out of the call chain. It detects normal
// application errors which are used to respond to the client in a
// uniform way. Unexpected errors (status values above 500) are logged.
func Errors(log *zap.SugaredLogger) web.Middleware {

	m := func(handler web.Handler) web.Handler {

		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			v, err := web.GetValues(ctx)
			if err != nil {
				return web.NewShutdownError("web value missing from context")
			}

			if err := handler(ctx, w, r); err != nil {

				log.Errorw("request error", "traceid", v.TraceID, "ERROR", err)

				var er errs.Response
				var status int

				switch {
				case errs.IsTrusted(err):
					reqErr := errs.GetTrusted(err)
					er = errs.Response{Error: reqErr.Err.Error()}
					status = reqErr.Status

				case web.IsShutdown(err):
					return err

				default:
					er = errs.Response{Error: http.StatusText(http.StatusInternalServerError)}
					status = http.StatusInternalServerError
				}

				if err := web.Respond(ctx, w, er, status); err != nil {
					return err
				}

				if web.IsShutdown(err) {
					return err
				}
			}

			return nil
		}

		return h
	}

	return m
}

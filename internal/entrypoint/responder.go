// SPDX-License-Identifier: MPL-2.0

package entrypoint

import (
	"context"
	"log/slog"

	"github.com/inkboard/inkboot/internal/config"
	"github.com/inkboard/inkboot/internal/healthsrv"
	"github.com/inkboard/inkboot/internal/preflight"
)

// BuiltinResponder serves /health and /health/db with healthsrv. The
// database probe uses DATABASE_URL normalised the same way as preflight.
func BuiltinResponder(logger *slog.Logger, forceIPv4 bool) Responder {
	return func(ctx context.Context, addr string, env config.ServiceEnv) error {
		info := healthsrv.Info{Name: env.Get(config.EnvAppName), Version: env.Get(config.EnvAppVersion)}

		var db healthsrv.Pinger
		if raw := env.Get(config.EnvDatabaseURL); raw != "" {
			dsn, err := preflight.NormalizeDSN(raw, forceIPv4)
			if err != nil {
				logger.Warn("database probe disabled", "error", err)
			} else if pinger, err := healthsrv.NewPoolPinger(ctx, dsn); err != nil {
				logger.Warn("database probe disabled", "error", err)
			} else {
				defer pinger.Close()
				db = pinger
			}
		}

		srv := healthsrv.New(addr, healthsrv.NewRouter(info, db, logger), healthsrv.WithLogger(logger))
		return srv.Serve(ctx, healthsrv.DefaultShutdownTimeout)
	}
}

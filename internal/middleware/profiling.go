package middleware

import (
	"log/slog"
	"net/http"
	"net/http/pprof"
	"strings"
)

// profilingPrefix is where pprof handlers are mounted.
const profilingPrefix = "/debug/pprof/"

// Profiling serves net/http/pprof under /debug/pprof/ when enabled. It
// refuses to mount in production, whatever the flag says; other paths pass
// through.
func Profiling(enabled bool, env string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !enabled {
			return next
		}
		if isProduction(env) {
			slog.Error("profiling requested in production, not mounting", "env", env)
			return next
		}
		slog.Warn("pprof endpoints enabled", "env", env, "prefix", profilingPrefix)

		mux := http.NewServeMux()
		mux.HandleFunc(profilingPrefix, pprof.Index)
		mux.HandleFunc(profilingPrefix+"cmdline", pprof.Cmdline)
		mux.HandleFunc(profilingPrefix+"profile", pprof.Profile)
		mux.HandleFunc(profilingPrefix+"symbol", pprof.Symbol)
		mux.HandleFunc(profilingPrefix+"trace", pprof.Trace)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, profilingPrefix) {
				mux.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isProduction(env string) bool {
	switch strings.ToLower(env) {
	case "production", "prod":
		return true
	}
	return false
}

// Package static serves a directory of client assets over HTTP.
package static

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/1ureka/worldlink/internal/transport"
	"github.com/1ureka/worldlink/internal/util"
)

// Handler serves dir. Every response is marked uncacheable so that clients
// always pick up freshly built assets.
func Handler(dir string, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.With(zap.String("component", "static"))
	files := http.FileServer(http.Dir(dir))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		w.Header().Set("Cache-Control", "no-store")
		rec := &recorder{ResponseWriter: w, status: http.StatusOK}
		files.ServeHTTP(rec, r)
		util.Stats.AddSent(rec.bytes)
		log.Debug("Served",
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("took", time.Since(start)))
	})
}

type recorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *recorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *recorder) Write(p []byte) (int, error) {
	n, err := r.ResponseWriter.Write(p)
	r.bytes += n
	return n, err
}

// Serve hosts dir on listener until ctx is cancelled.
func Serve(ctx context.Context, listener net.Listener, dir string, logger *zap.Logger) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("static dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("static dir: %s is not a directory", dir)
	}
	return transport.Serve(ctx, listener, Handler(dir, logger), logger)
}

package signaling

import (
	"context"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/1ureka/worldlink/internal/transport"
	"github.com/1ureka/worldlink/internal/util"
)

// Handler returns the broker's HTTP surface: the signaling socket at /ws and
// Prometheus metrics at /metrics.
func Handler(b *Broker) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", b)
	mux.Handle("/metrics", promhttp.HandlerFor(util.NewRegistry(), promhttp.HandlerOpts{}))
	return mux
}

// Serve runs a broker on listener until ctx is cancelled.
func Serve(ctx context.Context, listener net.Listener, logger *zap.Logger) error {
	b := NewBroker(Params{Logger: logger})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		b.Run(ctx)
		return nil
	})
	g.Go(func() error {
		return transport.Serve(ctx, listener, Handler(b), logger)
	})
	return g.Wait()
}

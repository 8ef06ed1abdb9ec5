package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "linkterm"

// Register exposes every counter of c on reg.  The collectors read the
// atomics at scrape time, so nothing on the session's hot path touches
// Prometheus.
func (c *Collector) Register(reg prometheus.Registerer) error {
	if c == nil {
		return nil
	}
	counter := func(subsystem, name, help string, v func() int64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(v()) })
	}

	cs := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "open",
			Help:      "1 while the link is open.",
		}, func() float64 { return float64(c.linkOpen.Load()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Seconds since the session started.",
		}, func() float64 { return time.Since(c.startTime).Seconds() }),

		counter("link", "received_bytes_total", "Bytes read from the link.", c.bytesIn.Load),
		counter("link", "received_chunks_total", "Non-empty receive polls.", c.chunksIn.Load),
		counter("link", "sent_bytes_total", "Bytes delivered by reliable sends.", c.bytesOut.Load),
		counter("link", "sends_total", "Reliable sends that completed.", c.sendsOK.Load),
		counter("link", "send_retries_total", "Failed send attempts that were retried.", c.sendRetries.Load),
		counter("link", "send_failures_total", "Sends that exhausted their retry budget.", c.sendFailures.Load),
		counter("link", "sends_rejected_total", "Sends refused while the link looked wedged.", c.sendsRejected.Load),
		counter("link", "resets_total", "Successful link reinitialisations.", c.resets.Load),
		counter("link", "reset_failures_total", "Failed link reinitialisations.", c.resetFailures.Load),
		counter("link", "keepalives_total", "Periodic status probes.", c.keepAlives.Load),
		counter("session", "greetings_total", "Greeting literals answered.", c.greetings.Load),
		counter("session", "commands_total", "Commands dispatched.", c.commands.Load),
		counter("session", "unknown_commands_total", "Dispatched tokens with no table entry.", c.unknownCmds.Load),
		counter("session", "errors_total", "Errors reported to the operator.", c.errorsTotal.Load),
	}
	for _, col := range cs {
		if err := reg.Register(col); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
	}
	return nil
}

// Serve runs a /metrics endpoint for g on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listen %s: %w", addr, err)
	}
	return ServeListener(ctx, ln, g)
}

// ServeListener is [Serve] on an existing listener.
func ServeListener(ctx context.Context, ln net.Listener, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx) //nolint:errcheck
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

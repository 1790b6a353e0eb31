package commands

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/entrhq/driverpool/pkg/config"
	"github.com/entrhq/driverpool/pkg/driver"
	"github.com/entrhq/driverpool/pkg/event"
	"github.com/entrhq/driverpool/pkg/logging"
	"github.com/entrhq/driverpool/pkg/metrics"
	"github.com/entrhq/driverpool/pkg/proxy"
	"github.com/entrhq/driverpool/pkg/session"
)

var (
	workers     int
	urls        []string
	upstream    string
	metricsAddr string
	showEvents  bool
	abandon     bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Open URLs from a number of workers, one browser each",
	Long: `Start --workers workers. Each worker opens every --url in its own browser
session, verifying the session before each page, and prints the page titles.

With --abandon the workers exit without closing their browsers, leaving the
sessions to be reclaimed by the dead worker reaper.`,
	Example: `  driverpool run --url https://example.com --workers 4
  driverpool run --url https://example.com --events --metrics-addr :9090`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(urls) == 0 {
			return errors.New("at least one --url is required")
		}
		return runWorkers(cmd.Context(), cmd.OutOrStdout(), newLogger(cmd, "run"))
	},
}

func init() {
	runCmd.Flags().IntVarP(&workers, "workers", "w", 1, "Number of concurrent workers")
	runCmd.Flags().StringSliceVarP(&urls, "url", "u", nil, "URL to open (repeatable)")
	runCmd.Flags().StringVar(&upstream, "proxy", "", "Upstream HTTP proxy host:port")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	runCmd.Flags().BoolVar(&showEvents, "events", false, "Print session lifecycle events")
	runCmd.Flags().BoolVar(&abandon, "abandon", false, "Exit workers without closing their browsers")
}

func runWorkers(parent context.Context, out io.Writer, logger *logging.Logger) error {
	defer logger.Close()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	section := config.GetDriver()
	s := section.Settings()

	provider := driver.NewPlaywrightProvider(driver.PlaywrightOptions{
		Browser:  s.Browser,
		Headless: s.Headless,
	}, logger)
	if err := provider.Initialize(); err != nil {
		return err
	}
	defer provider.Stop()

	m := metrics.New()
	if metricsAddr != "" {
		reg := prometheus.NewRegistry()
		if err := m.Register(reg); err != nil {
			return err
		}
		srv := &http.Server{Addr: metricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Errorf("Metrics server stopped: %v", err)
			}
		}()
		defer srv.Close()
	}

	var mu sync.Mutex

	bus := event.NewBus(logger)
	defer bus.Close()
	if showEvents {
		events, err := bus.Subscribe(ctx)
		if err != nil {
			return err
		}
		go printEvents(out, &mu, events)
	}

	hooks := session.NewExitHooks()
	registry, err := session.NewRegistry(provider,
		session.WithDriverSection(section),
		session.WithLogger(logger),
		session.WithMetrics(m),
		session.WithEventBus(bus),
		session.WithExitHooks(hooks),
	)
	if err != nil {
		return err
	}
	defer registry.Shutdown()

	if upstream != "" {
		registry.SetProxy(&proxy.Descriptor{HTTP: upstream, SSL: upstream})
	}

	// Close every browser on Ctrl+C before the process goes away.
	go func() {
		if err := <-hooks.Notify(ctx); err != nil {
			logger.Errorf("Exit hooks failed: %v", err)
		}
		cancel()
	}()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		n := i + 1
		g.Go(func() error {
			w := session.NewWorker(gctx)
			defer w.Exit()
			if !abandon {
				defer registry.CloseCurrent(w)
			}

			for _, u := range urls {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				h, err := registry.GetAndVerify(w)
				if err != nil {
					return err
				}
				if err := h.Open(u); err != nil {
					return errors.Wrapf(err, "worker %d: open %s", n, u)
				}
				title, err := h.Title()
				if err != nil {
					return errors.Wrapf(err, "worker %d: title of %s", n, u)
				}
				mu.Lock()
				fmt.Fprintf(out, "worker %d [%s]: %s -> %q\n", n, h.ID(), u, title)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if abandon {
		// Give the reaper a few rounds to notice the exited workers.
		deadline := time.Now().Add(s.CloseBrowserTimeout + 10*s.ReaperInterval)
		for len(registry.Workers()) > 0 && time.Now().Before(deadline) {
			time.Sleep(s.ReaperInterval)
		}
	}
	return nil
}

func printEvents(out io.Writer, mu *sync.Mutex, events <-chan event.Event) {
	for e := range events {
		mu.Lock()
		fmt.Fprintf(out, "%s %-22s worker=%s handle=%s %s\n",
			e.Time.Format("15:04:05.000"), e.Type, e.Worker, e.Handle, e.Detail)
		mu.Unlock()
	}
}

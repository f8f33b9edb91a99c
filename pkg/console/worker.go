package console

import (
	"context"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mostefaiamine-25/aspire-functions/pkg/config"
	"github.com/mostefaiamine-25/aspire-functions/pkg/connection"
	"github.com/mostefaiamine-25/aspire-functions/pkg/queue"
	"github.com/mostefaiamine-25/aspire-functions/pkg/root"
	"github.com/mostefaiamine-25/aspire-functions/pkg/schedule"
	"github.com/mostefaiamine-25/aspire-functions/pkg/server"
	"github.com/mostefaiamine-25/aspire-functions/pkg/telemetry"
	"github.com/mostefaiamine-25/aspire-functions/pkg/worker"
)

var hostConcurrency int

var workerCmd = &cobra.Command{
	Use:     "functions:start",
	Aliases: []string{"host"},
	Short:   "Start the functions host and listen on every trigger queue",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		if hostConcurrency > 0 {
			cfg.Host.Concurrency = hostConcurrency
		}

		ctx, cancel := signalContext()
		defer cancel()

		if err := runHost(ctx, cfg); err != nil {
			log.Fatal().Err(err).Msg("Functions host stopped")
		}
		log.Info().Msg("Functions host stopped.")
	},
}

func runHost(ctx context.Context, cfg *config.Config) error {
	tp, shutdown, err := telemetry.InitTracer("functions-host", cfg.Log.TraceExporter)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			log.Error().Err(err).Msg("Error shutting down tracer")
		}
	}()

	encoding, err := queue.ParseEncoding(cfg.Queue.Encoding)
	if err != nil {
		return err
	}

	registry := queue.Default()
	registerFunctions(registry, log.Logger)

	conn, err := connection.NewDriver(ctx, cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	metrics, err := worker.NewMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}

	opts := worker.OptionsFromConfig(cfg.Host, encoding)
	opts.Metrics = metrics
	w := worker.NewWorker(conn.Driver, conn.Poison, registry, opts, tp.Tracer("functions-host"))

	kernel := schedule.NewKernel(log.Logger)
	if err := w.ScheduleDepthSampling(kernel, cfg.Host.DepthSchedule); err != nil {
		return err
	}

	router := httprouter.New()
	router.GET("/healthz", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Handler(http.MethodGet, "/metrics", promhttp.Handler())

	log.Info().
		Str("driver", conn.Name).
		Str("addr", httpAddress(cfg.HTTP)).
		Int("triggers", len(registry.Triggers())).
		Msg("Starting functions host...")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return w.Run(log.Logger.WithContext(ctx))
	})
	g.Go(func() error {
		kernel.Run(ctx)
		return nil
	})
	g.Go(func() error {
		return server.ListenAndServe(ctx, httpAddress(cfg.HTTP), router)
	})
	return g.Wait()
}

func init() {
	workerCmd.Flags().IntVar(&hostConcurrency, "concurrency", 0, "Concurrent invocations per trigger (defaults to HOST_BATCH_SIZE)")

	root.GetRoot().AddCommand(workerCmd)
}

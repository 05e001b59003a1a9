package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/chakssp/vcia-dhl-sub005/engine/consolidator"
	"github.com/chakssp/vcia-dhl-sub005/engine/enrich"
	"github.com/chakssp/vcia-dhl-sub005/engine/ingest"
	"github.com/chakssp/vcia-dhl-sub005/pkg/natsutil"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var bind string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the NATS ingest consumer and periodic enrichment",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.runWithApp(cmd, true, func(a *app) error {
				if bind == "" {
					bind = a.cfg.Server.Bind
				}
				return runServe(cmd.Context(), a, bind)
			})
		},
	}

	cmd.Flags().StringVar(&bind, "bind", "", "Listen address (default from config)")
	return cmd
}

func runServe(ctx context.Context, a *app, bind string) error {
	cfg := a.cfg
	if err := a.svc.Ready(ctx); err != nil {
		a.log.Warn("store not ready; retrying on first request", "error", err)
	}

	opts, err := batchOptions(cfg, "", nil)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         bind,
		Handler:      newServer(a.svc, opts, a.log).handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info("http server starting", "addr", bind)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	if a.nc != nil {
		sub, err := ingest.StartConsumer(a.nc, a.svc, ingest.ConsumerOpts{
			Subject:    cfg.NATS.IngestSubject,
			DLQSubject: cfg.NATS.DLQSubject,
			MaxRetries: cfg.NATS.MaxRetries,
			Logger:     a.log,
		})
		if err != nil {
			return fmt.Errorf("start ingest consumer: %w", err)
		}
		a.log.Info("ingest consumer started", "subject", sub.Subject)

		esub, err := subscribeEnrichRequests(a.nc, cfg.NATS.EnrichSubject, a.svc, a.log)
		if err != nil {
			_ = sub.Unsubscribe()
			return fmt.Errorf("subscribe enrich requests: %w", err)
		}
		g.Go(func() error {
			<-gctx.Done()
			return errors.Join(sub.Unsubscribe(), esub.Unsubscribe())
		})
	}

	if every := cfg.Enrich.Interval(); every > 0 {
		publish := natsutil.Progress[enrich.Progress](gctx, a.nc, cfg.NATS.ProgressSubject, "enrich", a.log)
		g.Go(func() error {
			runPeriodicEnrichment(gctx, a, every, publish)
			return nil
		})
	}

	return g.Wait()
}

// enrichRequest asks serve to enrich one point.
type enrichRequest struct {
	ID   uint64         `json:"id"`
	Data map[string]any `json:"data,omitempty"`
}

func subscribeEnrichRequests(nc *nats.Conn, subject string, svc *consolidator.Service, log *slog.Logger) (*nats.Subscription, error) {
	return natsutil.Subscribe(nc, subject, log, func(ctx context.Context, req enrichRequest) {
		out := svc.EnrichPoint(ctx, req.ID, req.Data)
		if !out.Success {
			log.Warn("enrich request failed", "point_id", req.ID, "reason", out.Reason)
			return
		}
		log.Info("enrich request done", "point_id", req.ID, "filled", len(out.Filled), "level", out.Level)
	})
}

// runPeriodicEnrichment enriches incomplete points every interval until ctx
// ends.
func runPeriodicEnrichment(ctx context.Context, a *app, every time.Duration, progress func(enrich.Progress)) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sum := a.svc.EnrichAll(ctx, enrichOptions(a.cfg), progress)
			if sum.Err != "" {
				a.log.Warn("periodic enrichment failed", "error", sum.Err)
				continue
			}
			a.log.Info("periodic enrichment done", "run_id", sum.RunID, "enriched", sum.Enriched, "errors", sum.Errors)
		}
	}
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/htrap1211/GraphX-OSINT/internal/bus"
	"github.com/htrap1211/GraphX-OSINT/internal/config"
	"github.com/htrap1211/GraphX-OSINT/internal/knowledgegraph"
	"github.com/htrap1211/GraphX-OSINT/internal/metrics"
	"github.com/htrap1211/GraphX-OSINT/internal/observability"
	"github.com/htrap1211/GraphX-OSINT/internal/risk"
	"github.com/htrap1211/GraphX-OSINT/internal/store"
	"github.com/htrap1211/GraphX-OSINT/internal/workspace"
)

// newArchivePool connects to the snapshot archive. Tests replace it.
var newArchivePool = func(ctx context.Context, url string) (store.DBPool, func(), error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, nil, err
	}
	return pool, pool.Close, nil
}

func newWatchCmd() *cobra.Command {
	var exitOnComplete bool

	watchCmd := &cobra.Command{
		Use:   "watch <job-id>",
		Short: "Follow a job and its graph until interrupted",
		Long: `Opens a workspace for the job, polls its status and graph, and prints every
change. With metrics enabled the prometheus endpoint is served while watching.
With the archive enabled every applied snapshot is stored in Postgres.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfig(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			logger := observability.GetLogger()

			var reg *metrics.Registry
			var opts []workspace.Option
			if cfg.Metrics.Enabled {
				reg = metrics.NewRegistry()
				stop := serveMetrics(cfg.Metrics, reg, logger)
				defer stop()
				opts = append(opts, workspace.WithMetrics(reg))
			}
			if cfg.Archive.Enabled {
				archive, closeArchive, err := openArchive(ctx, cfg.Archive, logger)
				if err != nil {
					return err
				}
				defer closeArchive()
				opts = append(opts, workspace.WithArchiver(archive))
			}

			s, err := openSession(cmd, args[0], reg, opts...)
			if err != nil {
				return err
			}
			defer s.Close()

			err = watch(ctx, s, cmd.OutOrStdout(), exitOnComplete)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	watchCmd.Flags().BoolVar(&exitOnComplete, "exit-on-complete", false, "stop once the job is terminal and a later snapshot has been applied")
	return watchCmd
}

// watch prints session events to out until ctx ends or, with exitOnComplete,
// until a snapshot arrives after the job turned terminal.
func watch(ctx context.Context, s *workspace.Session, out io.Writer, exitOnComplete bool) error {
	events, unsubscribe := s.Events(bus.EventJobUpdated, bus.EventSnapshotReplaced, bus.EventMergeApplied, bus.EventTransientError)
	defer unsubscribe()

	stats := s.Stats()
	fmt.Fprintf(out, "graph  %s\n", formatStats(stats))
	terminal := false
	if job, ok := s.Job(); ok {
		fmt.Fprintf(out, "job    %s\n", formatJob(job.Status.String(), job.CompletedTasks, job.TotalTasks, job.Progress()))
		terminal = job.Status.Terminal()
	}
	if terminal {
		s.Trigger(workspace.LoopGraph)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch p := ev.Payload.(type) {
			case workspace.JobUpdate:
				fmt.Fprintf(out, "job    %s\n", formatJob(p.Job.Status.String(), p.Job.CompletedTasks, p.Job.TotalTasks, p.Job.Progress()))
				if !terminal && p.Job.Status.Terminal() {
					terminal = true
					// One more snapshot picks up whatever the job wrote last.
					s.Trigger(workspace.LoopGraph)
				}
			case workspace.GraphUpdate:
				label := "graph "
				if ev.Type == bus.EventMergeApplied {
					label = "merge "
				}
				fmt.Fprintf(out, "%s %s\n", label, formatStats(p.Stats))
				if exitOnComplete && terminal && ev.Type == bus.EventSnapshotReplaced {
					return nil
				}
			case *bus.TransientError:
				fmt.Fprintf(out, "warn   %s\n", p.Error())
			}
		}
	}
}

func formatJob(status string, completed, total int, progress float64) string {
	return fmt.Sprintf("%-9s %d/%d tasks (%.0f%%)", status, completed, total, progress*100)
}

func formatStats(s knowledgegraph.Stats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d nodes, %d edges", s.Nodes, s.Edges)
	if s.Dangling > 0 {
		fmt.Fprintf(&b, " (%d dangling)", s.Dangling)
	}
	levels := []risk.Level{risk.LevelHigh, risk.LevelMedium, risk.LevelLow}
	parts := make([]string, 0, len(levels))
	for _, l := range levels {
		if n := s.ByLevel[l]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", strings.ToLower(l.String()), n))
		}
	}
	if len(parts) > 0 {
		b.WriteString(" risk[" + strings.Join(parts, " ") + "]")
	}
	kinds := make([]string, 0, len(s.ByKind))
	for k, n := range s.ByKind {
		kinds = append(kinds, fmt.Sprintf("%s=%d", k, n))
	}
	sort.Strings(kinds)
	if len(kinds) > 0 {
		b.WriteString(" kinds[" + strings.Join(kinds, " ") + "]")
	}
	return b.String()
}

// serveMetrics exposes reg on cfg.ListenAddr until the returned stop is called.
func serveMetrics(cfg config.MetricsConfig, reg *metrics.Registry, logger *zap.Logger) func() {
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           metricsMux(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("Serving metrics", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func metricsMux(reg *metrics.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", reg.Handler())
	return mux
}

// openArchive connects the snapshot archive and makes sure its tables exist.
func openArchive(ctx context.Context, cfg config.ArchiveConfig, logger *zap.Logger) (*store.Store, func(), error) {
	pool, closePool, err := newArchivePool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to archive database: %w", err)
	}
	archive, err := store.New(ctx, pool, logger)
	if err != nil {
		closePool()
		return nil, nil, fmt.Errorf("failed to initialize snapshot archive: %w", err)
	}
	if err := archive.EnsureSchema(ctx); err != nil {
		closePool()
		return nil, nil, fmt.Errorf("failed to create archive schema: %w", err)
	}
	return archive, closePool, nil
}

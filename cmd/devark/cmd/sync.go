package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	devsync "github.com/thebtf/devark/internal/sync"
	"github.com/thebtf/devark/internal/worker"
	"github.com/thebtf/devark/pkg/hooks"
)

const daemonSyncTimeout = 5 * time.Minute

var (
	syncForce bool
	syncSince string
	syncQuiet bool
	syncHook  bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Upload sanitized sessions to the devark backend",
	Long: "Uploads sessions recorded since the last sync. When the daemon is running the " +
		"request is forwarded to it; otherwise the stores are opened directly.",
	RunE: runSync,
}

func init() {
	syncCmd.Flags().BoolVar(&syncForce, "force", false, "upload every session regardless of the last sync")
	syncCmd.Flags().StringVar(&syncSince, "since", "", "lower bound, RFC3339 or YYYY-MM-DD")
	syncCmd.Flags().BoolVarP(&syncQuiet, "quiet", "q", false, "suppress progress output")
	syncCmd.Flags().BoolVar(&syncHook, "hook", false, "run as a tool hook: never fail, skip without a token")
}

// parseSince accepts RFC3339 timestamps or plain local dates.
func parseSince(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return &t, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, v, time.Local)
	if err != nil {
		return nil, fmt.Errorf("invalid --since %q: want RFC3339 or YYYY-MM-DD", v)
	}
	return &t, nil
}

func runSync(cmd *cobra.Command, args []string) error {
	quiet := syncQuiet || syncHook
	out := cmd.OutOrStdout()
	if quiet {
		out = io.Discard
	}

	err := doSync(cmd.Context(), out)
	if syncHook && err != nil {
		log.Debug().Err(err).Msg("Hook sync skipped")
		return nil
	}
	return err
}

func doSync(parent context.Context, out io.Writer) error {
	since, err := parseSince(syncSince)
	if err != nil {
		return err
	}
	if syncHook && cfg.Token == "" {
		return errors.New("no token configured")
	}

	var res devsync.SyncResult
	if hooks.IsWorkerRunning(cfg.WorkerPort) {
		fmt.Fprintln(out, "Syncing through the running daemon...")
		req := worker.SyncRequest{Since: since, Force: syncForce}
		if err := hooks.PostJSON(cfg.WorkerPort, "/api/sync", daemonSyncTimeout, req, &res); err != nil {
			return err
		}
	} else {
		res, err = syncLocal(parent, since, out)
		if err != nil {
			return err
		}
	}
	return reportSync(out, res)
}

func syncLocal(parent context.Context, since *time.Time, out io.Writer) (devsync.SyncResult, error) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := worker.New(Version, cfg)
	if err != nil {
		return devsync.SyncResult{}, fmt.Errorf("init: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := svc.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Shutdown failed")
		}
	}()
	if err := svc.Load(ctx); err != nil {
		return devsync.SyncResult{}, err
	}

	return svc.Sync(ctx, devsync.Options{
		Since: since,
		Force: syncForce,
		Progress: func(p devsync.Progress) {
			printProgress(out, p)
		},
	})
}

func printProgress(out io.Writer, p devsync.Progress) {
	switch {
	case p.TotalBatches > 0:
		fmt.Fprintf(out, "[%s] batch %d/%d: %s\n", p.Phase, p.CurrentBatch, p.TotalBatches, p.Message)
	case p.Total > 0:
		fmt.Fprintf(out, "[%s] %d/%d: %s\n", p.Phase, p.Current, p.Total, p.Message)
	default:
		fmt.Fprintf(out, "[%s] %s\n", p.Phase, p.Message)
	}
}

func reportSync(out io.Writer, res devsync.SyncResult) error {
	if !res.Success {
		if len(res.Errors) == 0 {
			return errors.New("sync failed")
		}
		errs := make([]error, 0, len(res.Errors))
		for _, e := range res.Errors {
			errs = append(errs, e)
		}
		return fmt.Errorf("sync failed: %w", errors.Join(errs...))
	}
	fmt.Fprintf(out, "Uploaded %d of %d eligible sessions (%d found) in %d batches\n",
		res.SessionsUploaded, res.SessionsEligible, res.SessionsFound, res.Batches)
	for _, e := range res.Errors {
		fmt.Fprintf(out, "  warning: %s\n", e.Error())
	}
	return nil
}

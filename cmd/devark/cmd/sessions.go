package cmd

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/thebtf/devark/internal/worker"
	"github.com/thebtf/devark/pkg/hooks"
	"github.com/thebtf/devark/pkg/models"
)

var sessionsAll bool

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List projects and their sessions",
	RunE:  runSessions,
}

func init() {
	sessionsCmd.Flags().BoolVar(&sessionsAll, "all", false, "include sessions without user prompts")
}

func runSessions(cmd *cobra.Command, args []string) error {
	projects, err := loadProjects(cmd.Context())
	if err != nil {
		return err
	}
	printProjects(cmd.OutOrStdout(), projects)
	return nil
}

func loadProjects(ctx context.Context) ([]*models.Project, error) {
	uiOnly := !sessionsAll
	if hooks.IsWorkerRunning(cfg.WorkerPort) {
		var projects []*models.Project
		path := "/api/projects?ui=" + strconv.FormatBool(uiOnly)
		if err := hooks.GetJSON(cfg.WorkerPort, path, 10*time.Second, &projects); err != nil {
			return nil, err
		}
		return projects, nil
	}

	if ctx == nil {
		ctx = context.Background()
	}
	svc, err := worker.New(Version, cfg)
	if err != nil {
		return nil, fmt.Errorf("init: %w", err)
	}
	defer func() {
		if err := svc.Shutdown(context.Background()); err != nil {
			log.Warn().Err(err).Msg("Shutdown failed")
		}
	}()
	if err := svc.Load(ctx); err != nil {
		return nil, err
	}
	return svc.Projects(ctx, uiOnly)
}

func printProjects(out io.Writer, projects []*models.Project) {
	if len(projects) == 0 {
		fmt.Fprintln(out, "No sessions recorded yet.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, p := range projects {
		fmt.Fprintf(w, "%s\t%d sessions\t%d prompts\t%s\n", p.Name, p.TotalSessions, p.TotalPrompts, p.Path)
		for _, s := range p.Sessions {
			active := ""
			if s.IsActive {
				active = "*"
			}
			label := s.CustomName
			if label == "" {
				label = s.Goal
			}
			fmt.Fprintf(w, "  %s%s\t%s\t%d prompts\t%s\t%s\n",
				active, s.ID, s.Platform, s.PromptCount,
				s.LastActivityTime.Local().Format(time.DateTime), label)
		}
	}
	_ = w.Flush()
}

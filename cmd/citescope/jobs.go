package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"citescope/internal/domain"
	"citescope/internal/engine"
	"citescope/internal/store"
)

type jobFlags struct {
	depth       string
	country     string
	format      string
	sourceTypes []string
	competitors []string
}

func (f *jobFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.depth, "depth", "", "analysis depth (quick, standard, deep)")
	cmd.Flags().StringVar(&f.country, "country", "", "two-letter search country")
	cmd.Flags().StringVar(&f.format, "format", "", "report format (pdf, html, markdown)")
	cmd.Flags().StringArrayVar(&f.sourceTypes, "source-type", nil, "source type hint added to queries (repeatable)")
	cmd.Flags().StringArrayVar(&f.competitors, "competitor", nil, "competitor URL to include (repeatable)")
}

func (f jobFlags) options(domainName, topic string) engine.CreateJobOptions {
	return engine.CreateJobOptions{
		Domain: domainName,
		Topic:  topic,
		Config: domain.JobConfig{
			Depth:        f.depth,
			Country:      f.country,
			OutputFormat: f.format,
			SourceTypes:  f.sourceTypes,
			Competitors:  f.competitors,
		},
	}
}

func analyzeCmd() *cobra.Command {
	var flags jobFlags
	cmd := &cobra.Command{
		Use:   "analyze <domain> <topic>",
		Short: "Create a job and run every stage",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			topic := strings.Join(args[1:], " ")
			return withBackend(cmd.Context(), func(ctx context.Context, b backend) error {
				job, err := b.CreateJob(ctx, flags.options(args[0], topic))
				if err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "job %s created, running pipeline\n", job.ID)
				job, err = b.Run(ctx, job.ID)
				if job.ID == "" {
					return err
				}
				if perr := printJob(job); perr != nil {
					return perr
				}
				return err
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func jobCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "job", Short: "Manage analysis jobs"}
	cmd.AddCommand(jobCreateCmd(), jobShowCmd(), jobListCmd(), jobStageCmd(), jobRunCmd(), jobEventsCmd())
	return cmd
}

func jobCreateCmd() *cobra.Command {
	var flags jobFlags
	cmd := &cobra.Command{
		Use:   "create <domain> <topic>",
		Short: "Create a pending job",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), func(ctx context.Context, b backend) error {
				job, err := b.CreateJob(ctx, flags.options(args[0], strings.Join(args[1:], " ")))
				if err != nil {
					return err
				}
				return printJob(job)
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func jobShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show a job and its results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), func(ctx context.Context, b backend) error {
				job, err := b.GetJob(ctx, args[0])
				if err != nil {
					return err
				}
				return printJob(job)
			})
		},
	}
}

func jobListCmd() *cobra.Command {
	var f store.Filter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), func(ctx context.Context, b backend) error {
				jobs, err := b.ListJobs(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(jobs)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Domain", "Topic", "Status", "Stage", "Score", "Created"})
				for _, j := range jobs {
					score := ""
					if j.Patterns != nil {
						score = fmt.Sprintf("%d -> %d", j.Patterns.CurrentScore, j.Patterns.ProjectedScore)
					}
					tw.AppendRow(table.Row{j.ID, j.Domain, j.Topic, j.Status, j.Stage.Name(), score, j.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Domain, "domain", "", "domain filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "maximum jobs")
	return cmd
}

func jobStageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stage <job-id> <stage>",
		Short: "Run one stage (discovery, extraction, patterns, research, assets, report)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), func(ctx context.Context, b backend) error {
				job, err := b.RunStage(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return printJob(job)
			})
		},
	}
}

func jobRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <job-id>",
		Short: "Run every remaining stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), func(ctx context.Context, b backend) error {
				job, err := b.Run(ctx, args[0])
				if job.ID == "" {
					return err
				}
				if perr := printJob(job); perr != nil {
					return perr
				}
				return err
			})
		},
	}
}

func jobEventsCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "events <job-id>",
		Short: "List job events in order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), func(ctx context.Context, b backend) error {
				evts, err := b.Events(ctx, args[0], n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evts)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Time", "Type", "Stage", "Payload"})
				for _, evt := range evts {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, domain.Stage(evt.Stage).Name(), evt.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 100, "number of events")
	return cmd
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	return tw
}

func printJob(job domain.Job) error {
	if viper.GetBool("json") {
		return printJSON(job)
	}
	tw := newTable()
	tw.SetTitle("Job " + job.ID)
	tw.AppendRows([]table.Row{
		{"Domain", job.Domain},
		{"Topic", job.Topic},
		{"Status", job.Status},
		{"Stage", fmt.Sprintf("%d/6 %s", job.Stage, job.StageLabel)},
		{"Created", job.CreatedAt},
	})
	if job.CompletedAt != nil {
		tw.AppendRow(table.Row{"Completed", *job.CompletedAt})
	}
	if job.Error != "" {
		tw.AppendRow(table.Row{"Error", text.FgRed.Sprint(job.Error)})
	}
	if d := job.Discovery; d != nil {
		tw.AppendRow(table.Row{"Cited pages", fmt.Sprintf("%d across %d queries", len(d.Pages), len(d.Queries))})
		tw.AppendRow(table.Row{"Domain cited", d.DomainCited})
	}
	if x := job.Extraction; x != nil {
		tw.AppendRow(table.Row{"Pages analyzed", fmt.Sprintf("%d (%d failed)", len(x.Pages), x.Failed)})
	}
	if p := job.Patterns; p != nil {
		tw.AppendRow(table.Row{"Citation score", fmt.Sprintf("%d now, %d projected", p.CurrentScore, p.ProjectedScore)})
		tw.AppendRow(table.Row{"Archetype match", fmt.Sprintf("%d%%", p.UserArchetypeMatch)})
	}
	if r := job.Research; r != nil && r.Degraded {
		tw.AppendRow(table.Row{"Research", text.FgYellow.Sprint("degraded: " + r.Note)})
	}
	if r := job.Report; r != nil {
		if r.Error != "" {
			tw.AppendRow(table.Row{"Report", text.FgRed.Sprint(r.Error)})
		} else {
			tw.AppendRow(table.Row{"Report", fmt.Sprintf("%s (%s via %s)", r.Location, r.Format, r.Tier)})
		}
	}
	tw.Render()

	if job.Patterns != nil && len(job.Patterns.Gaps) > 0 {
		gaps := newTable()
		gaps.SetTitle("Gaps")
		gaps.AppendHeader(table.Row{"Gap", "Category", "Impact", "Difficulty", "Asset"})
		for _, g := range job.Patterns.Gaps {
			asset := ""
			if g.AssetGenerated {
				asset = "yes"
			}
			gaps.AppendRow(table.Row{g.Name, g.Category, fmt.Sprintf("%.2f", g.Impact), g.Difficulty, asset})
		}
		gaps.Render()
	}
	return nil
}

package main

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/noah-isme/etd-pipeline/internal/bootstrap"
	"github.com/noah-isme/etd-pipeline/internal/dto"
	"github.com/noah-isme/etd-pipeline/internal/models"
)

func addSelectionFlags(cmd *cobra.Command, sel *dto.ThesisSelection) {
	cmd.Flags().StringVar(&sel.Status, "status", "", `Select theses by publication status, e.g. "Published"`)
	cmd.Flags().StringVar(&sel.GraduationPeriod, "graduation", "", `Select theses by graduation period, e.g. "2021-06"`)
	cmd.Flags().IntVar(&sel.Limit, "limit", 0, "Cap the number of theses selected by status")
}

// selectTheses resolves explicit ids from args or falls back to the selection flags.
func selectTheses(cmd *cobra.Command, p *bootstrap.Pipeline, args []string, sel dto.ThesisSelection) ([]int64, error) {
	ids, err := parseThesisIDs(args)
	if err != nil {
		return nil, err
	}
	sel.ThesisIDs = ids
	if err := p.Validator.Struct(sel); err != nil {
		return nil, fmt.Errorf("invalid selection: %w", err)
	}
	return p.Jobs.Resolve(cmd.Context(), sel)
}

func newPublishCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "publish <thesis-id>...",
		Short: "Submit theses to the institutional repository",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseThesisIDs(args)
			if err != nil {
				return err
			}
			p, err := ctx.ensurePipeline(cmd.Context())
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(ids))
			for _, id := range ids {
				outcome := "submitted"
				if err := p.Stages.Publication.Publish(cmd.Context(), id); err != nil {
					outcome = err.Error()
				}
				rows = append(rows, []string{strconv.FormatInt(id, 10), outcome})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Thesis", "Outcome"}, rows, []columnAlignment{alignRight, alignLeft}))
			return nil
		},
	}
}

func newReconcileCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Apply pending publication results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := ctx.ensurePipeline(cmd.Context())
			if err != nil {
				return err
			}
			// One reconcile run per host; overlapping cron invocations bail out.
			lockPath := filepath.Join(ctx.cfg.Storage.Dir, "reconcile.lock")
			lock := flock.New(lockPath)
			ok, err := lock.TryLock()
			if err != nil {
				return fmt.Errorf("acquire lock: %w", err)
			}
			if !ok {
				return fmt.Errorf("another reconcile run holds %s", lockPath)
			}
			defer lock.Unlock() //nolint:errcheck

			summary, err := p.Stages.Reconcile.Reconcile(cmd.Context())
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), summary)
			return nil
		},
	}
}

func newPreserveCommand(ctx *commandContext) *cobra.Command {
	var sel dto.ThesisSelection
	cmd := &cobra.Command{
		Use:   "preserve [thesis-id...]",
		Short: "Package published theses for digital preservation",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := ctx.ensurePipeline(cmd.Context())
			if err != nil {
				return err
			}
			ids, err := selectTheses(cmd, p, args, sel)
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				return fmt.Errorf("selection matched no theses")
			}
			summary, err := p.Stages.Preservation.PreserveBatch(cmd.Context(), ids)
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), summary)
			return nil
		},
	}
	addSelectionFlags(cmd, &sel)
	return cmd
}

func newProquestCommand(ctx *commandContext) *cobra.Command {
	var sel dto.ThesisSelection
	cmd := &cobra.Command{
		Use:   "proquest-export [thesis-id...]",
		Short: "Build a dissertation vendor export batch",
		Long:  "Without a selection every eligible published thesis is exported.",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := ctx.ensurePipeline(cmd.Context())
			if err != nil {
				return err
			}
			ids, err := selectTheses(cmd, p, args, sel)
			if err != nil {
				return err
			}
			summary, err := p.Stages.Proquest.Export(cmd.Context(), ids)
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), summary)
			return nil
		},
	}
	addSelectionFlags(cmd, &sel)
	return cmd
}

func newMarcCommand(ctx *commandContext) *cobra.Command {
	var sel dto.ThesisSelection
	cmd := &cobra.Command{
		Use:   "marc-export [thesis-id...]",
		Short: "Build a zipped MARC catalog batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := ctx.ensurePipeline(cmd.Context())
			if err != nil {
				return err
			}
			ids, err := selectTheses(cmd, p, args, sel)
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				return fmt.Errorf("selection matched no theses")
			}
			summary, err := p.Stages.Marc.ExportBatch(cmd.Context(), ids)
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), summary)
			return nil
		},
	}
	addSelectionFlags(cmd, &sel)
	return cmd
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <thesis-id>...",
		Short: "Show where theses stand in the pipeline",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseThesisIDs(args)
			if err != nil {
				return err
			}
			p, err := ctx.ensurePipeline(cmd.Context())
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(ids))
			for _, id := range ids {
				thesis, err := p.Stages.Publication.Thesis(cmd.Context(), id)
				if err != nil {
					rows = append(rows, []string{strconv.FormatInt(id, 10), err.Error(), "", "", "", "", ""})
					continue
				}
				status := dto.NewThesisStatusResponse(thesis)
				rows = append(rows, []string{
					strconv.FormatInt(status.ID, 10),
					status.Title,
					status.PublicationStatus.String(),
					status.ProquestExported.String(),
					status.Handle,
					yesNo(status.Publishable),
					yesNo(status.Baggable),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Thesis", "Title", "Publication", "ProQuest", "Handle", "Publishable", "Baggable"},
				rows,
				[]columnAlignment{alignRight},
			))
			return nil
		},
	}
}

func newJobCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "job <job-id>",
		Short: "Show a background pipeline job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := ctx.ensurePipeline(cmd.Context())
			if err != nil {
				return err
			}
			job, err := p.Jobs.GetStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			finished := "-"
			if job.FinishedAt != nil {
				finished = job.FinishedAt.Format("2006-01-02 15:04:05")
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Job", "Type", "Status", "Created", "Finished"},
				[][]string{{job.ID, string(job.Type), string(job.Status), job.CreatedAt.Format("2006-01-02 15:04:05"), finished}},
				nil,
			))
			if job.Status == models.JobStatusFailed && job.ErrorMessage != nil {
				fmt.Fprintln(cmd.OutOrStdout(), *job.ErrorMessage)
			}
			printSummary(cmd.OutOrStdout(), job.Result)
			return nil
		},
	}
}

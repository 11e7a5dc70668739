package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/tender-cli/internal/model"
	"github.com/sells-group/tender-cli/internal/pipeline"
	"github.com/sells-group/tender-cli/internal/report"
)

var requirementsCmd = &cobra.Command{
	Use:   "requirements",
	Short: "Extract and inspect the requirements of a consultation",
	Long:  "Commands for running the requirement extraction job over a project's source documents and listing its results.",
}

// -- requirements run --

var (
	reqRunProject string
	reqRunSources []string
)

var requirementsRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run requirement extraction over the project sources and wait for it",
	Long:  "Uploads the given --source files, then extracts requirements from them, or from every stored source of the project when none are given. A job interrupted earlier resumes from its checkpoint.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx, "requirements", true)
		if err != nil {
			return err
		}
		defer env.Close()

		var keys []string
		for _, path := range reqRunSources {
			data, err := os.ReadFile(path)
			if err != nil {
				return eris.Wrapf(err, "read %s", path)
			}
			key, err := env.Pipeline.UploadSource(ctx, reqRunProject, filepath.Base(path), data)
			if err != nil {
				return eris.Wrapf(err, "upload %s", path)
			}
			keys = append(keys, key)
		}

		start, err := env.Pipeline.StartRequirements(ctx, reqRunProject, keys)
		switch {
		case errors.Is(err, pipeline.ErrJobInFlight):
			zap.L().Info("requirement job already active, waiting for it", zap.String("project_id", reqRunProject))
		case err != nil:
			return eris.Wrap(err, "start requirements")
		default:
			zap.L().Info("requirement job started",
				zap.String("job_id", start.JobID),
				zap.Bool("deferred", start.Deferred),
			)
		}

		env.Pipeline.Wait()

		formatJobsList(os.Stdout, env.Scheduler.List(reqRunProject))
		if start == nil {
			return nil
		}
		job, err := env.Scheduler.Get(start.JobID)
		if err != nil {
			return err
		}
		if job.Status == model.JobFailed {
			return eris.Errorf("requirement job %s failed: %s", job.ID, job.Error)
		}
		return nil
	},
}

// -- requirements list --

var (
	reqListProject string
	reqListFormat  string
	reqListXLSX    string
)

var requirementsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the extracted requirements of a project",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("jobs"); err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		reqs, err := st.ListRequirements(ctx, reqListProject)
		if err != nil {
			return eris.Wrap(err, "requirements list")
		}

		if reqListXLSX != "" {
			var buf bytes.Buffer
			if err := report.WriteRequirementsXLSX(&buf, reqs); err != nil {
				return err
			}
			if err := os.WriteFile(reqListXLSX, buf.Bytes(), 0o644); err != nil {
				return eris.Wrapf(err, "write %s", reqListXLSX)
			}
		}

		if reqListFormat == "text" {
			if len(reqs) == 0 {
				fmt.Fprintln(os.Stderr, "No requirements found.")
				return nil
			}
			formatRequirements(os.Stdout, reqs)
			return nil
		}
		return report.Encode(os.Stdout, reqListFormat, reqs)
	},
}

// formatRequirements writes a tabular list of requirements to w.
func formatRequirements(out io.Writer, reqs []model.Requirement) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SOURCE\tCATEGORY\tMANDATORY\tTEXT")
	_, _ = fmt.Fprintln(w, "------\t--------\t---------\t----")

	for _, r := range reqs {
		mandatory := "no"
		if r.Mandatory {
			mandatory = "yes"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			filepath.Base(r.SourceKey),
			r.Category,
			mandatory,
			r.Text,
		)
	}
	_ = w.Flush()
}

func init() {
	requirementsRunCmd.Flags().StringVar(&reqRunProject, "project", "", "project id")
	requirementsRunCmd.Flags().StringSliceVar(&reqRunSources, "source", nil, "source document to upload and process (repeatable)")
	_ = requirementsRunCmd.MarkFlagRequired("project")

	requirementsListCmd.Flags().StringVar(&reqListProject, "project", "", "project id")
	requirementsListCmd.Flags().StringVar(&reqListFormat, "format", "text", "output format (text, json, yaml)")
	requirementsListCmd.Flags().StringVar(&reqListXLSX, "xlsx", "", "also write the requirements as an .xlsx workbook")
	_ = requirementsListCmd.MarkFlagRequired("project")

	requirementsCmd.AddCommand(requirementsRunCmd)
	requirementsCmd.AddCommand(requirementsListCmd)
	rootCmd.AddCommand(requirementsCmd)
}

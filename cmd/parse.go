package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/tender-cli/internal/model"
	"github.com/sells-group/tender-cli/internal/report"
)

var (
	parseProject  string
	parseDocument string
	parseFile     string
	parseTextFile string
	parseFormat   string
)

var parseCmd = &cobra.Command{
	Use:   "parse",
	Short: "Detect the questions of a template and build its internal template",
	Long:  "Uploads the template when --file is given, then detects its questions, builds the placeholder template and stores both.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx, "parse", false)
		if err != nil {
			return err
		}
		defer env.Close()

		if parseFile != "" {
			data, err := os.ReadFile(parseFile)
			if err != nil {
				return eris.Wrapf(err, "read %s", parseFile)
			}
			var text string
			if parseTextFile != "" {
				raw, err := os.ReadFile(parseTextFile)
				if err != nil {
					return eris.Wrapf(err, "read %s", parseTextFile)
				}
				text = string(raw)
			}
			if err := env.Pipeline.UploadDocument(ctx, parseProject, parseDocument, data, text); err != nil {
				return eris.Wrap(err, "upload document")
			}
		}

		res, err := env.Pipeline.ParseTemplate(ctx, parseProject, parseDocument)
		if err != nil {
			return eris.Wrap(err, "parse template")
		}

		if parseFormat == "text" {
			formatQuestions(os.Stdout, res.Questions)
			_, _ = fmt.Fprintf(os.Stdout, "\n%d questions, %d placeholders, %d skipped", len(res.Questions), res.Placeholders, len(res.Skipped))
			if res.Degraded {
				_, _ = fmt.Fprint(os.Stdout, " (semantic pass unavailable)")
			}
			_, _ = fmt.Fprintln(os.Stdout)
			return nil
		}
		return report.Encode(os.Stdout, parseFormat, res)
	},
}

var (
	questionsProject  string
	questionsDocument string
	questionsFormat   string
)

var questionsCmd = &cobra.Command{
	Use:   "questions",
	Short: "List the stored questions of a parsed template",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx, "validate", false)
		if err != nil {
			return err
		}
		defer env.Close()

		questions, err := env.Pipeline.Questions(ctx, questionsProject, questionsDocument)
		if err != nil {
			return eris.Wrap(err, "list questions")
		}
		if questionsFormat == "text" {
			formatQuestions(os.Stdout, questions)
			return nil
		}
		return report.Encode(os.Stdout, questionsFormat, questions)
	},
}

// formatQuestions writes a tabular list of questions to w.
func formatQuestions(out io.Writer, questions []model.Question) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "#\tID\tSEC\tLVL\tTYPE\tREQ\tSOURCE\tTEXT")
	_, _ = fmt.Fprintln(w, "-\t--\t---\t---\t----\t---\t------\t----")

	for i, q := range questions {
		req := ""
		if q.Required {
			req = "*"
		}
		text := q.Text
		if r := []rune(text); len(r) > 60 {
			text = string(r[:57]) + "..."
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%s\t%s\t%s\t%s\n",
			i+1,
			truncateID(q.ID),
			q.SectionKey(),
			q.Level,
			q.Type,
			req,
			q.Provenance,
			text,
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of an id for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	parseCmd.Flags().StringVar(&parseProject, "project", "", "project id")
	parseCmd.Flags().StringVar(&parseDocument, "doc", "", "document id")
	parseCmd.Flags().StringVar(&parseFile, "file", "", "template .docx to upload before parsing")
	parseCmd.Flags().StringVar(&parseTextFile, "text-file", "", "optional plain-text rendering of the template")
	parseCmd.Flags().StringVar(&parseFormat, "format", "text", "output format (text, json, yaml)")
	_ = parseCmd.MarkFlagRequired("project")
	_ = parseCmd.MarkFlagRequired("doc")

	questionsCmd.Flags().StringVar(&questionsProject, "project", "", "project id")
	questionsCmd.Flags().StringVar(&questionsDocument, "doc", "", "document id")
	questionsCmd.Flags().StringVar(&questionsFormat, "format", "text", "output format (text, json, yaml)")
	_ = questionsCmd.MarkFlagRequired("project")
	_ = questionsCmd.MarkFlagRequired("doc")

	rootCmd.AddCommand(parseCmd)
	rootCmd.AddCommand(questionsCmd)
}

package main

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/tender-cli/internal/report"
)

var (
	exportProject      string
	exportDocument     string
	exportAnswers      string
	exportOut          string
	exportReportFormat string
	exportReportXLSX   string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Inject answers into a template and write the completed document",
	Long:  "Reads answers keyed by question id (JSON or YAML), injects them into the stored template and writes the document along with its injection report.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		answers, err := readAnswers(exportAnswers, os.Stdin)
		if err != nil {
			return err
		}

		env, err := initPipeline(ctx, "export", false)
		if err != nil {
			return err
		}
		defer env.Close()

		out, err := env.Pipeline.Export(ctx, exportProject, exportDocument, answers)
		if err != nil {
			return eris.Wrap(err, "export")
		}

		if err := os.WriteFile(exportOut, out.Bytes, 0o644); err != nil {
			return eris.Wrapf(err, "write %s", exportOut)
		}

		if exportReportXLSX != "" {
			var buf bytes.Buffer
			if err := report.WriteXLSX(&buf, out.Report); err != nil {
				return err
			}
			if err := os.WriteFile(exportReportXLSX, buf.Bytes(), 0o644); err != nil {
				return eris.Wrapf(err, "write %s", exportReportXLSX)
			}
		}

		zap.L().Info("document exported",
			zap.String("out", exportOut),
			zap.String("stored_key", out.Key),
			zap.Bool("success", out.Report.Success),
		)

		if exportReportFormat == "text" {
			_, _ = fmt.Fprint(os.Stdout, report.Summary(out.Report))
			return nil
		}
		return report.Encode(os.Stdout, exportReportFormat, out.Report)
	},
}

var (
	validateProject  string
	validateDocument string
	validateFormat   string
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a stored template against its original document",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx, "validate", false)
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Pipeline.Validate(ctx, validateProject, validateDocument)
		if err != nil {
			return eris.Wrap(err, "validate")
		}
		if err := report.Encode(os.Stdout, validateFormat, res); err != nil {
			return err
		}
		return res.Err()
	},
}

// readAnswers loads a question id to answer map from a JSON or YAML file.
// "-" reads stdin and an empty path yields no answers.
func readAnswers(path string, stdin io.Reader) (map[string]string, error) {
	if path == "" {
		return map[string]string{}, nil
	}

	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "read answers %s", path)
	}

	answers := map[string]string{}
	if err := yaml.Unmarshal(data, &answers); err != nil {
		return nil, eris.Wrapf(err, "parse answers %s", path)
	}
	return answers, nil
}

func init() {
	exportCmd.Flags().StringVar(&exportProject, "project", "", "project id")
	exportCmd.Flags().StringVar(&exportDocument, "doc", "", "document id")
	exportCmd.Flags().StringVar(&exportAnswers, "answers", "", "answers file, JSON or YAML object keyed by question id (- for stdin)")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "path of the completed .docx")
	exportCmd.Flags().StringVar(&exportReportFormat, "report-format", "text", "report output format (text, json, yaml)")
	exportCmd.Flags().StringVar(&exportReportXLSX, "report-xlsx", "", "also write the report as an .xlsx workbook")
	_ = exportCmd.MarkFlagRequired("project")
	_ = exportCmd.MarkFlagRequired("doc")
	_ = exportCmd.MarkFlagRequired("out")

	validateCmd.Flags().StringVar(&validateProject, "project", "", "project id")
	validateCmd.Flags().StringVar(&validateDocument, "doc", "", "document id")
	validateCmd.Flags().StringVar(&validateFormat, "format", "json", "output format (json, yaml)")
	_ = validateCmd.MarkFlagRequired("project")
	_ = validateCmd.MarkFlagRequired("doc")

	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(validateCmd)
}

package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/KaramelBytes/tabforge/internal/domain"
	"github.com/KaramelBytes/tabforge/internal/eda"
	"github.com/KaramelBytes/tabforge/internal/report"
)

var (
	reportTarget string
	reportType   string
	reportTitle  string
	reportFormat string
	reportOut    string
	reportSheet  string
)

var reportCmd = &cobra.Command{
	Use:   "report <file>",
	Short: "Build an analysis report for a dataset",
	Long: `Runs EDA on the file and, when --target is given, trains candidate models,
then assembles an EDA, model or full report with an executive summary.`,
	Example: `  tabforge report ./churn.csv --type eda
  tabforge report ./churn.csv --target churned --out churn-report.md
  tabforge report ./churn.csv --target churned --format json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		typ := report.Type(strings.ToLower(reportType))
		switch typ {
		case report.TypeEDA, report.TypeModel, report.TypeFull:
		default:
			return fmt.Errorf("unsupported --type: %s (use eda, model or full)", reportType)
		}
		format := strings.ToLower(reportFormat)
		if format != "markdown" && format != "json" {
			return fmt.Errorf("unsupported --format: %s (use markdown or json)", reportFormat)
		}
		if typ == report.TypeModel && reportTarget == "" {
			return fmt.Errorf("--target is required for a model report")
		}
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()
		ctx := cmd.Context()
		d, _, err := a.registerDataset(ctx, args[0], reportSheet)
		if err != nil {
			return err
		}

		in := report.Input{Title: reportTitle, Type: typ, Dataset: d}
		if typ != report.TypeModel {
			if in.EDA, err = a.analyzer.Analyze(ctx, d, eda.Options{}); err != nil {
				return err
			}
		}
		if reportTarget != "" && typ != report.TypeEDA {
			job := &domain.TrainingJob{
				ID:                   uuid.NewString(),
				DatasetID:            d.ID,
				TargetColumn:         reportTarget,
				TaskTypeAutoDetected: true,
				Status:               domain.StatusPending,
			}
			if err := a.repos.Jobs.Create(ctx, job); err != nil {
				return err
			}
			if job, err = a.trainer.Train(ctx, job); err != nil {
				return err
			}
			if in.Models, err = a.repos.Models.ListByJob(ctx, job.ID); err != nil {
				return err
			}
			for _, m := range in.Models {
				if m.ID == job.BestModelID {
					in.Model = m
				}
			}
		}

		r, err := report.Build(ctx, in, a.narrator)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if reportOut != "" {
			f, err := os.Create(reportOut)
			if err != nil {
				return fmt.Errorf("create %s: %w", reportOut, err)
			}
			defer f.Close()
			w = f
		}
		if format == "json" {
			err = writeJSON(w, r)
		} else {
			_, err = fmt.Fprint(w, r.Markdown())
		}
		if err != nil {
			return err
		}
		if reportOut != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Wrote %s report to %s\n", r.Type, reportOut)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.Flags().StringVar(&reportTarget, "target", "", "target column; trains models for the model sections")
	reportCmd.Flags().StringVar(&reportType, "type", string(report.TypeFull), "report type: eda, model or full")
	reportCmd.Flags().StringVar(&reportTitle, "title", "", "report title (default: Analysis of <dataset>)")
	reportCmd.Flags().StringVar(&reportFormat, "format", "markdown", "output format: markdown or json")
	reportCmd.Flags().StringVarP(&reportOut, "out", "o", "", "write the report to this file")
	reportCmd.Flags().StringVar(&reportSheet, "sheet", "", "XLSX sheet name (default: first sheet)")
}

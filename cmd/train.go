package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/KaramelBytes/tabforge/internal/domain"
	"github.com/KaramelBytes/tabforge/internal/report"
)

var (
	trainTarget   string
	trainFeatures []string
	trainTask     string
	trainAsync    bool
	trainSheet    string
	trainJSON     bool
)

var trainCmd = &cobra.Command{
	Use:   "train <file>",
	Short: "Train and compare candidate models on a dataset",
	Example: `  tabforge train ./churn.csv --target churned
  tabforge train ./houses.csv --target price --task regression --features sqft,rooms,city
  tabforge train ./churn.csv --target churned --async --storage postgres`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if trainTarget == "" {
			return fmt.Errorf("--target is required")
		}
		task := domain.TaskType(strings.ToLower(trainTask))
		if task != "" && !task.Valid() {
			return fmt.Errorf("unsupported --task: %s (use classification or regression)", trainTask)
		}
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()
		ctx := cmd.Context()
		d, _, err := a.registerDataset(ctx, args[0], trainSheet)
		if err != nil {
			return err
		}

		job := &domain.TrainingJob{
			ID:                   uuid.NewString(),
			DatasetID:            d.ID,
			TargetColumn:         trainTarget,
			FeatureColumns:       trainFeatures,
			TaskType:             task,
			TaskTypeAutoDetected: task == "",
			Status:               domain.StatusPending,
		}
		if err := a.repos.Jobs.Create(ctx, job); err != nil {
			return err
		}
		if trainAsync {
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Queued training job %s for dataset %s; run `tabforge worker` to process it\n", job.ID, d.ID)
			return nil
		}

		job, err = a.trainer.Train(ctx, job)
		if err != nil {
			return err
		}
		models, err := a.repos.Models.ListByJob(ctx, job.ID)
		if err != nil {
			return err
		}
		if trainJSON {
			return writeJSON(cmd.OutOrStdout(), struct {
				Job    *domain.TrainingJob    `json:"job"`
				Models []*domain.TrainedModel `json:"models"`
			}{job, models})
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "✓ Training job %s completed (%s, target %q)\n", job.ID, job.TaskType, job.TargetColumn)
		printLeaderboard(out, models)
		fmt.Fprintf(out, "Best model: %s\n", job.BestModelID)
		return nil
	},
}

// printLeaderboard renders the ranked models as an aligned table.
func printLeaderboard(w io.Writer, models []*domain.TrainedModel) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tMODEL\tID\tACCURACY\tF1\tROC AUC\tRMSE\tMAE\tR2\tCV MEAN\t")
	for _, r := range report.Leaderboard(models) {
		name := r.Model
		if r.Best {
			name += " *"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t\n",
			r.Rank, name, r.ModelID, dash(r.Accuracy), dash(r.F1Weighted), dash(r.ROCAUC),
			dash(r.RMSE), dash(r.MAE), dash(r.R2), dash(r.CVMean))
	}
	_ = tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	rootCmd.AddCommand(trainCmd)
	trainCmd.Flags().StringVar(&trainTarget, "target", "", "target column (required)")
	trainCmd.Flags().StringSliceVar(&trainFeatures, "features", nil, "feature columns (default: every other column)")
	trainCmd.Flags().StringVar(&trainTask, "task", "", "classification or regression (default: auto-detect)")
	trainCmd.Flags().BoolVar(&trainAsync, "async", false, "queue the job for a worker instead of training now")
	trainCmd.Flags().StringVar(&trainSheet, "sheet", "", "XLSX sheet name (default: first sheet)")
	trainCmd.Flags().BoolVar(&trainJSON, "json", false, "print the job and models as JSON")
}

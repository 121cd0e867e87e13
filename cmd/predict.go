package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/KaramelBytes/tabforge/internal/dataset"
	"github.com/KaramelBytes/tabforge/internal/domain"
	"github.com/KaramelBytes/tabforge/internal/prediction"
	"github.com/KaramelBytes/tabforge/internal/utils"
)

var (
	predModelID  string
	predArtifact string
	predInput    string
	predRecords  string
	predProba    bool
	predOut      string
	predAsync    bool
)

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Score rows with a trained model",
	Example: `  tabforge predict --model 7f3c... --records '[{"age":42,"plan":"pro"}]' --proba --storage postgres
  tabforge predict --model 7f3c... --input ./new_customers.csv --out ./scored.csv --storage postgres
  tabforge predict --artifact models/<job>/<model>.msgpack --input ./new_customers.csv`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if (predModelID == "") == (predArtifact == "") {
			return fmt.Errorf("exactly one of --model or --artifact is required")
		}
		if (predInput == "") == (predRecords == "") {
			return fmt.Errorf("exactly one of --input or --records is required")
		}
		if predAsync && (predInput == "" || predModelID == "") {
			return fmt.Errorf("--async needs --model and --input")
		}
		var records []map[string]any
		if predRecords != "" {
			var err error
			if records, err = parseRecords(predRecords); err != nil {
				return err
			}
		}
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()
		ctx := cmd.Context()

		if predArtifact != "" {
			return predictFromArtifact(ctx, cmd, a, records)
		}

		m, err := a.repos.Models.Get(ctx, predModelID)
		if err != nil {
			return err
		}
		job := &domain.PredictionJob{
			ID:        uuid.NewString(),
			ModelID:   m.ID,
			Status:    domain.StatusPending,
			InputType: domain.InputTypeRecords,
		}
		if predInput != "" {
			job.InputType, job.InputFile = domain.InputTypeFile, predInput
		}
		if err := a.repos.Predictions.Create(ctx, job); err != nil {
			return err
		}
		if predAsync {
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Queued prediction job %s; run `tabforge worker` to process it\n", job.ID)
			return nil
		}

		job, err = a.predictor.Run(ctx, job, m, records)
		if err != nil {
			return err
		}
		if predOut != "" && job.OutputKey != "" {
			data, err := a.store.Get(ctx, job.OutputKey)
			if err != nil {
				return err
			}
			if err := utils.SafeWriteFile(predOut, data); err != nil {
				return fmt.Errorf("write %s: %w", predOut, err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "✓ Wrote %d predictions to %s\n", job.RowCount, predOut)
			return nil
		}
		if !predProba {
			job.Probabilities = nil
		}
		return writeJSON(cmd.OutOrStdout(), job)
	},
}

// predictFromArtifact scores directly from a stored bundle without a model
// or job row.
func predictFromArtifact(ctx context.Context, cmd *cobra.Command, a *app, records []map[string]any) error {
	m, err := a.predictor.FromArtifact(ctx, predArtifact)
	if err != nil {
		return err
	}
	var input *dataset.Frame
	if predInput != "" {
		if input, err = dataset.Load(predInput, dataset.LoadOptions{}); err != nil {
			return err
		}
		records = input.Records()
	}
	res, err := a.predictor.Predict(ctx, m, records, predProba)
	if err != nil {
		return err
	}
	if predOut != "" && input != nil {
		data, err := prediction.OutputCSV(input, res.Predictions)
		if err != nil {
			return err
		}
		if err := utils.SafeWriteFile(predOut, data); err != nil {
			return fmt.Errorf("write %s: %w", predOut, err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "✓ Wrote %d predictions to %s\n", len(res.Predictions), predOut)
		return nil
	}
	return writeJSON(cmd.OutOrStdout(), res)
}

// parseRecords accepts a JSON object or an array of objects.
func parseRecords(s string) ([]map[string]any, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "{") {
		var one map[string]any
		if err := json.Unmarshal([]byte(s), &one); err != nil {
			return nil, fmt.Errorf("parse --records: %w", err)
		}
		return []map[string]any{one}, nil
	}
	var many []map[string]any
	if err := json.Unmarshal([]byte(s), &many); err != nil {
		return nil, fmt.Errorf("parse --records: %w", err)
	}
	return many, nil
}

func init() {
	rootCmd.AddCommand(predictCmd)
	predictCmd.Flags().StringVar(&predModelID, "model", "", "trained model id")
	predictCmd.Flags().StringVar(&predArtifact, "artifact", "", "model artifact key (scores without a model row)")
	predictCmd.Flags().StringVar(&predInput, "input", "", "CSV/XLSX file of rows to score")
	predictCmd.Flags().StringVar(&predRecords, "records", "", "JSON object or array of rows to score")
	predictCmd.Flags().BoolVar(&predProba, "proba", false, "include class probabilities")
	predictCmd.Flags().StringVar(&predOut, "out", "", "write the input rows plus predictions as CSV")
	predictCmd.Flags().BoolVar(&predAsync, "async", false, "queue a file job for a worker instead of scoring now")
}

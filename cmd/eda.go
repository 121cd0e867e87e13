package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/tabforge/internal/eda"
)

var (
	edaForceRefresh bool
	edaAsync        bool
	edaNarrative    bool
	edaFormat       string
	edaSheet        string
)

var edaCmd = &cobra.Command{
	Use:   "eda <file>",
	Short: "Run exploratory data analysis on a dataset",
	Example: `  tabforge eda ./churn.csv
  tabforge eda ./churn.csv --format json --force-refresh
  tabforge eda ./churn.csv --async --storage postgres`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format := strings.ToLower(edaFormat)
		if format != "markdown" && format != "json" {
			return fmt.Errorf("unsupported --format: %s (use markdown or json)", edaFormat)
		}
		if cmd.Flags().Changed("narrative") {
			cfg.EDA.Narrative = edaNarrative
		}
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()
		ctx := cmd.Context()
		d, _, err := a.registerDataset(ctx, args[0], edaSheet)
		if err != nil {
			return err
		}

		if edaAsync {
			r, done, err := a.analyzer.Submit(ctx, d, edaForceRefresh)
			if err != nil {
				return err
			}
			if done {
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Cached EDA result %s (version %d) is already available\n", r.ID, r.Version)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Queued EDA result %s for dataset %s; run `tabforge worker` to process it\n", r.ID, d.ID)
			return nil
		}

		r, err := a.analyzer.Analyze(ctx, d, eda.Options{ForceRefresh: edaForceRefresh})
		if err != nil {
			return err
		}
		if format == "json" {
			return writeJSON(cmd.OutOrStdout(), r)
		}
		fmt.Fprint(cmd.OutOrStdout(), eda.Markdown(r))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(edaCmd)
	edaCmd.Flags().BoolVar(&edaForceRefresh, "force-refresh", false, "ignore cached results and recompute")
	edaCmd.Flags().BoolVar(&edaAsync, "async", false, "queue the analysis for a worker instead of running it now")
	edaCmd.Flags().BoolVar(&edaNarrative, "narrative", true, "ask the AI narrator for a narrative (overrides config)")
	edaCmd.Flags().StringVar(&edaFormat, "format", "markdown", "output format: markdown or json")
	edaCmd.Flags().StringVar(&edaSheet, "sheet", "", "XLSX sheet name (default: first sheet)")
}

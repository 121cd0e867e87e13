package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/tabforge/internal/ai"
	"github.com/KaramelBytes/tabforge/internal/report"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Inspect trained models and the narrative model catalog",
	Example: `  tabforge models list --job 1b2c... --storage postgres
  tabforge models compare --job 1b2c... --csv leaderboard.csv --storage postgres
  tabforge models catalog --provider ollama`,
}

var modelsJobID string

var modelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the models of a training job as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if modelsJobID == "" {
			return fmt.Errorf("--job is required")
		}
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()
		models, err := a.repos.Models.ListByJob(cmd.Context(), modelsJobID)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), models)
	},
}

var modelsCSVPath string

var modelsCompareCmd = &cobra.Command{
	Use:   "compare",
	Short: "Rank the models of a training job",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if modelsJobID == "" {
			return fmt.Errorf("--job is required")
		}
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()
		ctx := cmd.Context()
		job, err := a.repos.Jobs.Get(ctx, modelsJobID)
		if err != nil {
			return err
		}
		models, err := a.repos.Models.ListByJob(ctx, job.ID)
		if err != nil {
			return err
		}
		if modelsCSVPath == "" {
			fmt.Fprintf(cmd.OutOrStdout(), "Training job %s (%s, %s)\n", job.ID, job.TaskType, job.Status)
			printLeaderboard(cmd.OutOrStdout(), models)
			return nil
		}
		f, err := os.Create(modelsCSVPath)
		if err != nil {
			return fmt.Errorf("create %s: %w", modelsCSVPath, err)
		}
		defer f.Close()
		if err := report.WriteLeaderboard(f, models); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Wrote leaderboard of %d models to %s\n", len(models), modelsCSVPath)
		return nil
	},
}

var catalogProvider string

var modelsCatalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Show the narrative model catalog and pricing",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		provider := strings.ToLower(catalogProvider)
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "MODEL\tPROVIDER\tCONTEXT\tINPUT $/1K\tOUTPUT $/1K\tDEFAULT\t")
		for _, mi := range ai.Catalog(provider) {
			def := ""
			if ai.DefaultModel(mi.Provider) == mi.Name {
				def = "yes"
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%g\t%g\t%s\t\n", mi.Name, mi.Provider, mi.ContextTokens, mi.InputPerK, mi.OutputPerK, def)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		if cfg != nil && cfg.AIProvider != "" && cfg.AIProvider != ai.ProviderNone {
			fmt.Fprintf(cmd.OutOrStdout(), "\nConfigured: %s → %s\n", cfg.AIProvider, ai.ResolveModel(cfg.AIProvider, cfg.AIModel))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(modelsCmd)
	modelsCmd.AddCommand(modelsListCmd)
	modelsCmd.AddCommand(modelsCompareCmd)
	modelsCmd.AddCommand(modelsCatalogCmd)
	for _, c := range []*cobra.Command{modelsListCmd, modelsCompareCmd} {
		c.Flags().StringVar(&modelsJobID, "job", "", "training job id (required)")
	}
	modelsCompareCmd.Flags().StringVar(&modelsCSVPath, "csv", "", "write the leaderboard as CSV to this path")
	modelsCatalogCmd.Flags().StringVar(&catalogProvider, "provider", "", "filter by provider (openrouter or ollama)")
}

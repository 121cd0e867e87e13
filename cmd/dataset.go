package cmd

import (
	"github.com/spf13/cobra"

	"github.com/KaramelBytes/tabforge/internal/dataset"
	"github.com/KaramelBytes/tabforge/internal/domain"
)

var (
	dsSheet       string
	dsPreviewRows int
)

var datasetCmd = &cobra.Command{
	Use:   "dataset",
	Short: "Inspect datasets",
}

var datasetInspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Parse a CSV/XLSX file and print its inferred schema",
	Example: `  tabforge dataset inspect ./churn.csv
  tabforge dataset inspect ./sales.xlsx --sheet Q3 --preview 10`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()
		d, f, err := a.registerDataset(cmd.Context(), args[0], dsSheet)
		if err != nil {
			return err
		}
		out := struct {
			*domain.Dataset
			Preview dataset.Preview `json:"preview"`
		}{d, dataset.NewPreview(f, dsPreviewRows)}
		return writeJSON(cmd.OutOrStdout(), out)
	},
}

func init() {
	rootCmd.AddCommand(datasetCmd)
	datasetCmd.AddCommand(datasetInspectCmd)
	datasetInspectCmd.Flags().StringVar(&dsSheet, "sheet", "", "XLSX sheet name (default: first sheet)")
	datasetInspectCmd.Flags().IntVar(&dsPreviewRows, "preview", 5, "number of preview rows")
}

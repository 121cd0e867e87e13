package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/tabforge/internal/ai"
	"github.com/KaramelBytes/tabforge/internal/eda"
	"github.com/KaramelBytes/tabforge/internal/logger"
	"github.com/KaramelBytes/tabforge/internal/utils"
)

var (
	askFile   string
	askSheet  string
	askStream bool
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask the AI narrator a question about a dataset",
	Example: `  tabforge ask "Which columns need cleaning?" --file ./churn.csv
  tabforge ask "Is the data balanced?" --file ./churn.csv --stream`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.TrimSpace(strings.Join(args, " "))
		if question == "" {
			return fmt.Errorf("question must not be empty")
		}
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()
		ctx := cmd.Context()

		qctx := map[string]any{}
		if askFile != "" {
			d, _, err := a.registerDataset(ctx, askFile, askSheet)
			if err != nil {
				return err
			}
			qctx["dataset"] = map[string]any{
				"name":    d.Name,
				"rows":    d.RowCount,
				"columns": d.Columns,
			}
			r, err := a.analyzer.Analyze(ctx, d, eda.Options{})
			if err != nil {
				return err
			}
			digest := eda.Digest(r, a.cfg.AIDigestTokens)
			logger.Debugf("Question context for %s: ~%d tokens", d.Name, utils.CountTokens(digest))
			qctx["eda"] = digest
		}

		out := cmd.OutOrStdout()
		if askStream {
			if err := a.narrator.AnswerStream(ctx, question, qctx, func(delta string) {
				fmt.Fprint(out, delta)
			}); err != nil {
				fmt.Fprintln(out, ai.FallbackAnswer(err))
				return nil
			}
			fmt.Fprintln(out)
			return nil
		}
		res := a.narrator.Answer(ctx, question, qctx)
		fmt.Fprintln(out, res.OrElse(ai.FallbackAnswer(res.Reason())))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().StringVarP(&askFile, "file", "f", "", "dataset to answer about (CSV/XLSX)")
	askCmd.Flags().StringVar(&askSheet, "sheet", "", "XLSX sheet name (default: first sheet)")
	askCmd.Flags().BoolVar(&askStream, "stream", false, "stream the answer as it is generated")
}

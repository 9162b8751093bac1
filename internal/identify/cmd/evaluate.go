package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"identify/internal/evaluate"
	"identify/internal/identify/config"
	ilog "identify/internal/identify/log"
	"identify/internal/identify/styles"
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate <binary|graph...>",
	Short: "Score predictions against symbol-derived labels",
	Long: `Classify each labelled input and compare the predicted instructions
with the labels. Precision, recall and F1 are reported per input, plus a
total row when there are several.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		w := cmd.OutOrStdout()
		pretty := false
		if f, ok := w.(*os.File); ok && !asJSON {
			pretty = term.IsTerminal(f.Fd())
		}
		return runEvaluate(cmd.Context(), w, cfg, args, asJSON, pretty)
	},
}

func init() {
	evaluateCmd.Flags().Bool("json", false, "Print the summaries as JSON")
	rootCmd.AddCommand(evaluateCmd)
}

// scoreInputs evaluates each path concurrently. Summaries keep argument order.
func scoreInputs(ctx context.Context, c *config.Config, paths []string) ([]evaluate.Summary, error) {
	sums := make([]evaluate.Summary, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.Jobs)
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			s, err := scoreInput(c, path)
			if err != nil {
				return err
			}
			sums[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return sums, nil
}

func scoreInput(c *config.Config, path string) (_ evaluate.Summary, err error) {
	defer ilog.RecoverInput(path, &err)
	in, p, err := predictInput(c, path)
	if err != nil {
		return evaluate.Summary{}, err
	}
	defer in.Close()
	if !in.graph.HasLabels() {
		return evaluate.Summary{}, fmt.Errorf("%s carries no labels", path)
	}
	s := evaluate.Evaluate(in.graph.Labels, p.Indices).Summary()
	s.Name = in.name
	slog.Debug("Evaluated", "file", path, "summary", s.String())
	return s, nil
}

func runEvaluate(ctx context.Context, w io.Writer, c *config.Config, paths []string, asJSON, pretty bool) error {
	sums, err := scoreInputs(ctx, c, paths)
	if err != nil {
		return err
	}
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Inputs []evaluate.Summary `json:"inputs"`
			Total  evaluate.Summary   `json:"total"`
		}{sums, evaluate.Total(sums)})
	}

	md := "# Evaluation\n\n" + evaluate.Markdown(sums)
	if pretty {
		width := 100
		if f, ok := w.(*os.File); ok {
			if tw, _, err := term.GetSize(f.Fd()); err == nil && tw > 0 {
				width = tw
			}
		}
		md = styles.Render(md, width)
	}
	_, err = io.WriteString(w, md)
	return err
}

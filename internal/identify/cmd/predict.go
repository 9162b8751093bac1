package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"identify/internal/identify/config"
	"identify/internal/inference"
)

var predictCmd = &cobra.Command{
	Use:   "predict <binary|graph>",
	Short: "Print the candidates classified as true instructions",
	Long: `Build the superset graph of the input (or load a graph archive) and
run the classifier once over it. The indices of the nodes whose class-1
probability exceeds the threshold are printed one per line, ascending.`,
	Example: `
identify predict ./a.out --model identify.model --vocab x86.vocab
identify predict a.graph --model identify.model --addresses
identify predict a.graph --model identify.model --json
  `,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addrs, _ := cmd.Flags().GetBool("addresses")
		asJSON, _ := cmd.Flags().GetBool("json")
		return runPredict(cmd.OutOrStdout(), cfg, args[0], addrs, asJSON)
	},
}

func init() {
	predictCmd.Flags().BoolP("addresses", "a", false, "Print candidate addresses instead of node indices")
	predictCmd.Flags().Bool("json", false, "Print a JSON report")
	rootCmd.AddCommand(predictCmd)
}

// PredictReport is the JSON output of predict.
type PredictReport struct {
	File      string          `json:"file"`
	Nodes     int             `json:"nodes"`
	Edges     int             `json:"edges"`
	Threshold float64         `json:"threshold"`
	Predicted []PredictedNode `json:"predicted"`
}

// PredictedNode is one candidate classified as a true instruction.
type PredictedNode struct {
	Index       int32   `json:"index"`
	Address     string  `json:"address,omitempty"`
	Probability float64 `json:"probability"`
	Class       string  `json:"class"`
	Instruction string  `json:"instruction,omitempty"`
	Symbol      string  `json:"symbol,omitempty"`
}

func predictInput(c *config.Config, path string) (*input, *inference.Prediction, error) {
	d, err := loadDriver(c)
	if err != nil {
		return nil, nil, err
	}
	v, err := loadVocab(c)
	if err != nil {
		return nil, nil, err
	}
	if want := d.Model().Arch.VocabSize; v.Size() != want {
		slog.Warn("Vocabulary and model disagree on table size", "vocab", v.Size(), "model", want)
	}
	in, err := openInput(path, c, v)
	if err != nil {
		return nil, nil, err
	}
	p, err := d.Predict(in.graph)
	if err != nil {
		in.Close()
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return in, p, nil
}

func runPredict(w io.Writer, c *config.Config, path string, addrs, asJSON bool) error {
	in, p, err := predictInput(c, path)
	if err != nil {
		return err
	}
	defer in.Close()

	if asJSON {
		rep := PredictReport{
			File:      path,
			Nodes:     in.graph.N(),
			Edges:     in.graph.E(),
			Threshold: c.Threshold,
			Predicted: make([]PredictedNode, 0, len(p.Indices)),
		}
		for _, idx := range p.Indices {
			n := PredictedNode{
				Index:       idx,
				Probability: p.Probabilities[idx],
				Class:       in.ClassName(int(idx)),
				Instruction: in.Instruction(int(idx)),
			}
			if va, ok := in.Address(int(idx)); ok {
				n.Address = fmt.Sprintf("0x%x", va)
				if in.symbol != nil {
					if name, off, ok := in.symbol(va); ok {
						n.Symbol = fmt.Sprintf("%s+0x%x", name, off)
					}
				}
			}
			rep.Predicted = append(rep.Predicted, n)
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}

	if addrs {
		list := p.Addresses(in.graph)
		if list == nil {
			return fmt.Errorf("%s carries no candidate addresses", path)
		}
		for _, va := range list {
			fmt.Fprintf(w, "0x%x\n", va)
		}
		return nil
	}
	for _, idx := range p.Indices {
		fmt.Fprintln(w, idx)
	}
	return nil
}

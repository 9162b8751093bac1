package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"identify/internal/identify/config"
	"identify/internal/model"
)

var exportCmd = &cobra.Command{
	Use:   "export <out.model>",
	Short: "Write the effective model artifact",
	Long: `Re-serialise the configured model with the effective architecture
(aggregation and activation overrides applied). The artifact takes node
codes, node sizes, edge pairs and edge types and yields two logits per node.

With --init a seeded random weight set is written instead; it is meant for
smoke testing pipelines, not for classification.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		random, _ := cmd.Flags().GetBool("init")
		seed, _ := cmd.Flags().GetUint64("seed")
		m, err := exportModel(cfg, random, seed)
		if err != nil {
			return err
		}
		if err := saveModel(args[0], m); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%s aggregation, %d layers)\n",
			args[0], m.Arch.Aggregation, len(m.Layers))
		return nil
	},
}

func init() {
	exportCmd.Flags().Bool("init", false, "Write a seeded random weight set")
	exportCmd.Flags().Uint64("seed", 1, "Seed for --init")
	rootCmd.AddCommand(exportCmd)
}

func exportModel(c *config.Config, random bool, seed uint64) (*model.Model, error) {
	if !random {
		return loadModel(c)
	}
	arch := c.Architecture(model.DefaultArchitecture())
	arch.VocabSize = c.VocabSize
	slog.Debug("Initialising random weights", "seed", seed, "vocab_size", arch.VocabSize)
	return model.Random(arch, seed)
}

func saveModel(path string, m *model.Model) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := m.Save(f); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

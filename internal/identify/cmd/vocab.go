package cmd

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"identify/internal/disasm"
	"identify/internal/elfx"
	"identify/internal/identify/config"
	ilog "identify/internal/identify/log"
	"identify/internal/vocab"
)

var vocabCmd = &cobra.Command{
	Use:   "vocab <out.vocab> <binary...>",
	Short: "Build a ranked opcode-class vocabulary",
	Long: `Count the opcode class of every superset candidate of the given
binaries and write the most frequent ones, ranked, as a vocabulary file.
The table height is --vocab-size and includes the INVALID and UNKNOWN
sentinels.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := buildVocab(cmd.Context(), cfg, args[1:])
		if err != nil {
			return err
		}
		if err := saveVocab(args[0], v); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d classes, table size %d\n", v.Len(), v.Size())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(vocabCmd)
}

// supersetOf decodes every byte offset of path's executable code.
func supersetOf(path string, c *config.Config) (_ []disasm.Candidate, err error) {
	defer ilog.RecoverInput(path, &err)
	kind, err := sniff(path)
	if err != nil {
		return nil, err
	}
	switch kind {
	case kindELF:
		im, err := elfx.Open(path)
		if err != nil {
			return nil, err
		}
		defer im.Close()
		return im.Superset(), nil
	case kindGraph:
		return nil, fmt.Errorf("%s is a graph archive, not code", path)
	}
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return disasm.Superset(code, 0, c.Mode), nil
}

// buildVocab counts classes per input concurrently and merges the counts.
func buildVocab(ctx context.Context, c *config.Config, paths []string) (*vocab.Vocab, error) {
	var (
		mu     sync.Mutex
		merged = vocab.NewBuilder()
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.Jobs)
	for _, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			cands, err := supersetOf(path, c)
			if err != nil {
				return err
			}
			b := vocab.NewBuilder()
			for _, cand := range cands {
				b.Add(cand.Class)
			}
			mu.Lock()
			merged.Merge(b)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return merged.Build(c.VocabSize)
}

func saveVocab(path string, v *vocab.Vocab) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := v.Save(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

package cmd

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"identify/internal/graph"
	"identify/internal/identify/config"
	ilog "identify/internal/identify/log"
	"identify/internal/vocab"
)

// DefaultMaxNodes skips bulk samples whose superset is too large to train on.
const DefaultMaxNodes = 5_000_000

var graphCmd = &cobra.Command{
	Use:   "graph <binary> <out.graph>",
	Short: "Build a superset graph archive",
	Long: `Decode every byte offset of the input's executable code, label the
candidates from the function symbols and write the graph as an npz archive.

With --bulk the arguments are an input directory and an output directory;
every ELF file below the input directory is converted concurrently.`,
	Example: `
# One binary
identify graph ./a.out a.graph --vocab x86.vocab

# A corpus, building the vocabulary from it first
identify graph --bulk ./samples ./graphs --vocab-out x86.vocab --jobs 8
  `,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		bulk, _ := cmd.Flags().GetBool("bulk")
		if !bulk {
			return runGraph(cfg, args[0], args[1])
		}
		vocabOut, _ := cmd.Flags().GetString("vocab-out")
		maxNodes, _ := cmd.Flags().GetInt("max-nodes")
		n, err := runBulk(cmd.Context(), cfg, args[0], args[1], vocabOut, maxNodes)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %d graphs to %s\n", n, args[1])
		return nil
	},
}

func init() {
	graphCmd.Flags().BoolP("bulk", "b", false, "Convert every ELF file below a directory")
	graphCmd.Flags().String("vocab-out", "", "In bulk mode, build the vocabulary from the corpus and write it here")
	graphCmd.Flags().Int("max-nodes", DefaultMaxNodes, "In bulk mode, skip samples with more candidates than this")
	rootCmd.AddCommand(graphCmd)
}

func runGraph(c *config.Config, src, dst string) error {
	v, err := loadVocab(c)
	if err != nil {
		return err
	}
	in, err := openInput(src, c, v)
	if err != nil {
		return err
	}
	defer in.Close()
	if in.kind == kindGraph {
		return fmt.Errorf("%s is already a graph archive", src)
	}
	return writeGraph(dst, in.graph)
}

func writeGraph(path string, g *graph.Graph) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := graph.Write(f, g); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// collectELF lists the ELF files below dir in walk order.
func collectELF(dir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if kind, err := sniff(path); err == nil && kind == kindELF {
			paths = append(paths, path)
		}
		return nil
	})
	return paths, err
}

// runBulk converts every ELF file below srcDir into a graph under dstDir,
// mirroring the directory layout. When vocabOut is set the vocabulary is
// first built from the whole corpus and saved there. It returns the number
// of graphs written.
func runBulk(ctx context.Context, c *config.Config, srcDir, dstDir, vocabOut string, maxNodes int) (int, error) {
	paths, err := collectELF(srcDir)
	if err != nil {
		return 0, err
	}
	slog.Info("Found samples", "count", len(paths), "dir", srcDir)

	var v *vocab.Vocab
	if vocabOut != "" {
		v, err = buildVocab(ctx, c, paths)
		if err == nil {
			err = saveVocab(vocabOut, v)
		}
	} else {
		v, err = loadVocab(c)
	}
	if err != nil {
		return 0, err
	}

	var written atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.Jobs)
	for _, path := range paths {
		g.Go(func() (err error) {
			defer ilog.RecoverInput(path, &err)
			if err := ctx.Err(); err != nil {
				return err
			}
			rel, err := filepath.Rel(srcDir, path)
			if err != nil {
				return err
			}
			dst := filepath.Join(dstDir, rel+".graph")
			ok, err := bulkOne(c, v, path, dst, maxNodes)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			if ok {
				written.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(written.Load()), err
	}
	return int(written.Load()), nil
}

func bulkOne(c *config.Config, v *vocab.Vocab, src, dst string, maxNodes int) (bool, error) {
	in, err := openInput(src, c, v)
	if err != nil {
		return false, err
	}
	defer in.Close()

	if maxNodes > 0 && in.graph.N() > maxNodes {
		slog.Info("Skipping oversized sample", "file", src, "nodes", in.graph.N())
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return false, err
	}
	if err := writeGraph(dst, in.graph); err != nil {
		return false, err
	}
	slog.Info("Wrote graph", "file", dst, "nodes", in.graph.N(), "edges", in.graph.E())
	return true, nil
}

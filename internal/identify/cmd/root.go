package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/log"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"identify/internal/identify/config"
	ilog "identify/internal/identify/log"
	"identify/internal/logging"
)

var (
	cfg    = config.Default()
	logger *logging.LoggerCloser
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringP("config", "c", "", "Config file (default ./identify.yaml when present)")
	pf.BoolP("debug", "d", false, "Debug")
	pf.StringP("model", "m", "", "Model artifact")
	pf.String("vocab", "", "Opcode-class vocabulary file")
	pf.Int("vocab-size", 0, "Embedding table height including the two sentinels")
	pf.Float64P("threshold", "t", 0, "Class-1 probability a candidate must exceed")
	pf.Int("mode", 0, "Decoder bitness for raw code (32 or 64)")
	pf.String("aggregation", "", "Override the model aggregation (sum or mean)")
	pf.Bool("relu-after-last-layer", false, "Apply the activation after the final relational layer")
	pf.IntP("jobs", "j", 0, "Graphs built concurrently in bulk mode")
	pf.Int("segment-capacity", 0, "Edges per arena segment while building graphs")

	rootCmd.Flags().BoolP("help", "h", false, "Help")
}

var rootCmd = &cobra.Command{
	Use:   "identify",
	Short: "Superset disassembly instruction classifier",
	Long: `Identify decodes an x86 code region at every byte offset, links the
overlapping candidates into a graph and classifies each candidate as a true
instruction or not with a relational graph network.`,
	Example: `
# Build a labelled graph archive from an ELF binary
identify graph ./a.out a.graph --vocab x86.vocab

# Print the indices of predicted instructions
identify predict ./a.out --model identify.model --vocab x86.vocab

# Score predictions against symbol-derived labels
identify evaluate a.graph b.graph --model identify.model
  `,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if logger != nil {
			return logger.Close()
		}
		return nil
	},
}

// setup resolves the configuration for the command about to run and
// initialises logging.
func setup(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("config")
	c, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := applyFlags(cmd.Flags(), c); err != nil {
		return err
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger = logging.NewLogger()
	if c.Debug || logging.IsDebug() {
		logger.SetLevel(log.DebugLevel)
	}
	ilog.Setup(logger.Logger)
	cfg = c
	return nil
}

// applyFlags overlays every flag the user set on c.
func applyFlags(fs *pflag.FlagSet, c *config.Config) error {
	var err error
	get := func(name string, apply func() error) {
		if err == nil && fs.Changed(name) {
			err = apply()
		}
	}
	get("debug", func() (e error) { c.Debug, e = fs.GetBool("debug"); return })
	get("model", func() (e error) { c.Model, e = fs.GetString("model"); return })
	get("vocab", func() (e error) { c.Vocab, e = fs.GetString("vocab"); return })
	get("vocab-size", func() (e error) { c.VocabSize, e = fs.GetInt("vocab-size"); return })
	get("threshold", func() (e error) { c.Threshold, e = fs.GetFloat64("threshold"); return })
	get("mode", func() (e error) { c.Mode, e = fs.GetInt("mode"); return })
	get("aggregation", func() (e error) { c.Aggregation, e = fs.GetString("aggregation"); return })
	get("jobs", func() (e error) { c.Jobs, e = fs.GetInt("jobs"); return })
	get("segment-capacity", func() (e error) { c.SegmentCapacity, e = fs.GetInt("segment-capacity"); return })
	get("relu-after-last-layer", func() error {
		b, e := fs.GetBool("relu-after-last-layer")
		c.ReLUAfterLastLayer = &b
		return e
	})
	return err
}

// libLogger is the logger handed to library packages.
func libLogger() *log.Logger {
	if logger == nil {
		return logging.Discard()
	}
	return logger.Logger
}

// Execute runs the command tree and returns the process exit code: 0 on
// success, 130 when interrupted and 1 for any other failure.
func Execute() int {
	var err error
	// Plain cobra when piped so help and errors stay free of styling.
	if !term.IsTerminal(os.Stdout.Fd()) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		err = rootCmd.ExecuteContext(ctx)
	} else {
		err = fang.Execute(
			context.Background(),
			rootCmd,
			fang.WithNotifySignal(os.Interrupt),
		)
	}
	return exitCode(err)
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.Canceled):
		return 130
	default:
		return 1
	}
}

package cmd

import (
	"bytes"
	"context"
	"debug/elf"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"testing"

	"github.com/spf13/pflag"

	"identify/internal/disasm"
	"identify/internal/elfx/elftest"
	"identify/internal/evaluate"
	"identify/internal/graph"
	"identify/internal/identify/config"
	"identify/internal/model"
	"identify/internal/vocab"
)

// push ebp; mov ebp, esp; pop ebp; ret | padding | xor eax, eax; ret
var sample = []byte{0x55, 0x89, 0xe5, 0x5d, 0xc3, 0xcc, 0xcc, 0x31, 0xc0, 0xc3}

var sampleFuncs = []elftest.Func{
	{Name: "_ZN3foo3barEv", Off: 0, Size: 5},
	{Name: "zero", Off: 7, Size: 3},
}

const testVocabSize = 16

// testConfig returns a configuration whose model is a seeded random weight
// set written to a temporary directory.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	c := config.Default()
	c.VocabSize = testVocabSize
	c.Jobs = 2

	arch := model.DefaultArchitecture()
	arch.VocabSize = testVocabSize
	m, err := model.Random(arch, 7)
	if err != nil {
		t.Fatalf("model.Random: %v", err)
	}
	c.Model = filepath.Join(t.TempDir(), "test.model")
	if err := saveModel(c.Model, m); err != nil {
		t.Fatalf("saveModel: %v", err)
	}
	return c
}

func TestSniff(t *testing.T) {
	dir := t.TempDir()
	elfPath := elftest.Write(t, sample, sampleFuncs)
	rawPath := filepath.Join(dir, "code.bin")
	if err := os.WriteFile(rawPath, sample, 0o644); err != nil {
		t.Fatal(err)
	}
	tinyPath := filepath.Join(dir, "tiny.bin")
	if err := os.WriteFile(tinyPath, []byte{0xc3}, 0o644); err != nil {
		t.Fatal(err)
	}
	graphPath := filepath.Join(dir, "a.graph")
	if err := runGraph(testConfig(t), elfPath, graphPath); err != nil {
		t.Fatalf("runGraph: %v", err)
	}

	tests := []struct {
		path string
		want inputKind
	}{
		{elfPath, kindELF},
		{rawPath, kindRaw},
		{tinyPath, kindRaw},
		{graphPath, kindGraph},
	}
	for _, tt := range tests {
		t.Run(filepath.Base(tt.path), func(t *testing.T) {
			got, err := sniff(tt.path)
			if err != nil {
				t.Fatalf("sniff: %v", err)
			}
			if got != tt.want {
				t.Errorf("sniff = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestRunGraph(t *testing.T) {
	c := testConfig(t)
	out := filepath.Join(t.TempDir(), "a.graph")
	if err := runGraph(c, elftest.Write(t, sample, sampleFuncs), out); err != nil {
		t.Fatalf("runGraph: %v", err)
	}
	g, err := graph.Load(out, c.VocabSize)
	if err != nil {
		t.Fatalf("graph.Load: %v", err)
	}
	if g.N() == 0 || !g.HasLabels() || g.Addrs == nil {
		t.Fatalf("graph = %v, labels %v", g.Stats(), g.HasLabels())
	}
	if s := g.Stats(); s.Positive != 6 {
		t.Errorf("positives = %d, want 6", s.Positive)
	}

	if err := runGraph(c, out, filepath.Join(t.TempDir(), "b.graph")); err == nil {
		t.Errorf("runGraph accepted a graph archive as input")
	}
}

func TestPredictBinaryMatchesArchive(t *testing.T) {
	c := testConfig(t)
	elfPath := elftest.Write(t, sample, sampleFuncs)
	graphPath := filepath.Join(t.TempDir(), "a.graph")
	if err := runGraph(c, elfPath, graphPath); err != nil {
		t.Fatalf("runGraph: %v", err)
	}

	var fromELF, fromGraph bytes.Buffer
	if err := runPredict(&fromELF, c, elfPath, false, false); err != nil {
		t.Fatalf("predict elf: %v", err)
	}
	if err := runPredict(&fromGraph, c, graphPath, false, false); err != nil {
		t.Fatalf("predict graph: %v", err)
	}
	if fromELF.String() != fromGraph.String() {
		t.Errorf("predictions differ:\nelf:\n%s\ngraph:\n%s", fromELF.String(), fromGraph.String())
	}
	for _, line := range strings.Fields(fromELF.String()) {
		if _, err := strconv.Atoi(line); err != nil {
			t.Errorf("output line %q is not an index", line)
		}
	}
}

func TestPredictAddressesAndJSON(t *testing.T) {
	c := testConfig(t)
	c.Threshold = 0 // every node
	elfPath := elftest.Write(t, sample, sampleFuncs)

	var addrs bytes.Buffer
	if err := runPredict(&addrs, c, elfPath, true, false); err != nil {
		t.Fatalf("predict --addresses: %v", err)
	}
	lines := strings.Fields(addrs.String())
	if len(lines) == 0 || lines[0] != "0x"+strconv.FormatUint(elftest.TextVA, 16) {
		t.Errorf("addresses = %v", lines)
	}

	var js bytes.Buffer
	if err := runPredict(&js, c, elfPath, false, true); err != nil {
		t.Fatalf("predict --json: %v", err)
	}
	var rep PredictReport
	if err := json.Unmarshal(js.Bytes(), &rep); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if rep.Nodes == 0 || len(rep.Predicted) != len(lines) {
		t.Fatalf("report has %d of %d nodes, addresses %d", len(rep.Predicted), rep.Nodes, len(lines))
	}
	first := rep.Predicted[0]
	if first.Instruction != "push ebp" || first.Symbol != "foo::bar()+0x0" {
		t.Errorf("first node = %+v", first)
	}
}

func TestPredictReportsClass(t *testing.T) {
	t.Setenv("IDENTIFY_NO_COLOR", "1")
	c := testConfig(t)
	c.Threshold = 0
	v, err := vocab.New([]string{"PUSH_r32"}, testVocabSize)
	if err != nil {
		t.Fatalf("vocab.New: %v", err)
	}
	c.Vocab = filepath.Join(t.TempDir(), "x86.vocab")
	if err := saveVocab(c.Vocab, v); err != nil {
		t.Fatalf("saveVocab: %v", err)
	}
	elfPath := elftest.Write(t, sample, sampleFuncs)

	var js bytes.Buffer
	if err := runPredict(&js, c, elfPath, false, true); err != nil {
		t.Fatalf("predict --json: %v", err)
	}
	var rep PredictReport
	if err := json.Unmarshal(js.Bytes(), &rep); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if got := rep.Predicted[0].Class; got != "PUSH_r32" {
		t.Errorf("class of push ebp = %q, want PUSH_r32", got)
	}
	if got := rep.Predicted[1].Class; got != vocab.UnknownName {
		t.Errorf("class outside the vocabulary = %q, want %s", got, vocab.UnknownName)
	}

	// graph archives carry codes only; the listing names them through the vocabulary
	archive := filepath.Join(t.TempDir(), "sample.graph")
	if err := runGraph(c, elfPath, archive); err != nil {
		t.Fatalf("runGraph: %v", err)
	}
	in, p, err := predictInput(c, archive)
	if err != nil {
		t.Fatalf("predictInput: %v", err)
	}
	defer in.Close()
	content, _ := renderListing(in, p)
	if !strings.Contains(content, "; PUSH_r32, 1 bytes") {
		t.Errorf("listing lacks the class of node 0:\n%s", content)
	}
}

func TestUnknownClasses(t *testing.T) {
	v, err := vocab.New([]string{"PUSH_r32", "RET"}, testVocabSize)
	if err != nil {
		t.Fatalf("vocab.New: %v", err)
	}
	cands := []disasm.Candidate{
		{Class: "PUSH_r32"},
		{Class: "MOV_r32_r32"},
		{Class: "RET"},
		{Class: "IN_r32_imm"},
	}
	if got := unknownClasses(cands, v); got != 2 {
		t.Errorf("unknownClasses = %d, want 2", got)
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, 0},
		{"failure", errors.New("boom"), 1},
		{"interrupted", context.Canceled, 130},
		{"interrupted while wrapped", fmt.Errorf("a.out: %w", context.Canceled), 130},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestPredictWithoutModel(t *testing.T) {
	c := config.Default()
	err := runPredict(&bytes.Buffer{}, c, elftest.Write(t, sample, sampleFuncs), false, false)
	if !errors.Is(err, errNoModel) {
		t.Errorf("err = %v, want errNoModel", err)
	}
}

func TestRunEvaluate(t *testing.T) {
	c := testConfig(t)
	a := elftest.Write(t, sample, sampleFuncs)
	b := elftest.Write(t, sample, sampleFuncs[:1])

	var out bytes.Buffer
	if err := runEvaluate(context.Background(), &out, c, []string{a, b}, true, false); err != nil {
		t.Fatalf("runEvaluate: %v", err)
	}
	var rep struct {
		Inputs []evaluate.Summary `json:"inputs"`
		Total  evaluate.Summary   `json:"total"`
	}
	if err := json.Unmarshal(out.Bytes(), &rep); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rep.Inputs) != 2 {
		t.Fatalf("inputs = %d, want 2", len(rep.Inputs))
	}
	// Truth positives: 6 in the first sample, 4 in the second.
	for i, want := range []int{6, 4} {
		s := rep.Inputs[i]
		if s.TruePositives+s.FalseNegatives != want {
			t.Errorf("input %d: tp+fn = %d, want %d", i, s.TruePositives+s.FalseNegatives, want)
		}
	}
	if rep.Total.TruePositives != rep.Inputs[0].TruePositives+rep.Inputs[1].TruePositives {
		t.Errorf("total = %+v", rep.Total)
	}

	out.Reset()
	if err := runEvaluate(context.Background(), &out, c, []string{a, b}, false, false); err != nil {
		t.Fatalf("runEvaluate markdown: %v", err)
	}
	if !strings.Contains(out.String(), "| **total** |") {
		t.Errorf("markdown lacks a total row:\n%s", out.String())
	}
}

func TestRunEvaluateUnlabelled(t *testing.T) {
	c := testConfig(t)
	raw := filepath.Join(t.TempDir(), "code.bin")
	if err := os.WriteFile(raw, sample, 0o644); err != nil {
		t.Fatal(err)
	}
	err := runEvaluate(context.Background(), &bytes.Buffer{}, c, []string{raw}, true, false)
	if err == nil || !strings.Contains(err.Error(), "no labels") {
		t.Errorf("err = %v, want a missing-labels error", err)
	}
}

func TestRunBulk(t *testing.T) {
	c := testConfig(t)
	src := t.TempDir()
	for _, name := range []string{"a", "sub/b"} {
		path := filepath.Join(src, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, elftest.Build(elf.EM_386, sample, sampleFuncs), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(src, "notes.txt"), []byte("not a binary"), 0o644); err != nil {
		t.Fatal(err)
	}

	dst := t.TempDir()
	vocabOut := filepath.Join(t.TempDir(), "x86.vocab")
	n, err := runBulk(context.Background(), c, src, dst, vocabOut, DefaultMaxNodes)
	if err != nil {
		t.Fatalf("runBulk: %v", err)
	}
	if n != 2 {
		t.Errorf("wrote %d graphs, want 2", n)
	}
	for _, name := range []string{"a.graph", "sub/b.graph"} {
		if _, err := graph.Load(filepath.Join(dst, name), c.VocabSize); err != nil {
			t.Errorf("load %s: %v", name, err)
		}
	}

	f, err := os.Open(vocabOut)
	if err != nil {
		t.Fatalf("open vocab: %v", err)
	}
	defer f.Close()
	v, err := vocab.Load(f, c.VocabSize)
	if err != nil {
		t.Fatalf("vocab.Load: %v", err)
	}
	if !v.Known("PUSH_r32") {
		t.Errorf("corpus vocabulary lacks PUSH_r32")
	}

	n, err = runBulk(context.Background(), c, src, t.TempDir(), "", 1)
	if err != nil {
		t.Fatalf("runBulk with node cap: %v", err)
	}
	if n != 0 {
		t.Errorf("wrote %d graphs past a one-node cap", n)
	}
}

func TestBuildVocabRanking(t *testing.T) {
	c := testConfig(t)
	raw := filepath.Join(t.TempDir(), "pushes.bin")
	// four push ebp, one ret
	if err := os.WriteFile(raw, []byte{0x55, 0x55, 0x55, 0x55, 0xc3}, 0o644); err != nil {
		t.Fatal(err)
	}
	v, err := buildVocab(context.Background(), c, []string{raw})
	if err != nil {
		t.Fatalf("buildVocab: %v", err)
	}
	if got := v.Encode("PUSH_r32"); got != vocab.Unknown+1 {
		t.Errorf("PUSH_r32 id = %d, want the first ranked slot", got)
	}
}

func TestExportModel(t *testing.T) {
	c := testConfig(t)
	c.Aggregation = model.AggregateMean

	m, err := exportModel(c, false, 0)
	if err != nil {
		t.Fatalf("exportModel: %v", err)
	}
	out := filepath.Join(t.TempDir(), "mean.model")
	if err := saveModel(out, m); err != nil {
		t.Fatalf("saveModel: %v", err)
	}
	back, err := model.Load(out)
	if err != nil {
		t.Fatalf("model.Load: %v", err)
	}
	if back.Arch.Aggregation != model.AggregateMean {
		t.Errorf("exported aggregation = %q", back.Arch.Aggregation)
	}

	r1, err := exportModel(c, true, 3)
	if err != nil {
		t.Fatalf("exportModel --init: %v", err)
	}
	r2, _ := exportModel(c, true, 3)
	if r1.Arch.VocabSize != c.VocabSize {
		t.Errorf("random vocab size = %d", r1.Arch.VocabSize)
	}
	if !slices.Equal(r1.HeadW.RawMatrix().Data, r2.HeadW.RawMatrix().Data) {
		t.Errorf("same seed produced different weights")
	}
}

func TestApplyFlags(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.AddFlagSet(rootCmd.PersistentFlags())
	if err := fs.Parse([]string{"--threshold=0.7", "--relu-after-last-layer", "--mode", "64", "-j", "3"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	c := config.Default()
	c.Model = "kept.model"
	if err := applyFlags(fs, c); err != nil {
		t.Fatalf("applyFlags: %v", err)
	}
	if c.Threshold != 0.7 || c.Mode != 64 || c.Jobs != 3 {
		t.Errorf("flags not applied: %+v", c)
	}
	if c.ReLUAfterLastLayer == nil || !*c.ReLUAfterLastLayer {
		t.Errorf("relu-after-last-layer not applied")
	}
	if c.Model != "kept.model" {
		t.Errorf("unset flag overwrote Model: %q", c.Model)
	}
}

func TestConfigSchema(t *testing.T) {
	bts, err := configSchema()
	if err != nil {
		t.Fatalf("configSchema: %v", err)
	}
	for _, want := range []string{`"threshold"`, `"segmentCapacity"`, `"aggregation"`} {
		if !bytes.Contains(bts, []byte(want)) {
			t.Errorf("schema lacks %s", want)
		}
	}
}

func TestRenderListing(t *testing.T) {
	t.Setenv("IDENTIFY_NO_COLOR", "1")
	c := testConfig(t)
	in, p, err := predictInput(c, elftest.Write(t, sample, sampleFuncs))
	if err != nil {
		t.Fatalf("predictInput: %v", err)
	}
	defer in.Close()

	content, lineOf := renderListing(in, p)
	lines := strings.Split(content, "\n")
	if len(lineOf) != in.graph.N() {
		t.Fatalf("lineOf has %d rows for %d nodes", len(lineOf), in.graph.N())
	}
	first := lines[lineOf[0]]
	if !strings.Contains(first, "08048060  push ebp") {
		t.Errorf("first row = %q", first)
	}
	if !strings.Contains(content, "foo::bar()") {
		t.Errorf("listing lacks the function header:\n%s", content)
	}

	items := predictedItems(in, p)
	if len(items) != len(p.Indices) {
		t.Errorf("items = %d, want %d", len(items), len(p.Indices))
	}
}

func TestCandidateMark(t *testing.T) {
	yes, no := true, false
	tests := []struct {
		name      string
		predicted bool
		label     *bool
		want      string
	}{
		{"unlabelled predicted", true, nil, "●"},
		{"unlabelled rejected", false, nil, "·"},
		{"true positive", true, &yes, "●"},
		{"false positive", true, &no, "●"},
		{"false negative", false, &yes, "○"},
		{"true negative", false, &no, "·"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := candidateMark(tt.predicted, tt.label); !strings.Contains(got, tt.want) {
				t.Errorf("candidateMark = %q, want %q", got, tt.want)
			}
		})
	}
}

package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/v2/list"
	"github.com/charmbracelet/bubbles/v2/spinner"
	"github.com/charmbracelet/bubbles/v2/viewport"
	tea "github.com/charmbracelet/bubbletea/v2"
	"github.com/charmbracelet/lipgloss/v2"
	"github.com/spf13/cobra"

	"identify/internal/evaluate"
	"identify/internal/identify/config"
	"identify/internal/identify/styles"
	"identify/internal/inference"
	"identify/internal/ui/colorize"
)

// maxListingLines caps the superset listing the TUI renders.
const maxListingLines = 50_000

var viewCmd = &cobra.Command{
	Use:   "view <binary|graph>",
	Short: "Browse a classified superset interactively",
	Long: `Open a terminal UI over the classified superset of the input: the
highlighted candidate listing, a filterable list of predicted instructions
and a summary with the evaluation when the input carries labels.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		program := tea.NewProgram(
			newViewModel(args[0], cfg),
			tea.WithAltScreen(),
			tea.WithContext(cmd.Context()),
		)
		if _, err := program.Run(); err != nil {
			slog.Error("TUI run error", "error", err)
			return fmt.Errorf("TUI error: %v", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(viewCmd)
}

type viewMode int

const (
	viewListing viewMode = iota
	viewPredicted
	viewSummary
)

type candidateItem struct {
	index  int
	addr   uint64
	text   string
	prob   float64
	symbol string
}

func (i candidateItem) Title() string       { return fmt.Sprintf("%08x  %s", i.addr, i.text) }
func (i candidateItem) Description() string { return i.symbol }
func (i candidateItem) FilterValue() string {
	return fmt.Sprintf("%x %s %s", i.addr, i.text, i.symbol)
}

type itemDelegate struct{}

func (d itemDelegate) Height() int                               { return 1 }
func (d itemDelegate) Spacing() int                              { return 0 }
func (d itemDelegate) Update(msg tea.Msg, m *list.Model) tea.Cmd { return nil }

func (d itemDelegate) Render(w io.Writer, m list.Model, index int, listItem list.Item) {
	i, ok := listItem.(candidateItem)
	if !ok {
		return
	}
	indicator := " "
	if index == m.Index() {
		indicator = ">"
	}
	line := fmt.Sprintf(" %s %s  %s", indicator, colorize.Line(i.addr, i.text),
		styles.HelpStyle.Render(fmt.Sprintf("%.3f", i.prob)))
	if i.symbol != "" {
		line += "  " + styles.HelpStyle.Render(i.symbol)
	}
	fmt.Fprint(w, line)
}

type viewModel struct {
	listing   viewport.Model
	predicted list.Model
	summary   viewport.Model
	spinner   spinner.Model
	mode      viewMode

	path    string
	cfg     *config.Config
	loading bool
	err     error
	in      *input
	pred    *inference.Prediction
	lineOf  map[int]int
	width   int
	height  int
}

type loadedMsg struct {
	in   *input
	pred *inference.Prediction
	err  error
}

func loadCmd(path string, c *config.Config) tea.Cmd {
	return func() tea.Msg {
		in, p, err := predictInput(c, path)
		return loadedMsg{in: in, pred: p, err: err}
	}
}

func newViewModel(path string, c *config.Config) viewModel {
	vp := viewport.New()
	vp.SetWidth(80)
	vp.SetHeight(24)

	predicted := list.New([]list.Item{}, itemDelegate{}, 80, 24)
	predicted.SetShowStatusBar(false)
	predicted.SetFilteringEnabled(true)
	predicted.Title = "Predicted"
	predicted.Styles.Title = styles.TitleStyle
	predicted.SetShowHelp(true)

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = styles.PredictedStyle

	svp := viewport.New()
	svp.SetWidth(80)
	svp.SetHeight(24)

	m := viewModel{
		listing:   vp,
		predicted: predicted,
		summary:   svp,
		spinner:   s,
		mode:      viewSummary,
		path:      path,
		cfg:       c,
		loading:   true,
		width:     80,
		height:    24,
	}
	m.updateSummary()
	return m
}

func (m viewModel) Init() tea.Cmd {
	return tea.Batch(loadCmd(m.path, m.cfg), m.spinner.Tick)
}

func (m viewModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case loadedMsg:
		m.loading = false
		m.err = msg.err
		m.in = msg.in
		m.pred = msg.pred
		if m.err == nil {
			content, lineOf := renderListing(m.in, m.pred)
			m.listing.SetContent(content)
			m.lineOf = lineOf
			m.predicted.SetItems(predictedItems(m.in, m.pred))
			m.predicted.Title = fmt.Sprintf("Predicted (%d of %d)", len(m.pred.Indices), m.in.graph.N())
			m.mode = viewListing
		}
		m.updateSummary()
		return m, nil

	case spinner.TickMsg:
		m.spinner, cmd = m.spinner.Update(msg)
		if m.loading {
			m.updateSummary()
			return m, cmd
		}
		return m, nil

	case tea.WindowSizeMsg:
		if msg.Width != m.width || msg.Height != m.height {
			m.width = msg.Width
			m.height = msg.Height
			m.listing.SetWidth(msg.Width)
			m.listing.SetHeight(msg.Height - 2)
			m.predicted.SetWidth(msg.Width)
			m.predicted.SetHeight(msg.Height - 2)
			m.summary.SetWidth(msg.Width)
			m.summary.SetHeight(msg.Height - 2)
			m.updateSummary()
		}

	case tea.KeyMsg:
		filtering := m.mode == viewPredicted && m.predicted.FilterState() == list.Filtering
		switch key := msg.String(); {
		case key == "ctrl+c" || (key == "q" && !filtering):
			if m.in != nil {
				m.in.Close()
			}
			return m, tea.Quit
		case filtering:
		case key == "l":
			m.mode = viewListing
			return m, nil
		case key == "p":
			m.mode = viewPredicted
			return m, nil
		case key == "s":
			m.mode = viewSummary
			return m, nil
		case key == "tab":
			m.mode = (m.mode + 1) % 3
			return m, nil
		case key == "shift+tab":
			m.mode = (m.mode + 2) % 3
			return m, nil
		case key == "enter" && m.mode == viewPredicted:
			if item, ok := m.predicted.SelectedItem().(candidateItem); ok {
				if line, ok := m.lineOf[item.index]; ok {
					m.mode = viewListing
					m.listing.SetYOffset(line)
				}
			}
			return m, nil
		}
	}

	switch m.mode {
	case viewPredicted:
		m.predicted, cmd = m.predicted.Update(msg)
	case viewSummary:
		m.summary, cmd = m.summary.Update(msg)
	default:
		m.listing, cmd = m.listing.Update(msg)
	}
	return m, cmd
}

func (m viewModel) View() string {
	var content, menu string
	switch m.mode {
	case viewPredicted:
		content = m.predicted.View()
		menu = " Enter: show in listing • L: listing • S: summary • Tab: cycle • Q: quit "
	case viewSummary:
		content = m.summary.View()
		menu = " L: listing • P: predicted • Tab: cycle • Q: quit "
	default:
		content = m.listing.View()
		menu = " P: predicted • S: summary • Tab: cycle • Q: quit "
	}
	if m.loading || m.err != nil {
		menu = " Q: quit "
	}

	menuStyle := lipgloss.NewStyle().
		Background(lipgloss.Color(styles.Selection)).
		Foreground(lipgloss.Color(styles.Foreground)).
		Padding(0, 1).
		Width(m.width)

	return content + "\n" + menuStyle.Render(menu)
}

func (m *viewModel) updateSummary() {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", m.path)

	switch {
	case m.loading:
		fmt.Fprintf(&b, "%s Building the superset graph and classifying...\n", m.spinner.View())
	case m.err != nil:
		fmt.Fprintf(&b, "**error:** %v\n", m.err)
	default:
		b.WriteString(summaryMarkdown(m.in, m.pred, m.cfg))
	}

	width := m.width
	if width == 0 {
		width = 80
	}
	m.summary.SetContent(strings.TrimSuffix(styles.Render(b.String(), width-2), "\n"))
}

func summaryMarkdown(in *input, p *inference.Prediction, c *config.Config) string {
	var b strings.Builder
	st := in.graph.Stats()
	b.WriteString("```\n")
	fmt.Fprintf(&b, "; %s input, %d-bit\n", in.kind, in.mode)
	fmt.Fprintf(&b, "; %s\n", st)
	fmt.Fprintf(&b, "; %d predicted at threshold %.2f\n", len(p.Indices), c.Threshold)
	b.WriteString("```\n")

	if in.graph.HasLabels() {
		s := evaluate.Evaluate(in.graph.Labels, p.Indices).Summary()
		s.Name = in.name
		b.WriteString("\n## Evaluation\n\n")
		b.WriteString(evaluate.Markdown([]evaluate.Summary{s}))
	}
	if in.cands != nil && len(in.cands) > maxListingLines {
		fmt.Fprintf(&b, "\nListing shows the first %d of %d candidates.\n", maxListingLines, len(in.cands))
	}
	return b.String()
}

// candidateMark is the listing gutter glyph for one node.
func candidateMark(predicted bool, label *bool) string {
	switch {
	case label == nil && predicted:
		return styles.PredictedStyle.Render("●")
	case label == nil:
		return styles.RejectedStyle.Render("·")
	case predicted && *label:
		return styles.PredictedStyle.Render("●")
	case predicted:
		return styles.MissedStyle.Render("●")
	case *label:
		return styles.MissedStyle.Render("○")
	}
	return styles.RejectedStyle.Render("·")
}

// renderListing renders up to maxListingLines nodes and returns the row of
// each rendered node.
func renderListing(in *input, p *inference.Prediction) (string, map[int]int) {
	g := in.graph
	predicted := make(map[int32]bool, len(p.Indices))
	for _, idx := range p.Indices {
		predicted[idx] = true
	}

	var b strings.Builder
	lineOf := make(map[int]int)
	row := 0
	n := min(g.N(), maxListingLines)
	for i := range n {
		var label *bool
		if g.HasLabels() {
			label = &g.Labels[i]
		}
		addr, hasAddr := in.Address(i)
		if hasAddr && in.symbol != nil {
			if name, off, ok := in.symbol(addr); ok && off == 0 {
				fmt.Fprintf(&b, "\n%s\n", styles.TitleStyle.Render(name))
				row += 2
			}
		}

		text := in.Instruction(i)
		if text == "" {
			text = fmt.Sprintf("; %s, %d bytes", in.ClassName(i), g.Sizes[i]+1)
		}
		lineOf[i] = row
		fmt.Fprintf(&b, "%s %s  %s\n",
			candidateMark(predicted[int32(i)], label),
			colorize.Line(addr, text),
			styles.HelpStyle.Render(fmt.Sprintf("%.3f", p.Probabilities[i])))
		row++
	}
	return strings.TrimSuffix(b.String(), "\n"), lineOf
}

func predictedItems(in *input, p *inference.Prediction) []list.Item {
	items := make([]list.Item, 0, len(p.Indices))
	for _, idx := range p.Indices {
		i := int(idx)
		addr, _ := in.Address(i)
		item := candidateItem{index: i, addr: addr, text: in.Instruction(i), prob: p.Probabilities[i]}
		if item.text == "" {
			item.text = fmt.Sprintf("node %d", i)
		}
		if in.symbol != nil {
			if name, off, ok := in.symbol(addr); ok {
				item.symbol = fmt.Sprintf("%s+0x%x", name, off)
			}
		}
		items = append(items, item)
	}
	return items
}

package subcommands

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"OpenSampler/internal/config"
	"OpenSampler/internal/runtime"
	"OpenSampler/internal/sampling"
)

var (
	promptStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF6B6B"))

	outputStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#4ECDC4"))

	systemStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFE66D"))

	subtitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666680")).
			Padding(0, 1)

	viewBorderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#3d3d5c"))

	inputBorderStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("#00D9FF"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666680")).
			Italic(true)
)

var availableCommands = []string{"/clear", "/help", "/quit", "/set", "/stages"}

const tuiHelp = `Enter prompt token ids separated by spaces or commas and press Ctrl+S.

Commands:
  /set <param> <value>  temp, top_k, top_p, min_p, repeat, mirostat, seed, max_tokens
  /stages               show the chain the current settings compile to
  /clear                clear the transcript
  /quit                 exit`

type entry struct {
	role    string
	content string
	tokens  []string
	stats   *runtime.Stats
	finish  string
}

// tuiSession holds what the model shares with generation goroutines.
type tuiSession struct {
	ctx      context.Context
	registry runtime.Registry
	program  *tea.Program
}

type tuiModel struct {
	session *tuiSession
	cfg     config.Config

	viewport viewport.Model
	textarea textarea.Model
	spinner  spinner.Model
	entries  []entry
	ready    bool
	loading  bool
	renderer *glamour.TermRenderer
	width    int
	height   int
}

// streamToken carries one generation event into the update loop.
type streamToken struct {
	token  sampling.Token
	final  bool
	finish string
	stats  *runtime.Stats
	err    error
}

// generationDone ends a run started by runGeneration.
type generationDone struct {
	err error
}

func newTuiModel(session *tuiSession, cfg config.Config) tuiModel {
	ta := textarea.New()
	ta.Placeholder = "1 15 27 ..."
	ta.Focus()
	ta.Prompt = "┃ "
	ta.CharLimit = 4096
	ta.SetWidth(80)
	ta.SetHeight(3)
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.ShowLineNumbers = false

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#4ECDC4"))

	renderer, _ := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)

	return tuiModel{
		session:  session,
		cfg:      cfg,
		textarea: ta,
		spinner:  s,
		renderer: renderer,
		entries:  []entry{{role: "System", content: tuiHelp}},
	}
}

func (m tuiModel) Init() tea.Cmd {
	return textarea.Blink
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		taCmd tea.Cmd
		vpCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit

		case tea.KeyCtrlS:
			if m.loading {
				return m, nil
			}
			input := strings.TrimSpace(m.textarea.Value())
			if input == "" {
				return m, nil
			}
			m.textarea.Reset()

			if strings.HasPrefix(input, "/") {
				return m, m.handleLocalCommand(input)
			}

			prompt, err := parseTokenIDs(input)
			if err != nil {
				m.entries = append(m.entries, entry{role: "System", content: err.Error()})
				m.updateViewport()
				return m, nil
			}

			m.entries = append(m.entries,
				entry{role: "Prompt", content: input},
				entry{role: "Output"},
			)
			m.loading = true
			m.updateViewport()
			return m, tea.Batch(m.spinner.Tick, m.runGeneration(prompt))
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		headerHeight := 2
		inputHeight := 3
		verticalMarginHeight := headerHeight + inputHeight

		if !m.ready {
			m.viewport = viewport.New(msg.Width-4, msg.Height-verticalMarginHeight-4)
			m.viewport.YPosition = headerHeight
			m.ready = true
		} else {
			m.viewport.Width = msg.Width - 4
			m.viewport.Height = msg.Height - verticalMarginHeight - 4
		}
		m.textarea.SetWidth(msg.Width - 6)

		r, _ := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(max(m.viewport.Width-4, 20)),
		)
		m.renderer = r
		m.updateViewport()

	case streamToken:
		last := &m.entries[len(m.entries)-1]
		switch {
		case msg.err != nil:
			last.content = "Error: " + msg.err.Error()
		case msg.final:
			last.finish = msg.finish
			last.stats = msg.stats
		default:
			last.tokens = append(last.tokens, strconv.Itoa(int(msg.token)))
		}
		m.updateViewport()
		return m, nil

	case generationDone:
		m.loading = false
		if msg.err != nil && m.entries[len(m.entries)-1].content == "" {
			m.entries[len(m.entries)-1].content = "Error: " + msg.err.Error()
		}
		m.updateViewport()
		return m, nil

	case spinner.TickMsg:
		var spCmd tea.Cmd
		m.spinner, spCmd = m.spinner.Update(msg)
		if m.loading {
			m.updateViewport()
		}
		return m, spCmd
	}

	m.textarea, taCmd = m.textarea.Update(msg)
	m.viewport, vpCmd = m.viewport.Update(msg)
	return m, tea.Batch(taCmd, vpCmd)
}

func (m *tuiModel) handleLocalCommand(input string) tea.Cmd {
	fields := strings.Fields(input)
	switch strings.ToLower(fields[0]) {
	case "/quit", "/exit":
		return tea.Quit

	case "/clear":
		m.entries = nil

	case "/help":
		m.entries = append(m.entries, entry{role: "System", content: tuiHelp})

	case "/stages":
		vocab := runtime.VocabFromConfig(m.cfg.Sampling.Vocab)
		if chain, err := runtime.NewChain(m.cfg.Sampling, vocab, nil); err != nil {
			m.entries = append(m.entries, entry{role: "System", content: err.Error()})
		} else {
			m.entries = append(m.entries, entry{role: "System", content: strings.Join(chain.Names(), " → ")})
			chain.Close()
		}

	case "/set":
		msg := "Usage: /set <param> <value>"
		if len(fields) == 3 {
			if err := applySetting(&m.cfg, fields[1], fields[2]); err != nil {
				msg = err.Error()
			} else {
				msg = fmt.Sprintf("Parameter '%s' updated to '%s'", fields[1], fields[2])
			}
		}
		m.entries = append(m.entries, entry{role: "System", content: msg})

	default:
		m.entries = append(m.entries, entry{role: "System", content: fmt.Sprintf("Unknown command %s. Commands: %s",
			fields[0], strings.Join(availableCommands, " "))})
	}

	m.updateViewport()
	return nil
}

// applySetting changes one generation parameter for subsequent runs.
func applySetting(cfg *config.Config, param, value string) error {
	d := &cfg.Sampling.Defaults
	parseFloat := func() (float64, error) { return strconv.ParseFloat(value, 64) }
	parseInt := func() (int, error) { return strconv.Atoi(value) }

	var err error
	switch strings.ToLower(param) {
	case "temp", "temperature":
		var v float64
		if v, err = parseFloat(); err == nil && v < 0 {
			err = fmt.Errorf("temperature must be >= 0")
		}
		if err == nil {
			d.Temperature = v
		}
	case "top_k", "topk":
		d.TopK, err = parseInt()
	case "top_p", "topp":
		d.TopP, err = parseFloat()
	case "min_p", "minp":
		d.MinP, err = parseFloat()
	case "repeat", "repeat_penalty":
		d.RepeatPenalty, err = parseFloat()
	case "mirostat":
		var v int
		if v, err = parseInt(); err == nil && (v < 0 || v > 2) {
			err = fmt.Errorf("mirostat must be 0, 1 or 2")
		}
		if err == nil {
			d.Mirostat = v
		}
	case "seed":
		var v uint64
		if v, err = strconv.ParseUint(value, 10, 32); err == nil {
			cfg.Sampling.Seed = uint32(v)
		}
	case "max_tokens":
		cfg.Engine.MaxTokens, err = parseInt()
	default:
		return fmt.Errorf("unknown parameter %q", param)
	}
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", param, err)
	}
	// Explicit stage lists would ignore the flat defaults.
	cfg.Sampling.Stages = nil
	return nil
}

// parseTokenIDs reads ids separated by spaces or commas.
func parseTokenIDs(input string) ([]sampling.Token, error) {
	fields := strings.FieldsFunc(input, func(r rune) bool { return r == ',' || r == ' ' || r == '\n' || r == '\t' })
	ids := make([]sampling.Token, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseInt(f, 10, 32)
		if err != nil || v < 0 {
			return nil, fmt.Errorf("invalid token id %q", f)
		}
		ids = append(ids, sampling.Token(v))
	}
	return ids, nil
}

// renderStats formats a finished run as markdown.
func renderStats(stats *runtime.Stats, finish string) string {
	var sb strings.Builder
	sb.WriteString("| finish | tokens | tok/s | ttft | sample avg |\n")
	sb.WriteString("|---|---|---|---|---|\n")
	fmt.Fprintf(&sb, "| %s | %d | %.1f | %v | %v |\n",
		finish, stats.TokensGenerated, stats.GenerationTPS,
		stats.TTFT.Round(time.Microsecond), stats.Sampling.MeanSample())
	return sb.String()
}

func (m *tuiModel) updateViewport() {
	if !m.ready {
		return
	}
	var sb strings.Builder

	for _, e := range m.entries {
		switch e.role {
		case "System":
			sb.WriteString(systemStyle.Render("SYSTEM") + "\n")
			sb.WriteString(e.content + "\n\n")

		case "Prompt":
			sb.WriteString(promptStyle.Render("PROMPT") + "\n")
			sb.WriteString(e.content + "\n\n")

		case "Output":
			sb.WriteString(outputStyle.Render("OUTPUT") + "\n")
			if e.content != "" {
				sb.WriteString(e.content + "\n")
			}
			sb.WriteString(strings.Join(e.tokens, " ") + "\n")
			if e.stats != nil {
				table := renderStats(e.stats, e.finish)
				if m.renderer != nil {
					if r, err := m.renderer.Render(table); err == nil {
						table = r
					}
				}
				sb.WriteString(table)
			}
			sb.WriteString("\n")
		}
	}

	if m.loading {
		sb.WriteString(m.spinner.View() + statsStyle.Render(" Sampling..."))
	}

	m.viewport.SetContent(sb.String())
	m.viewport.GotoBottom()
}

func (m tuiModel) runGeneration(prompt []sampling.Token) tea.Cmd {
	cfg := m.cfg
	session := m.session
	return func() tea.Msg {
		mgr, err := runtime.NewManager(cfg, session.registry, nil)
		if err != nil {
			return generationDone{err: err}
		}
		defer mgr.Close()

		err = mgr.Stream(session.ctx, runtime.Request{Prompt: prompt}, func(ev runtime.StreamEvent) error {
			if session.program == nil {
				return nil
			}
			session.program.Send(streamToken{token: ev.Token, final: ev.Final, finish: ev.Finish, stats: ev.Stats})
			return nil
		})
		return generationDone{err: err}
	}
}

func (m tuiModel) View() string {
	if !m.ready {
		return "\n  Initializing OpenSampler..."
	}

	header := lipgloss.JoinHorizontal(lipgloss.Center,
		titleStyle.Render(" OpenSampler "),
		subtitleStyle.Render(fmt.Sprintf("engine %s  seed %d", m.cfg.Engine.Backend, m.cfg.Sampling.Seed)),
	)
	view := viewBorderStyle.Render(m.viewport.View())
	input := inputBorderStyle.Render(m.textarea.View())
	help := helpStyle.Render("Ctrl+S Run | /help Commands | Esc Quit")

	return fmt.Sprintf("%s\n%s\n%s\n%s", header, view, input, help)
}

func NewTuiCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Interactive generation explorer",
		Long: `Run generations from prompt token ids and tweak sampling parameters
between runs with /set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			session := &tuiSession{ctx: cmd.Context(), registry: env.Registry}
			m := newTuiModel(session, env.Config)
			p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())
			session.program = p

			if _, err := p.Run(); err != nil {
				return fmt.Errorf("tui: %w", err)
			}
			return nil
		},
	}
}

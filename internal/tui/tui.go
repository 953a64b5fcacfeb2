// Package tui shows a running parking check in the terminal: a spinner that
// follows the pipeline stages, then the decision card.
package tui

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/timvw/park-patrol/internal/orchestrator"
)

// CheckFunc runs one check. It must honor ctx cancellation.
type CheckFunc func(ctx context.Context) (*orchestrator.Result, error)

// Progress forwards orchestrator transitions to a running view. Register it
// with orchestrator.WithObserver before the check starts.
type Progress struct {
	mu   sync.Mutex
	prog *tea.Program
	id   string
}

// NewProgress returns an unattached Progress. Transitions are dropped until
// a view is running.
func NewProgress() *Progress { return &Progress{} }

// Observe implements orchestrator.Observer. It follows one request at a
// time; once that request finishes, the next one to report is followed.
func (p *Progress) Observe(t orchestrator.Transition) {
	p.mu.Lock()
	prog := p.prog
	if p.id == "" {
		p.id = t.RequestID
	}
	follow := t.RequestID == p.id
	if follow && t.To.Terminal() {
		p.id = ""
	}
	p.mu.Unlock()
	if prog != nil && follow {
		prog.Send(transitionMsg(t))
	}
}

func (p *Progress) attach(prog *tea.Program) {
	p.mu.Lock()
	p.prog = prog
	p.mu.Unlock()
}

// messages
type transitionMsg orchestrator.Transition

type resultMsg struct {
	result *orchestrator.Result
	err    error
}

type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(key.WithKeys("q", "esc", "ctrl+c"), key.WithHelp("q", "cancel")),
}

// View runs a single check interactively.
type View struct {
	Progress  *Progress
	ThemeName string
}

// Run starts the check and blocks until it finishes or the user cancels.
// The last frame, the decision card, stays on screen.
func (v *View) Run(ctx context.Context, check CheckFunc) (*orchestrator.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := newCheckModel(ctx, cancel, check, ThemeByName(v.ThemeName))
	prog := tea.NewProgram(m, tea.WithContext(ctx))
	if v.Progress != nil {
		v.Progress.attach(prog)
		defer v.Progress.attach(nil)
	}

	final, err := prog.Run()
	if fm, ok := final.(*checkModel); ok && fm.done {
		return fm.result, fm.err
	}
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return nil, fmt.Errorf("tui: %w", err)
	}
	return nil, context.Canceled
}

// checkModel implements tea.Model.
type checkModel struct {
	ctx     context.Context
	cancel  context.CancelFunc
	check   CheckFunc
	spinner spinner.Model
	styles  styles

	state    orchestrator.State
	started  time.Time
	elapsed  time.Duration
	width    int
	quitting bool

	done   bool
	result *orchestrator.Result
	err    error
}

func newCheckModel(ctx context.Context, cancel context.CancelFunc, check CheckFunc, theme Theme) *checkModel {
	st := newStyles(theme)
	return &checkModel{
		ctx:     ctx,
		cancel:  cancel,
		check:   check,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(st.title)),
		styles:  st,
		started: time.Now(),
	}
}

func (m *checkModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.doCheck())
}

func (m *checkModel) doCheck() tea.Cmd {
	check := m.check
	ctx := m.ctx
	return func() tea.Msg {
		res, err := check(ctx)
		return resultMsg{result: res, err: err}
	}
}

func (m *checkModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			m.cancel()
			return m, tea.Quit
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case transitionMsg:
		m.state = msg.To
		return m, nil

	case resultMsg:
		m.done = true
		m.result = msg.result
		m.err = msg.err
		m.elapsed = time.Since(m.started)
		if msg.err == nil {
			m.state = orchestrator.StateCompleted
		} else {
			m.state = orchestrator.StateFailed
		}
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *checkModel) View() string {
	switch {
	case m.done && m.err != nil:
		return renderError(m.err, m.styles, m.cardWidth()) + "\n"
	case m.done:
		return renderCard(m.result, m.styles, m.cardWidth()) + "\n" +
			m.styles.dim.Render(fmt.Sprintf("checked in %.1fs", m.elapsed.Seconds())) + "\n"
	case m.quitting:
		return m.styles.dim.Render("canceled") + "\n"
	}
	return fmt.Sprintf("%s %s  %s %s\n",
		m.spinner.View(),
		m.styles.text.Render(stageLabel(m.state)),
		m.styles.hintKey.Render(keys.Quit.Help().Key),
		m.styles.hintDesc.Render(keys.Quit.Help().Desc),
	)
}

func (m *checkModel) cardWidth() int {
	if m.width > 0 && m.width < 72 {
		return m.width
	}
	return 0
}

// stageLabel describes a pipeline state to the user.
func stageLabel(s orchestrator.State) string {
	switch s {
	case orchestrator.StateExtracting:
		return "Reading the sign…"
	case orchestrator.StateBuildingContext:
		return "Checking time and vehicle…"
	case orchestrator.StateDeciding:
		return "Working out the rules…"
	case orchestrator.StateCompleted:
		return "Done"
	case orchestrator.StateFailed:
		return "Failed"
	default:
		return "Starting…"
	}
}

package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"stratux-hud/internal/hud"
)

// FrameSource builds one frame per tick; hud.Adapter implements it.
type FrameSource interface {
	Frame(now time.Time) hud.Frame
}

// Timer keeps running frame-build statistics for the status line.
type Timer struct {
	mu    sync.Mutex
	n     int
	total time.Duration
	worst time.Duration
}

func (t *Timer) Observe(d time.Duration) {
	t.mu.Lock()
	t.n++
	t.total += d
	t.worst = max(t.worst, d)
	t.mu.Unlock()
}

// Reset returns the frame count, mean and worst build time since the last
// Reset and starts a new window.
func (t *Timer) Reset() (frames int, mean, worst time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	frames, worst = t.n, t.worst
	if t.n > 0 {
		mean = t.total / time.Duration(t.n)
	}
	t.n, t.total, t.worst = 0, 0, 0
	return frames, mean, worst
}

func build(src FrameSource, timer *Timer, now time.Time) hud.Frame {
	start := time.Now()
	f := src.Frame(now)
	timer.Observe(time.Since(start))
	return f
}

type Options struct {
	Interval time.Duration
	Elements []Element
	Logger   *slog.Logger
	// Level re-zeros the attitude display. Clear drops every tracked target.
	Level func() error
	Clear func() int
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = time.Second / 60
	}
	if len(o.Elements) == 0 {
		o.Elements = DefaultElements(DefaultTheme)
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return o
}

type frameMsg time.Time

type model struct {
	src   FrameSource
	opts  Options
	timer *Timer

	frame  hud.Frame
	status string
	width  int
	height int
}

func newModel(src FrameSource, opts Options) *model {
	return &model{src: src, opts: opts.withDefaults(), timer: &Timer{}}
}

func (m *model) tick() tea.Cmd {
	return tea.Tick(m.opts.Interval, func(t time.Time) tea.Msg { return frameMsg(t) })
}

func (m *model) Init() tea.Cmd {
	m.frame = build(m.src, m.timer, time.Now())
	return m.tick()
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) { //nolint:ireturn // required by interface
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "l":
			m.status = "attitude leveled"
			if m.opts.Level == nil {
				m.status = "level not available"
			} else if err := m.opts.Level(); err != nil {
				m.status = err.Error()
			}
			m.opts.Logger.Info("level requested", slog.String("result", m.status))
		case "c":
			if m.opts.Clear != nil {
				n := m.opts.Clear()
				m.status = fmt.Sprintf("cleared %d targets", n)
				m.opts.Logger.Info("traffic cleared", slog.Int("removed", n))
			}
		}
	case frameMsg:
		m.frame = build(m.src, m.timer, time.Time(msg))
		return m, m.tick()
	}
	return m, nil
}

func (m *model) View() string {
	body := Compose(m.frame, m.opts.Elements)
	footer := lipgloss.NewStyle().Foreground(DefaultTheme.Dim).Render("q quit  l level  c clear  " + m.status)
	return lipgloss.NewStyle().Width(m.width).Padding(1, 1, 0, 1).Render(
		lipgloss.JoinVertical(lipgloss.Left, body, "", footer),
	)
}

// Program runs the interactive terminal display until ctx is done or the user
// quits.
func Program(ctx context.Context, src FrameSource, opts Options, teaOpts ...tea.ProgramOption) error {
	m := newModel(src, opts)
	teaOpts = append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, teaOpts...)
	_, err := tea.NewProgram(m, teaOpts...).Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// Headless builds frames at the render rate without a terminal and logs a
// summary once per second.
func Headless(ctx context.Context, src FrameSource, opts Options) error {
	opts = opts.withDefaults()
	timer := &Timer{}
	frames := time.NewTicker(opts.Interval)
	defer frames.Stop()
	summary := time.NewTicker(time.Second)
	defer summary.Stop()

	var last hud.Frame
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-frames.C:
			last = build(src, timer, now)
		case <-summary.C:
			n, mean, worst := timer.Reset()
			attrs := []any{
				slog.Int("frames", n),
				slog.Duration("frame_mean", mean),
				slog.Duration("frame_worst", worst),
				slog.Int("targets", last.Count),
				slog.Bool("ownship", last.OwnshipValid),
			}
			if len(last.Closest) > 0 {
				c := last.Closest[0]
				attrs = append(attrs,
					slog.String("closest", c.Name),
					slog.String("closest_distance", fmt.Sprintf("%.1f%s", c.Distance, last.Units.DistanceSuffix())),
				)
			}
			opts.Logger.Info("render summary", attrs...)
		}
	}
}

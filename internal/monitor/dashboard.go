package monitor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	historySize  = 30
	sparkWidth   = 30
	sparkHeight  = 3
	fetchTimeout = 5 * time.Second
)

var (
	accent = lipgloss.Color("51")

	bannerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1).
			Foreground(lipgloss.Color("0")).Background(accent)
	sectionStyle = lipgloss.NewStyle().Bold(true).MarginTop(1).Foreground(accent)
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("45"))
	valueStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("231"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	keyStyle     = lipgloss.NewStyle().Bold(true).Foreground(accent)
	sparkStyle   = lipgloss.NewStyle().Foreground(accent)
	boxStyle     = lipgloss.NewStyle().Padding(1, 2).
			Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("238"))

	okStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("46"))
	warnStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("226"))
	badStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
)

// Model is the bubbletea model for the index dashboard. It polls its
// Source every interval and keeps a short history of chunk and conclusion
// totals for the sparklines.
type Model struct {
	source   Source
	interval time.Duration
	now      func() time.Time

	snapshot   Snapshot
	lastUpdate time.Time
	err        error
	quitting   bool

	shareBar progress.Model
}

// NewModel creates a dashboard reading from source.
func NewModel(source Source, interval time.Duration) Model {
	return Model{
		source:   source,
		interval: interval,
		now:      time.Now,
		shareBar: progress.New(progress.WithGradient("#00ffff", "#ff00ff"), progress.WithWidth(40)),
		snapshot: Snapshot{
			ChunkHistory:      make([]float64, 0, historySize),
			ConclusionHistory: make([]float64, 0, historySize),
		},
	}
}

type (
	tickMsg     time.Time
	snapshotMsg Snapshot
	errMsg      error
)

func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func fetch(source Source) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()
		snap, err := source.Fetch(ctx)
		if err != nil {
			return errMsg(err)
		}
		return snapshotMsg(snap)
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(tick(m.interval), fetch(m.source))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, fetch(m.source)
		}
	case tickMsg:
		return m, tea.Batch(tick(m.interval), fetch(m.source))
	case snapshotMsg:
		next := Snapshot(msg)
		next.ChunkHistory = pushHistory(m.snapshot.ChunkHistory, next.TotalChunks)
		next.ConclusionHistory = pushHistory(m.snapshot.ConclusionHistory, next.TotalConclusions)
		m.snapshot, m.lastUpdate, m.err = next, m.now(), nil
	case errMsg:
		m.err = msg
	}
	return m, nil
}

func pushHistory(history []float64, v int) []float64 {
	history = append(history, float64(v))
	if over := len(history) - historySize; over > 0 {
		history = history[over:]
	}
	return history
}

func (m Model) View() string {
	switch {
	case m.quitting:
		return ""
	case m.err != nil:
		return m.errorView()
	default:
		return m.statsView()
	}
}

// freshness grades how long ago the vault was last indexed.
func freshness(indexedAt, now time.Time) string {
	age := now.Sub(indexedAt)
	switch {
	case indexedAt.IsZero():
		return badStyle.Render("✗ NOT INDEXED")
	case age < time.Hour:
		return okStyle.Render("✓ FRESH")
	case age < 24*time.Hour:
		return warnStyle.Render("⚠ AGING")
	default:
		return badStyle.Render("✗ STALE")
	}
}

func spark(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparkWidth, "no data"))
	}
	s := sparkline.New(sparkWidth, sparkHeight)
	for _, v := range data {
		s.Push(v)
	}
	return sparkStyle.Render(s.View())
}

func row(b *strings.Builder, label, value string, extra ...string) {
	b.WriteString(labelStyle.Render("  " + label + ": "))
	b.WriteString(valueStyle.Render(value))
	for _, e := range extra {
		b.WriteString("   " + e)
	}
	b.WriteByte('\n')
}

func footer(keys ...string) string {
	var parts []string
	for i := 0; i+1 < len(keys); i += 2 {
		parts = append(parts, keyStyle.Render("["+keys[i]+"]")+dimStyle.Render(" "+keys[i+1]))
	}
	return strings.Join(parts, "  ")
}

func (m Model) errorView() string {
	var b strings.Builder
	b.WriteString(bannerStyle.Render("obsidian-rag Monitor") + "\n\n")
	b.WriteString(badStyle.Render("⚠ Cannot read index") + "\n\n")
	b.WriteString(dimStyle.Render("Source: ") + valueStyle.Render(m.source.Describe()) + "\n")
	b.WriteString(dimStyle.Render("Error: ") + badStyle.Render(m.err.Error()) + "\n\n")
	b.WriteString(dimStyle.Render("Index the vault first (obsidian-rag index), or check that") + "\n")
	b.WriteString(dimStyle.Render("obsidian-rag http is running at the given URL.") + "\n\n")
	b.WriteString(footer("q", "quit", "r", "retry"))
	return boxStyle.Render(b.String())
}

func (m Model) statsView() string {
	snap, now := m.snapshot, m.now()
	var b strings.Builder

	updated := "never"
	if !m.lastUpdate.IsZero() {
		updated = m.lastUpdate.Format("15:04:05")
	}
	b.WriteString(bannerStyle.Render("obsidian-rag Monitor") + "\n")
	fmt.Fprintf(&b, "%s   %s %s   %s\n",
		freshness(snap.IndexedAt, now),
		dimStyle.Render("indexed"), valueStyle.Render(FormatAge(snap.IndexedAt, now)),
		dimStyle.Render("updated "+updated))

	vault := snap.VaultPath
	if vault == "" {
		vault = m.source.Describe()
	}
	b.WriteString("\n" + sectionStyle.Render("┃ Index") + "\n")
	row(&b, "Vault", vault)
	row(&b, "Notes", FormatCount(snap.TotalFiles))
	row(&b, "Chunks", FormatCount(snap.TotalChunks), spark(snap.ChunkHistory))

	b.WriteString("\n" + sectionStyle.Render("┃ Reasoning") + " ")
	if !snap.Reasoning {
		b.WriteString(warnStyle.Render("[off]") + "\n")
		b.WriteString(dimStyle.Render("  disabled; run with --reasoning to extract conclusions") + "\n")
	} else {
		b.WriteString(okStyle.Render("[on]") + "\n")
		row(&b, "Conclusions", FormatCount(snap.TotalConclusions), spark(snap.ConclusionHistory))
		types := make([]string, 0, len(snap.ByType))
		for t := range snap.ByType {
			types = append(types, t)
		}
		sort.Strings(types)
		for _, t := range types {
			var share float64
			if snap.TotalConclusions > 0 {
				share = float64(snap.ByType[t]) / float64(snap.TotalConclusions)
			}
			fmt.Fprintf(&b, "%s%s %s\n",
				labelStyle.Render(fmt.Sprintf("  %-10s ", t)),
				m.shareBar.ViewAs(share),
				dimStyle.Render(fmt.Sprintf("%d (%s)", snap.ByType[t], FormatPercentage(share))))
		}
	}

	b.WriteString("\n" + sectionStyle.Render("┃ Last Pass") + "\n")
	row(&b, "Notes indexed", FormatCount(snap.FilesIndexed))
	if snap.Reasoning {
		row(&b, "Conclusions extracted", FormatCount(snap.ConclusionsExtracted))
	}

	b.WriteString("\n" + footer("q", "quit", "r", "refresh") + dimStyle.Render(fmt.Sprintf("  every %v", m.interval)))
	return boxStyle.Render(b.String())
}

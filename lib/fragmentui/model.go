// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

package fragmentui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"

	"github.com/conflux-foundation/conflux/lib/cid"
	"github.com/conflux-foundation/conflux/lib/event"
	"github.com/conflux-foundation/conflux/lib/fragment"
	"github.com/conflux-foundation/conflux/lib/service"
)

// focusRegion identifies which pane receives navigation keys.
type focusRegion int

const (
	focusTable focusRegion = iota
	focusPreview
)

const (
	// refreshInterval is the periodic list refresh. Events trigger
	// refreshes immediately; the timer catches anything the stream
	// missed and keeps the AGE column moving.
	refreshInterval = 10 * time.Second

	// callTimeout bounds each socket call issued from a command.
	callTimeout = 5 * time.Second

	// feedCapacity is how many events the feed retains for scrollback
	// through resizes.
	feedCapacity = 200

	// feedPaneHeight is the feed pane height on a full-size terminal.
	feedPaneHeight = 8

	// tablePaneWidth is the fragment table width on a full-size
	// terminal: five columns plus cell padding.
	tablePaneWidth = 60
)

// sourceEventMsg wraps a hub event for delivery through the bubbletea
// message loop.
type sourceEventMsg struct {
	event event.Event
}

// refreshDoneMsg reports completion of a Source.Refresh command.
type refreshDoneMsg struct {
	err error
}

// payloadMsg carries a fetched payload for the preview pane.
type payloadMsg struct {
	id       cid.ID
	fragment fragment.Fragment
	err      error
}

// refreshTickMsg fires the periodic list refresh.
type refreshTickMsg time.Time

// Model is the bubbletea model for the fragment viewer: a fragment
// table on the left, payload preview on the right, and a live event
// feed along the bottom.
type Model struct {
	source Source
	theme  Theme
	keys   KeyMap

	width  int
	height int
	ready  bool

	table      table.Model
	tableWidth int
	visible    []service.FragmentSummary
	filter     FilterModel
	focus      focusRegion

	preview         viewport.Model
	previewID       cid.ID
	previewFragment fragment.Fragment
	previewLoaded   bool
	previewError    string

	// formatter is the chroma formatter matched to the terminal's
	// color depth at startup.
	formatter string

	feed         []event.Event
	eventChannel <-chan event.Event

	// lastError holds the most recent refresh failure for the status
	// bar. Cleared on the next successful refresh.
	lastError string
}

// NewModel creates a viewer model backed by the given source. The
// model subscribes to the source immediately; Init starts the event
// listener and the refresh timer.
func NewModel(source Source) Model {
	theme := DefaultTheme

	columns := []table.Column{
		{Title: "CID", Width: 16},
		{Title: "VER", Width: 5},
		{Title: "AGE", Width: 5},
		{Title: "SIZE", Width: 7},
		{Title: "STATE", Width: 13},
	}
	fragmentTable := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		Bold(true).
		Foreground(theme.HeaderForeground).
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(theme.BorderColor).
		BorderBottom(true)
	styles.Selected = styles.Selected.
		Foreground(theme.SelectedForeground).
		Background(theme.SelectedBackground)
	fragmentTable.SetStyles(styles)

	model := Model{
		source:       source,
		theme:        theme,
		keys:         DefaultKeyMap,
		table:        fragmentTable,
		preview:      viewport.New(0, 0),
		formatter:    chromaFormatter(termenv.ColorProfile()),
		eventChannel: source.Subscribe(),
	}
	model.reloadRows()
	return model
}

// Init starts the source event listener, the periodic refresh timer,
// and an immediate refresh so the table fills before the first tick.
func (model Model) Init() tea.Cmd {
	return tea.Batch(
		listenForSourceEvent(model.eventChannel),
		scheduleRefreshTick(),
		model.refreshCmd(),
	)
}

// listenForSourceEvent returns a tea.Cmd that blocks until an event
// arrives on the source channel, then delivers it as a sourceEventMsg.
func listenForSourceEvent(channel <-chan event.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-channel
		if !ok {
			return nil
		}
		return sourceEventMsg{event: ev}
	}
}

func scheduleRefreshTick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return refreshTickMsg(t)
	})
}

// refreshCmd re-fetches the fragment table off the update loop.
func (model Model) refreshCmd() tea.Cmd {
	source := model.source
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		return refreshDoneMsg{err: source.Refresh(ctx)}
	}
}

// fetchPayloadCmd fetches one fragment's payload off the update loop.
func (model Model) fetchPayloadCmd(id cid.ID) tea.Cmd {
	source := model.source
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		frag, err := source.Payload(ctx, id)
		return payloadMsg{id: id, fragment: frag, err: err}
	}
}

func (model Model) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch message := message.(type) {
	case tea.WindowSizeMsg:
		model.width = message.Width
		model.height = message.Height
		model.ready = true
		model.layout()
		model.syncPreview()
		return model, nil

	case tea.KeyMsg:
		return model.handleKey(message)

	case tea.MouseMsg:
		return model.handleMouse(message)

	case sourceEventMsg:
		return model.handleSourceEvent(message)

	case refreshDoneMsg:
		if message.err != nil {
			model.lastError = message.err.Error()
			return model, nil
		}
		model.lastError = ""
		model.reloadRows()
		return model, model.ensurePreviewCmd()

	case refreshTickMsg:
		return model, tea.Batch(scheduleRefreshTick(), model.refreshCmd())

	case payloadMsg:
		if message.id != model.previewID {
			// Stale fetch: the selection moved on.
			return model, nil
		}
		if message.err != nil {
			model.previewError = message.err.Error()
			model.previewLoaded = false
		} else {
			model.previewError = ""
			model.previewFragment = message.fragment
			model.previewLoaded = true
		}
		model.syncPreview()
		return model, nil
	}
	return model, nil
}

// handleSourceEvent appends the event to the feed, re-arms the
// listener, and refreshes whatever the event touched: the table for
// fragment and stream changes, the preview when the previewed
// fragment mutated.
func (model Model) handleSourceEvent(message sourceEventMsg) (tea.Model, tea.Cmd) {
	model.feed = append(model.feed, message.event)
	if len(model.feed) > feedCapacity {
		model.feed = model.feed[len(model.feed)-feedCapacity:]
	}

	commands := []tea.Cmd{listenForSourceEvent(model.eventChannel)}
	if affectsTable(message.event.Kind) {
		commands = append(commands, model.refreshCmd())
	}
	if message.event.Kind == event.KindFragmentMutated && message.event.ID == model.previewID {
		commands = append(commands, model.fetchPayloadCmd(model.previewID))
	}
	return model, tea.Batch(commands...)
}

// affectsTable reports whether an event kind changes the fragment
// table. Delivery and peer events only feed the event pane.
func affectsTable(kind event.Kind) bool {
	switch kind {
	case event.KindFragmentCreated, event.KindFragmentMutated,
		event.KindStreamRegistered, event.KindStreamClosed, event.KindStreamWoken:
		return true
	}
	return false
}

func (model Model) handleKey(message tea.KeyMsg) (tea.Model, tea.Cmd) {
	if model.filter.Active {
		return model.handleFilterKey(message)
	}

	switch {
	case key.Matches(message, model.keys.Quit):
		return model, tea.Quit

	case key.Matches(message, model.keys.FilterActivate):
		model.filter.Active = true
		return model, nil

	case key.Matches(message, model.keys.FilterClear):
		if model.filter.Input != "" {
			model.filter.Clear()
			model.reloadRows()
			return model, model.ensurePreviewCmd()
		}
		return model, nil

	case key.Matches(message, model.keys.FocusToggle):
		if model.focus == focusTable {
			model.focus = focusPreview
		} else {
			model.focus = focusTable
		}
		return model, nil

	case key.Matches(message, model.keys.Refresh):
		return model, model.refreshCmd()
	}

	if model.focus == focusPreview {
		switch {
		case key.Matches(message, model.keys.Up):
			model.preview.LineUp(1)
		case key.Matches(message, model.keys.Down):
			model.preview.LineDown(1)
		case key.Matches(message, model.keys.PageUp):
			model.preview.HalfViewUp()
		case key.Matches(message, model.keys.PageDown):
			model.preview.HalfViewDown()
		case key.Matches(message, model.keys.Home):
			model.preview.GotoTop()
		case key.Matches(message, model.keys.End):
			model.preview.GotoBottom()
		}
		return model, nil
	}

	// Table focus: the bubbles table owns navigation. Selection moves
	// trigger a payload fetch for the preview.
	previousID := model.selectedID()
	var command tea.Cmd
	model.table, command = model.table.Update(message)
	if model.selectedID() != previousID {
		return model, tea.Batch(command, model.ensurePreviewCmd())
	}
	return model, command
}

// handleFilterKey processes keystrokes while the filter input has
// focus. Regular characters go to the input, Esc clears and exits,
// Enter confirms and returns focus to the table.
func (model Model) handleFilterKey(message tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case message.Type == tea.KeyEsc:
		model.filter.Clear()
		model.reloadRows()
		return model, model.ensurePreviewCmd()

	case message.Type == tea.KeyEnter:
		model.filter.Active = false
		return model, nil

	case message.Type == tea.KeyBackspace:
		if model.filter.HandleBackspace() {
			model.reloadRows()
			return model, model.ensurePreviewCmd()
		}
		return model, nil

	case message.Type == tea.KeyRunes || message.Type == tea.KeySpace:
		for _, character := range message.Runes {
			model.filter.HandleRune(character)
		}
		model.reloadRows()
		return model, model.ensurePreviewCmd()

	case message.Type == tea.KeyCtrlC:
		return model, tea.Quit
	}
	return model, nil
}

// handleMouse scrolls whichever pane the cursor is over.
func (model Model) handleMouse(message tea.MouseMsg) (tea.Model, tea.Cmd) {
	if message.Action != tea.MouseActionPress {
		return model, nil
	}
	overTable := message.X < model.tableWidth

	switch message.Button {
	case tea.MouseButtonWheelUp:
		if overTable {
			previousID := model.selectedID()
			model.table.MoveUp(1)
			if model.selectedID() != previousID {
				return model, model.ensurePreviewCmd()
			}
			return model, nil
		}
		model.preview.LineUp(3)

	case tea.MouseButtonWheelDown:
		if overTable {
			previousID := model.selectedID()
			model.table.MoveDown(1)
			if model.selectedID() != previousID {
				return model, model.ensurePreviewCmd()
			}
			return model, nil
		}
		model.preview.LineDown(3)
	}
	return model, nil
}

// selectedID returns the content ID of the table's selected row, or
// the zero ID when the table is empty.
func (model Model) selectedID() cid.ID {
	cursor := model.table.Cursor()
	if cursor < 0 || cursor >= len(model.visible) {
		return cid.ID{}
	}
	return model.visible[cursor].ID
}

// ensurePreviewCmd aligns the preview pane with the table selection.
// Returns a payload fetch command when the selection points at a
// fragment the preview has not loaded.
func (model *Model) ensurePreviewCmd() tea.Cmd {
	id := model.selectedID()
	if !id.Defined() {
		model.previewID = cid.ID{}
		model.previewLoaded = false
		model.previewError = ""
		model.syncPreview()
		return nil
	}
	if id == model.previewID && (model.previewLoaded || model.previewError != "") {
		return nil
	}
	model.previewID = id
	model.previewLoaded = false
	model.previewError = ""
	model.syncPreview()
	return model.fetchPayloadCmd(id)
}

// reloadRows rebuilds the table rows from the source through the
// filter, keeping the cursor on the same fragment across refreshes
// when it is still visible.
func (model *Model) reloadRows() {
	previousID := model.selectedID()

	model.visible = model.filter.Apply(model.source.Fragments())

	rows := make([]table.Row, len(model.visible))
	now := time.Now()
	for index, summary := range model.visible {
		rows[index] = table.Row{
			summary.ID.Short(),
			fmt.Sprintf("%d", summary.Version),
			compactAge(now.Sub(time.Unix(0, summary.Timestamp))),
			compactSize(summary.Size),
			fragmentState(summary),
		}
	}
	model.table.SetRows(rows)

	if previousID.Defined() {
		for index, summary := range model.visible {
			if summary.ID == previousID {
				model.table.SetCursor(index)
				return
			}
		}
	}
	if cursor := model.table.Cursor(); cursor >= len(model.visible) {
		model.table.SetCursor(max(0, len(model.visible)-1))
	}
}

// layout recomputes pane dimensions from the terminal size. Fixed
// chrome: status bar, filter bar, feed separator, and help line.
func (model *Model) layout() {
	feedHeight := model.feedHeight()
	mainHeight := model.height - 4 - feedHeight
	if mainHeight < 4 {
		mainHeight = 4
	}

	tableWidth := tablePaneWidth
	if model.width < tablePaneWidth+20 {
		tableWidth = max(30, model.width/2)
	}
	model.tableWidth = tableWidth

	// Preview chrome: left border plus padding.
	previewWidth := model.width - tableWidth - 2
	if previewWidth < 0 {
		previewWidth = 0
	}

	model.table.SetWidth(tableWidth)
	// The table renders its header and border above the body rows.
	model.table.SetHeight(max(1, mainHeight-2))
	model.preview.Width = previewWidth
	// One line above the viewport holds the preview header.
	model.preview.Height = max(1, mainHeight-1)
}

// feedHeight returns the event feed height: fixed on a normal
// terminal, squeezed on short ones.
func (model Model) feedHeight() int {
	if model.height < 24 {
		return max(3, model.height/4)
	}
	return feedPaneHeight
}

// syncPreview re-renders the preview pane content into the viewport.
func (model *Model) syncPreview() {
	model.preview.SetContent(model.previewContent())
}

// previewContent renders the preview body: the selected fragment's
// payload, a loading note, or an error. Lines are truncated to the
// viewport width because the viewport scrolls only vertically.
func (model Model) previewContent() string {
	faint := lipgloss.NewStyle().Foreground(model.theme.FaintText)
	switch {
	case !model.previewID.Defined():
		return faint.Render("no fragment selected")
	case model.previewError != "":
		return lipgloss.NewStyle().
			Foreground(model.theme.EventFailure).
			Render("fetch failed: " + model.previewError)
	case !model.previewLoaded:
		return faint.Render("loading " + model.previewID.Short() + " …")
	}

	rendered := renderPayload(model.previewFragment.Payload, model.formatter)
	width := max(model.preview.Width, 1)
	lines := strings.Split(rendered, "\n")
	for index, line := range lines {
		lines[index] = ansi.Truncate(line, width, "…")
	}
	return strings.Join(lines, "\n")
}

func (model Model) View() string {
	if !model.ready {
		return "Loading..."
	}

	sections := []string{
		model.statusBar(),
		model.filterBar(),
		lipgloss.JoinHorizontal(lipgloss.Top, model.table.View(), model.previewPane()),
		model.separator(),
		model.feedPane(),
		model.helpBar(),
	}
	return strings.Join(sections, "\n")
}

// statusBar renders the top line: program name, connection state,
// fragment counts, and the most recent refresh error if any.
func (model Model) statusBar() string {
	var connection string
	if model.source.Connected() {
		connection = lipgloss.NewStyle().
			Foreground(model.theme.Connected).
			Render("● live")
	} else {
		connection = lipgloss.NewStyle().
			Foreground(model.theme.Disconnected).
			Render("○ reconnecting")
	}

	fragments := model.source.Fragments()
	streams, live := 0, 0
	for _, summary := range fragments {
		if summary.Stream {
			streams++
			if summary.Live {
				live++
			}
		}
	}
	counts := fmt.Sprintf("%d fragments", len(fragments))
	if streams > 0 {
		counts += fmt.Sprintf(", %d streams (%d live)", streams, live)
	}
	if len(model.visible) != len(fragments) {
		counts += fmt.Sprintf(", %d shown", len(model.visible))
	}

	title := lipgloss.NewStyle().
		Foreground(model.theme.HeaderForeground).
		Bold(true).
		Render("conflux")

	line := " " + title + "  " + connection + "  " +
		lipgloss.NewStyle().Foreground(model.theme.FaintText).Render(counts)
	if model.lastError != "" {
		line += "  " + lipgloss.NewStyle().
			Foreground(model.theme.EventFailure).
			Render(model.lastError)
	}
	return ansi.Truncate(line, model.width, "…")
}

// filterBar renders the filter line, blank when the filter is idle so
// the layout height stays constant.
func (model Model) filterBar() string {
	bar := model.filter.View(model.theme, model.width)
	if bar == "" {
		return lipgloss.NewStyle().Width(model.width).Render("")
	}
	return bar
}

// previewPane renders the right pane: a header describing the
// selected fragment above the payload viewport.
func (model Model) previewPane() string {
	header := lipgloss.NewStyle().
		Foreground(model.theme.FaintText).
		Render("no selection")
	if model.previewID.Defined() {
		parts := []string{model.previewID.Short()}
		if model.previewLoaded {
			parts = append(parts,
				fmt.Sprintf("v%d", model.previewFragment.Version),
				compactSize(len(model.previewFragment.Payload)),
			)
			if model.previewFragment.Stream {
				parts = append(parts, "stream")
			}
		}
		header = lipgloss.NewStyle().
			Foreground(model.theme.HeaderForeground).
			Bold(true).
			Render(strings.Join(parts, "  "))
	}

	content := ansi.Truncate(header, max(model.preview.Width, 1), "…") +
		"\n" + model.preview.View()
	return lipgloss.NewStyle().
		BorderStyle(lipgloss.NormalBorder()).
		BorderLeft(true).
		BorderForeground(model.theme.BorderColor).
		PaddingLeft(1).
		Render(content)
}

func (model Model) separator() string {
	return lipgloss.NewStyle().
		Foreground(model.theme.BorderColor).
		Render(strings.Repeat("─", max(model.width, 1)))
}

// feedPane renders the newest events, one per line, oldest first so
// new arrivals enter at the bottom.
func (model Model) feedPane() string {
	height := model.feedHeight()
	start := max(0, len(model.feed)-height)

	lines := make([]string, 0, height)
	for _, ev := range model.feed[start:] {
		lines = append(lines, model.feedLine(ev))
	}
	for len(lines) < height {
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}

// feedLine renders one event: wall-clock time, colored kind, then
// whatever identifying fields the event carries.
func (model Model) feedLine(ev event.Event) string {
	parts := []string{
		lipgloss.NewStyle().
			Foreground(model.theme.FaintText).
			Render(time.Unix(0, ev.Time).Format("15:04:05")),
		lipgloss.NewStyle().
			Foreground(model.theme.KindColor(ev.Kind)).
			Render(fmt.Sprintf("%-18s", ev.Kind)),
	}
	if ev.ID.Defined() {
		parts = append(parts, ev.ID.Short())
	}
	if ev.Version > 0 {
		parts = append(parts, fmt.Sprintf("v%d", ev.Version))
	}
	if ev.Peer != "" {
		parts = append(parts, "peer="+ev.Peer)
	}
	if ev.Detail != "" {
		parts = append(parts, ev.Detail)
	}
	if ev.Attempts > 0 {
		parts = append(parts, fmt.Sprintf("%d attempts", ev.Attempts))
	}
	if ev.Error != "" {
		parts = append(parts, lipgloss.NewStyle().
			Foreground(model.theme.EventFailure).
			Render(ev.Error))
	}
	return ansi.Truncate(" "+strings.Join(parts, "  "), model.width, "…")
}

// helpBar renders the key hints from the key map.
func (model Model) helpBar() string {
	bindings := []key.Binding{
		model.keys.Quit,
		model.keys.FilterActivate,
		model.keys.FocusToggle,
		model.keys.Refresh,
		model.keys.Down,
		model.keys.Up,
	}
	hints := make([]string, 0, len(bindings))
	for _, binding := range bindings {
		help := binding.Help()
		hints = append(hints, help.Key+" "+help.Desc)
	}
	line := " " + strings.Join(hints, "   ")
	return lipgloss.NewStyle().
		Foreground(model.theme.HelpText).
		Render(ansi.Truncate(line, model.width, "…"))
}

// compactAge renders a duration as its single largest unit: "45s",
// "12m", "3h", "2d". Table columns are too narrow for two-part forms.
func compactAge(d time.Duration) string {
	switch {
	case d < time.Second:
		return "0s"
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours())/24)
	}
}

// compactSize renders a byte count with a binary unit: "512B",
// "1.5KB", "34MB".
func compactSize(size int) string {
	switch {
	case size < 1024:
		return fmt.Sprintf("%dB", size)
	case size < 1024*1024:
		return trimDecimal(fmt.Sprintf("%.1fKB", float64(size)/1024))
	case size < 1024*1024*1024:
		return trimDecimal(fmt.Sprintf("%.1fMB", float64(size)/(1024*1024)))
	default:
		return trimDecimal(fmt.Sprintf("%.1fGB", float64(size)/(1024*1024*1024)))
	}
}

// trimDecimal drops a trailing ".0" so whole values render bare.
func trimDecimal(s string) string {
	return strings.Replace(s, ".0", "", 1)
}

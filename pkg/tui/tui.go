package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwagner5/armada/pkg/fleet"
	"github.com/bwagner5/armada/pkg/logging"
	"github.com/bwagner5/armada/pkg/pretty"
	"github.com/bwagner5/armada/pkg/providers/instances"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/samber/lo"
)

type model struct {
	ctx         context.Context
	fleetClient fleet.AWSFleet
	namespace   string
	name        string
	// window
	height int
	width  int
	// models
	table   table.Model
	members []instances.Instance
	help    help.Model
	status  string
}

type listMsg struct {
	members []instances.Instance
}

type refreshedMsg struct {
	refreshID string
	err       error
}

type keyMap struct {
	Refresh key.Binding
	Help    key.Binding
	Quit    key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Refresh, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Refresh}, {k.Help, k.Quit}}
}

var keys = keyMap{
	Refresh: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "start rolling refresh"),
	),
	Help: key.NewBinding(
		key.WithKeys("?"),
		key.WithHelp("?", "toggle help"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

func Launch(ctx context.Context, fleetClient fleet.AWSFleet, namespace, name string, verbose bool) error {
	// can't log to the terminal, so log to a file
	if verbose {
		f, err := tea.LogToFile("debug.log", "debug")
		if err != nil {
			return err
		}
		defer f.Close()
		ctx = logging.ToContext(ctx, logging.DefaultFileLogger(verbose, f))
	} else {
		ctx = logging.ToContext(ctx, logging.NoOpLogger())
	}
	p := tea.NewProgram(model{
		ctx:         ctx,
		fleetClient: fleetClient,
		namespace:   namespace,
		name:        name,
		help:        help.New(),
	}, tea.WithContext(ctx), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Printf("Alas, there's been an error: %v", err)
		return err
	}
	return nil
}

func (m model) Init() tea.Cmd {
	return m.listMembers
}

func (m model) listMembers() tea.Msg {
	memberList, err := m.fleetClient.Members(m.ctx, m.namespace, m.name)
	if err != nil {
		logging.FromContext(m.ctx).Error("Unable to list fleet members", "error", err)
	}
	logging.FromContext(m.ctx).Info("Listed fleet members", "members", len(memberList))
	return listMsg{members: memberList}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		// If we set a width on the help menu it can gracefully truncate
		// its view as needed.
		m.help.Width = msg.Width
		m.width = msg.Width
		m.height = msg.Height

	case listMsg:
		m.table = membersToTable(msg.members)
		m.members = msg.members

	case refreshedMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("refresh failed: %v", msg.err)
		} else if msg.refreshID == "" {
			m.status = "refresh already in progress"
		} else {
			m.status = fmt.Sprintf("started refresh %s", msg.refreshID)
		}
		return m, m.listMembers

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Refresh):
			return m, func() tea.Msg {
				refreshID, err := m.fleetClient.StartRefresh(m.ctx, m.namespace, m.name)
				if err != nil {
					logging.FromContext(m.ctx).Error("Unable to start refresh", "error", err)
				}
				return refreshedMsg{refreshID: refreshID, err: err}
			}

		case key.Matches(msg, keys.Help):
			m.help.ShowAll = !m.help.ShowAll

		case key.Matches(msg, keys.Quit):
			return m, tea.Quit
		}
	}

	m.table, cmd = m.table.Update(msg)

	return m, cmd
}

func (m model) View() string {
	tableView := m.table.View()
	helpView := m.help.View(keys)
	statusView := m.status

	if m.height == 0 {
		return ""
	}
	// height between rendered models to position help at the bottom
	height := m.height - strings.Count(tableView, "\n") - strings.Count(statusView, "\n") - strings.Count(helpView, "\n") - 2

	return tableView + "\n" + statusView + strings.Repeat("\n", max(height, 1)) + helpView
}

func membersToTable(memberList []instances.Instance) table.Model {
	t := table.New()
	prettyMembers := lo.FilterMap(memberList, func(member instances.Instance, _ int) (instances.PrettyInstance, bool) {
		return member.Prettify(), true
	})
	headers, rows := pretty.HeadersAndRows(prettyMembers, false)
	t.SetColumns(lo.Map(headers, func(header string, _ int) table.Column {
		return table.Column{Title: header, Width: 20}
	}))
	t.SetRows(lo.Map(rows, func(row []string, _ int) table.Row { return row }))
	t.Focus()
	return t
}

package ui

import (
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/anonmeet/anonmeet/internal/mesh"
)

const maxNotices = 3

// RoomControls are the call actions the room screen can trigger. The
// caller wires them to the mesh coordinator; keeping them as funcs lets
// tests drive the model without a live call.
type RoomControls struct {
	ToggleAudio      func(enabled bool) error
	ToggleVideo      func(enabled bool) error
	StartScreenShare func() error
	StopScreenShare  func() error
}

// RoomUpdate is a message sent from call goroutines to update the UI
type RoomUpdate struct {
	Type         RoomUpdateType
	Participants []mesh.Participant
	Notice       mesh.Notice
	Error        error
}

type RoomUpdateType int

const (
	RoomUpdateParticipants RoomUpdateType = iota
	RoomUpdateNotice
	RoomUpdateFatal
)

// RoomModel is the Bubble Tea model for an active call
type RoomModel struct {
	roomCode string
	invite   string

	participants []mesh.Participant
	notices      []mesh.Notice

	controls RoomControls

	spinner spinner.Model

	width  int
	height int

	mu sync.RWMutex

	updateChan chan RoomUpdate
	done       chan struct{}

	err error
}

// NewRoomModel creates the call screen for a room
func NewRoomModel(roomCode, invite string, controls RoomControls) *RoomModel {
	s := spinner.New()
	s.Spinner = spinner.Points
	s.Style = SpinnerStyle

	return &RoomModel{
		roomCode:   roomCode,
		invite:     invite,
		controls:   controls,
		spinner:    s,
		updateChan: make(chan RoomUpdate, 100),
		done:       make(chan struct{}),
		width:      80,
		height:     24,
	}
}

// GetUpdateChannel returns the channel for sending updates
func (m *RoomModel) GetUpdateChannel() chan<- RoomUpdate {
	return m.updateChan
}

// Err returns the fatal error that ended the call, if any
func (m *RoomModel) Err() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.err
}

func (m *RoomModel) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.waitForUpdates(),
	)
}

func (m *RoomModel) waitForUpdates() tea.Cmd {
	return func() tea.Msg {
		select {
		case update := <-m.updateChan:
			return update
		case <-m.done:
			return nil
		}
	}
}

func (m *RoomModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			close(m.done)
			return m, tea.Quit
		case "m":
			local, ok := m.local()
			if ok && m.controls.ToggleAudio != nil {
				m.report(m.controls.ToggleAudio(local.IsMuted))
			}
		case "v":
			local, ok := m.local()
			if ok && m.controls.ToggleVideo != nil {
				m.report(m.controls.ToggleVideo(local.IsVideoOff))
			}
		case "s":
			local, ok := m.local()
			if !ok {
				break
			}
			if local.IsScreenSharing {
				if m.controls.StopScreenShare != nil {
					m.report(m.controls.StopScreenShare())
				}
			} else if m.controls.StartScreenShare != nil {
				m.report(m.controls.StartScreenShare())
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case RoomUpdate:
		if m.handleUpdate(msg) {
			return m, tea.Quit
		}
		cmds = append(cmds, m.waitForUpdates())
	}

	return m, tea.Batch(cmds...)
}

// handleUpdate applies an external update; it reports whether the call
// is over and the program should quit.
func (m *RoomModel) handleUpdate(update RoomUpdate) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch update.Type {
	case RoomUpdateParticipants:
		m.participants = update.Participants
	case RoomUpdateNotice:
		m.notices = append(m.notices, update.Notice)
		if len(m.notices) > maxNotices {
			m.notices = m.notices[len(m.notices)-maxNotices:]
		}
	case RoomUpdateFatal:
		m.err = update.Error
		return true
	}
	return false
}

// report surfaces a control error as an in-call notice
func (m *RoomModel) report(err error) {
	if err == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notices = append(m.notices, mesh.Notice{Level: mesh.NoticeError, Message: err.Error()})
	if len(m.notices) > maxNotices {
		m.notices = m.notices[len(m.notices)-maxNotices:]
	}
}

func (m *RoomModel) local() (mesh.Participant, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.participants {
		if p.IsLocal {
			return p, true
		}
	}
	return mesh.Participant{}, false
}

func (m *RoomModel) View() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var b strings.Builder

	b.WriteString(TitleStyle.Render(fmt.Sprintf("%s  AnonMeet — %s", IconRoom, m.roomCode)))
	b.WriteString("\n")
	b.WriteString(MutedStyle.Render(fmt.Sprintf("%s %s", IconCopy, m.invite)))
	b.WriteString("\n\n")

	if len(m.participants) <= 1 {
		b.WriteString(fmt.Sprintf("%s Waiting for others to join...\n\n", m.spinner.View()))
	}

	b.WriteString(ParticipantTableView(m.participants))
	b.WriteString("\n")

	for _, n := range m.notices {
		b.WriteString(noticeLine(n))
		b.WriteString("\n")
	}

	b.WriteString(FooterStyle.Render("m: mic · v: video · s: screen share · q: leave"))
	b.WriteString("\n")

	return b.String()
}

func noticeLine(n mesh.Notice) string {
	switch n.Level {
	case mesh.NoticeError:
		return ErrorStyle.Render(fmt.Sprintf("%s %s", IconError, n.Message))
	case mesh.NoticeWarn:
		return WarningStyle.Render(fmt.Sprintf("%s %s", IconWarning, n.Message))
	default:
		return MutedStyle.Render(fmt.Sprintf("%s %s", IconInfo, n.Message))
	}
}

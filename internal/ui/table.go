package ui

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	pretty "github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/anonmeet/anonmeet/internal/mesh"
)

// ParticipantTableView renders the aggregated participant list as a roster
// table. The list arrives already ordered: local participant first, then
// remotes in connect order.
func ParticipantTableView(participants []mesh.Participant) string {
	headers := []string{"#", "Name", "Mic", "Video", "Media"}

	var rows [][]string
	for i, p := range participants {
		name := p.Name
		if p.IsLocal {
			name += " (you)"
		}

		mic := IconMic
		if p.IsMuted {
			mic = IconMuted
		}
		video := IconVideo
		if p.IsScreenSharing {
			video = IconScreen
		} else if p.IsVideoOff {
			video = "—"
		}
		media := IconWaiting
		if p.Stream != nil {
			media = IconSuccess
		}

		rows = append(rows, []string{fmt.Sprintf("%d", i+1), name, mic, video, media})
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})

	return tbl.Render()
}

// RoomInfo is the invite panel shown after creating or joining a room.
type RoomInfo struct {
	RoomCode string
	Invite   string
}

func (r *RoomInfo) View() string {
	content := fmt.Sprintf("%s Room Ready!\n\n%s Room Code:  %s\n%s Invite:     %s",
		IconSuccess,
		IconRoom, BoldStyle.Foreground(Primary).Render(r.RoomCode),
		IconCopy, MutedStyle.Render(r.Invite),
	)
	return InviteBoxStyle.Render(content)
}

func RenderRoomInfo(roomCode, invite string) {
	info := &RoomInfo{RoomCode: roomCode, Invite: invite}
	fmt.Println(info.View())
}

// CallSummary is printed after hang-up.
type CallSummary struct {
	RoomCode  string
	PeerCount int
	Duration  time.Duration
}

// RenderCallSummary prints the post-call stats table.
func RenderCallSummary(summary CallSummary) {
	tbl := pretty.NewWriter()
	tbl.SetOutputMirror(os.Stdout)
	tbl.SetStyle(pretty.StyleRounded)
	tbl.AppendHeader(pretty.Row{"Metric", "Value"})
	tbl.AppendRows([]pretty.Row{
		{"Room", text.FgCyan.Sprint(summary.RoomCode)},
		{"Peers", summary.PeerCount},
		{"Duration", summary.Duration.Round(time.Second).String()},
	})
	tbl.Render()
}

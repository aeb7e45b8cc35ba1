// ABOUTME: Terminal rendering for task lists and sync status.
// ABOUTME: Styles come from lipgloss and degrade to plain text without a color terminal.
package appcli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/harperreed/tasksync/offline"
)

var (
	styleID      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	styleDone    = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Strikethrough(true)
	stylePending = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	styleOnline  = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	styleOffline = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	styleLabel   = lipgloss.NewStyle().Bold(true).Width(10)
)

// shortIDLen is how much of an id `ls` shows; Find accepts any unique prefix.
const shortIDLen = 16

// RenderTasks writes one line per task.
func RenderTasks(w io.Writer, recs []offline.Record) {
	if len(recs) == 0 {
		fmt.Fprintln(w, "No tasks.")
		return
	}
	for _, r := range recs {
		box := "[ ]"
		title, _ := r.Fields[FieldTitle].(string)
		if isDone(r) {
			box = "[x]"
			title = styleDone.Render(title)
		}
		line := fmt.Sprintf("%s %s %s", box, styleID.Render(ShortID(r.ID)), title)
		if r.ID.IsLocal() {
			line += " " + stylePending.Render("(not synced)")
		}
		fmt.Fprintln(w, line)
	}
}

// RenderStatus writes the sync status block.
func RenderStatus(w io.Writer, st offline.Status, now time.Time) {
	conn := styleOffline.Render("offline")
	if st.Online {
		conn = styleOnline.Render("online")
	}
	last := "never"
	if !st.LastSync.IsZero() {
		last = fmt.Sprintf("%s (%s ago)", st.LastSync.Local().Format(time.RFC3339), now.Sub(st.LastSync).Round(time.Second))
	}
	rows := [][2]string{
		{"network", conn},
		{"state", st.State.String()},
		{"tasks", fmt.Sprint(st.Records)},
		{"pending", fmt.Sprintf("%d create, %d update, %d delete", st.Pending.Creates, st.Pending.Updates, st.Pending.Deletes)},
		{"last sync", last},
	}
	for _, r := range rows {
		fmt.Fprintln(w, styleLabel.Render(r[0])+" "+r[1])
	}
}

// RenderReport writes a one-line sync summary.
func RenderReport(w io.Writer, rep offline.Report) {
	f := rep.Flush
	parts := []string{fmt.Sprintf("%d tasks", rep.Records)}
	if f.Created+f.Updated+f.Deleted > 0 {
		parts = append(parts, fmt.Sprintf("sent %d create, %d update, %d delete", f.Created, f.Updated, f.Deleted))
	}
	if f.Dropped > 0 {
		parts = append(parts, fmt.Sprintf("dropped %d stale update(s)", f.Dropped))
	}
	if f.Failed > 0 {
		parts = append(parts, stylePending.Render(fmt.Sprintf("%d still pending", f.Failed)))
	}
	fmt.Fprintf(w, "Synced in %s: %s\n", rep.Duration.Round(time.Millisecond), strings.Join(parts, "; "))
}

// ShortID trims local ids to a displayable prefix.
func ShortID(id offline.ID) string {
	s := string(id)
	if id.IsLocal() && len(s) > len(offline.LocalIDPrefix)+shortIDLen {
		return s[:len(offline.LocalIDPrefix)+shortIDLen]
	}
	return s
}

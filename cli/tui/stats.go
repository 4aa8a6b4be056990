package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/exifpipe/metrics"
)

// RenderStats renders a counters snapshot as rows of stat boxes.
func RenderStats(snap metrics.Snapshot) string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render(fmt.Sprintf("exifpipe stats (%s)", orDash(snap.Mode))))
	b.WriteString("\n")

	rows := [][]string{
		{
			statBox("Requests", snap.RequestsSent, highlightColor),
			statBox("Frames", snap.FramesDecoded, successColor),
			statBox("Tool errors", snap.ToolErrors, errorColor),
			statBox("I/O errors", snap.ProcessIOErrors, errorColor),
		},
		{
			statBox("Files staged", snap.FilesStaged, highlightColor),
			statBox("Staged KiB", snap.StagedBytes/1024, highlightColor),
			statBox("Cache hits", snap.CacheHits, successColor),
			statBox("Cache misses", snap.CacheMisses, warningColor),
		},
		{
			statBox("Store writes", snap.StoreWriteSuccess, successColor),
			statBox("Store failures", snap.StoreWriteFailure, errorColor),
			statBox("Parse errors", snap.FrameParseErrors, warningColor),
			statBox("Unclaimed", snap.UnclaimedEvents, warningColor),
		},
	}
	for _, row := range rows {
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, row...))
		b.WriteString("\n")
	}

	if len(snap.ToolErrorsByKind) > 0 {
		kinds := make([]string, 0, len(snap.ToolErrorsByKind))
		for k := range snap.ToolErrorsByKind {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		b.WriteString(LabelStyle.Render("tool errors by kind:"))
		for _, k := range kinds {
			fmt.Fprintf(&b, " %s=%d", k, snap.ToolErrorsByKind[k])
		}
		b.WriteString("\n")
	}

	if snap.SessionID != "" {
		fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render("session:"), ValueStyle.Render(snap.SessionID))
	}
	return b.String()
}

func statBox(label string, value int64, color lipgloss.Color) string {
	valueStr := StatValueStyle.Foreground(color).Render(fmt.Sprintf("%d", value))
	labelStr := StatLabelStyle.Render(label)
	return StatBoxStyle.BorderForeground(color).Render(
		lipgloss.JoinVertical(lipgloss.Center, valueStr, labelStr))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

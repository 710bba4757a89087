package views

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"crmsync/backend"
	backendsync "crmsync/backend/sync"
	"crmsync/internal/sync"
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

func queueStatusText(s backend.QueueStatus) string {
	switch s {
	case backend.QueueFailed:
		return errorStyle.Render(string(s))
	case backend.QueueProcessing:
		return warnStyle.Render(string(s))
	default:
		return string(s)
	}
}

// RenderQueue renders queue items oldest first.
func RenderQueue(items []backend.QueueItem) string {
	if len(items) == 0 {
		return dimStyle.Render("No queued changes") + "\n"
	}
	t := newTable("ID", "OPERATION", "KIND", "ENTITY", "QUEUED", "STATUS", "ERROR")
	for _, it := range items {
		t.Row(
			strconv.FormatInt(it.ID, 10),
			string(it.Op),
			string(it.Kind),
			truncate(it.EntityID, 24),
			FormatMillis(it.Timestamp),
			queueStatusText(it.Status),
			truncate(it.Error, MaxCellWidth),
		)
	}
	return t.Render() + "\n"
}

// RenderEntities renders local records of one kind.
func RenderEntities(kind backend.Kind, entities []backend.Entity) string {
	if len(entities) == 0 {
		return dimStyle.Render(fmt.Sprintf("No local %s records", kind)) + "\n"
	}
	t := newTable("ID", "NAME", "DETAIL", "SYNC", "UPDATED")
	for _, e := range entities {
		meta := e.Meta()
		status := string(meta.SyncStatus)
		if meta.SyncStatus.IsPending() {
			status = warnStyle.Render(status)
		}
		t.Row(
			truncate(meta.ID, 24),
			truncate(Title(e), MaxCellWidth),
			truncate(Detail(e), MaxCellWidth/2),
			status,
			FormatMillis(meta.UpdatedAt),
		)
	}
	return t.Render() + "\n"
}

// RenderState renders a coordinator snapshot.
func RenderState(st sync.State, now time.Time) string {
	var s strings.Builder
	s.WriteString(titleStyle.Render("Sync Status"))
	s.WriteString("\n")

	conn := errorStyle.Render("offline")
	if st.Online {
		conn = okStyle.Render("online")
	}
	fmt.Fprintf(&s, "Connection: %s\n", conn)
	if st.Syncing {
		fmt.Fprintf(&s, "Syncing:    %s\n", warnStyle.Render("yes"))
	}
	fmt.Fprintf(&s, "Pending:    %d\n", st.PendingCount)
	failed := strconv.Itoa(st.FailedCount)
	if st.FailedCount > 0 {
		failed = errorStyle.Render(failed)
	}
	fmt.Fprintf(&s, "Failed:     %s\n", failed)
	fmt.Fprintf(&s, "Last sync:  %s\n", FormatSince(st.LastSyncTime, now))
	return s.String()
}

// RenderPassResult summarizes one sync pass.
func RenderPassResult(r *backendsync.PassResult) string {
	if r == nil {
		return ""
	}
	switch r.Skipped {
	case backendsync.SkipEmpty:
		return dimStyle.Render("Nothing to sync") + "\n"
	case backendsync.SkipOffline:
		return warnStyle.Render("Offline: changes stay queued until the remote is reachable") + "\n"
	case backendsync.SkipInProgress:
		return warnStyle.Render("A sync pass is already running") + "\n"
	case backendsync.SkipLocked:
		return warnStyle.Render("Another crmsync process is syncing this database") + "\n"
	}

	var s strings.Builder
	fmt.Fprintf(&s, "Synced %s, failed %s in %s\n",
		okStyle.Render(strconv.Itoa(r.Succeeded)),
		failedCount(r.Failed),
		r.Duration.Round(time.Millisecond))
	for _, e := range r.Errors {
		fmt.Fprintf(&s, "  %s #%d %s %s %s: %s\n",
			errorStyle.Render("✗"), e.ItemID, e.Op, e.Kind, e.EntityID, e.Message)
	}
	return s.String()
}

func failedCount(n int) string {
	if n > 0 {
		return errorStyle.Render(strconv.Itoa(n))
	}
	return strconv.Itoa(n)
}

// RenderRefreshStats renders per-kind refresh counts.
func RenderRefreshStats(stats []backend.RefreshStats) string {
	t := newTable("KIND", "FETCHED", "WRITTEN", "KEPT LOCAL", "PRUNED")
	for _, st := range stats {
		t.Row(
			string(st.Kind),
			strconv.Itoa(st.Fetched),
			strconv.Itoa(st.Written),
			strconv.Itoa(st.Skipped),
			strconv.Itoa(st.Pruned),
		)
	}
	return t.Render() + "\n"
}

package handlers

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/imamik/hubspoke/internal/deployment"
	"github.com/imamik/hubspoke/internal/provisioning"
	"github.com/imamik/hubspoke/internal/store"
)

var (
	colorGreen  = lipgloss.Color("#22c55e")
	colorRed    = lipgloss.Color("#ef4444")
	colorYellow = lipgloss.Color("#eab308")
	colorBlue   = lipgloss.Color("#3b82f6")
	colorDim    = lipgloss.Color("#6b7280")
	colorWhite  = lipgloss.Color("#f9fafb")
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorWhite)
	sectionStyle = lipgloss.NewStyle().Bold(true).Foreground(colorBlue)
	dimStyle     = lipgloss.NewStyle().Foreground(colorDim)
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(colorBlue)
)

// statusStyle colors a status by outcome.
func statusStyle(s deployment.Status) lipgloss.Style {
	switch s {
	case deployment.StatusCompleted, deployment.StatusRolledBack:
		return lipgloss.NewStyle().Foreground(colorGreen)
	case deployment.StatusFailed, deployment.StatusRollbackFailed:
		return lipgloss.NewStyle().Foreground(colorRed)
	default:
		return lipgloss.NewStyle().Foreground(colorYellow)
	}
}

// renderList produces the spoke table.
func renderList(summaries []deployment.Summary) string {
	if len(summaries) == 0 {
		return dimStyle.Render("  No spokes found.") + "\n"
	}

	var b strings.Builder
	row := func(id, client, status, progress, ip, updated string) string {
		return fmt.Sprintf("  %-4s %-24s %-16s %-9s %-15s %s", id, client, status, progress, ip, updated)
	}
	b.WriteString(headerStyle.Render(row("ID", "CLIENT", "STATUS", "PROGRESS", "PRIVATE IP", "UPDATED")))
	b.WriteString("\n")
	for _, s := range summaries {
		ip := s.PrivateIP
		if ip == "" {
			ip = "-"
		}
		// Pad before styling so escape codes do not break alignment.
		status := statusStyle(s.Status).Render(fmt.Sprintf("%-16s", s.Status))
		line := fmt.Sprintf("  %-4d %-24s %s %-9s %-15s %s",
			s.SpokeID, s.ClientName, status, fmt.Sprintf("%d%%", s.Progress), ip,
			s.UpdatedAt.Format("2006-01-02 15:04"))
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

// renderRecord produces the detailed view of one record.
func renderRecord(rec *deployment.Record, live *provisioning.LiveStatus) string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(titleStyle.Render(fmt.Sprintf("  Spoke %d: %s", rec.SpokeID, rec.ClientName)))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render("  " + strings.Repeat("═", 30)))
	b.WriteString("\n\n")

	field := func(name, value string) {
		if value == "" {
			return
		}
		fmt.Fprintf(&b, "    %-14s %s\n", name+":", value)
	}
	field("Status", statusStyle(rec.Status).Render(string(rec.Status)))
	field("Progress", fmt.Sprintf("%d%%", rec.Progress()))
	field("CIDR", rec.CIDR)
	field("Network", rec.NetworkName)
	field("Instance", rec.InstanceName)
	field("Private IP", rec.PrivateIP)
	field("Backend pool", rec.BackendPoolName)
	field("Routing rule", rec.RoutingRuleName)
	field("Failed step", rec.FailedStep)

	if len(rec.Steps) > 0 {
		b.WriteString("\n")
		b.WriteString(sectionStyle.Render("  Steps"))
		b.WriteString("\n")
		for _, s := range rec.Steps {
			line := fmt.Sprintf("    %-22s %-12s", s.Name, s.Status)
			if d := s.Duration(); d > 0 {
				line += dimStyle.Render(" " + d.Round(time.Millisecond).String())
			}
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	if lines := rec.ErrorLines(); len(lines) > 0 {
		b.WriteString("\n")
		b.WriteString(sectionStyle.Render("  Errors"))
		b.WriteString("\n")
		for _, l := range lines {
			b.WriteString(lipgloss.NewStyle().Foreground(colorRed).Render("    " + l))
			b.WriteString("\n")
		}
	}

	if live != nil {
		b.WriteString("\n")
		b.WriteString(sectionStyle.Render("  Live"))
		b.WriteString("\n")
		fmt.Fprintf(&b, "    %-14s %t\n", "Network:", live.NetworkExists)
		fmt.Fprintf(&b, "    %-14s %t\n", "Interface:", live.NICExists)
		fmt.Fprintf(&b, "    %-14s %t %s\n", "Instance:", live.InstanceExists,
			dimStyle.Render(strings.TrimSpace(live.ProvisioningState+" "+live.PowerState)))
		fmt.Fprintf(&b, "    %-14s hub %s, spoke %s\n", "Peering:", orDash(string(live.HubPeering)), orDash(string(live.SpokePeering)))
		fmt.Fprintf(&b, "    %-14s %t\n", "Backend pool:", live.BackendPoolConfigured)
	}
	return b.String()
}

// renderStats produces the statistics summary.
func renderStats(st *store.Statistics) string {
	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(titleStyle.Render("  Spoke deployments"))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render("  " + strings.Repeat("─", 30)))
	b.WriteString("\n")
	fmt.Fprintf(&b, "    %-14s %d\n", "Total:", st.Total)
	fmt.Fprintf(&b, "    %-14s %d\n", "Completed:", st.Completed)
	fmt.Fprintf(&b, "    %-14s %d\n", "In progress:", st.InProgress)
	fmt.Fprintf(&b, "    %-14s %d\n", "Failed:", st.Failed)
	fmt.Fprintf(&b, "    %-14s %d\n", "Rolled back:", st.RolledBack)
	fmt.Fprintf(&b, "    %-14s %.1f%%\n", "Success rate:", st.SuccessRate)
	if st.Latest != nil {
		fmt.Fprintf(&b, "    %-14s spoke %d (%s) %s\n", "Latest:", st.Latest.SpokeID, st.Latest.ClientName, st.Latest.Status)
	}
	return b.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

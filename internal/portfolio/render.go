package portfolio

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/wonny/folio/internal/contracts"
)

const none = "(none)"

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

// Render writes a human readable dump of view
func Render(w io.Writer, view *contracts.PortfolioView) error {
	var b strings.Builder
	p := view.Portfolio

	b.WriteString(titleStyle.Render("Portfolio: "+p.Name) + "\n")
	fmt.Fprintf(&b, "ID: %s\n", p.ID)
	fmt.Fprintf(&b, "Created: %s\n", p.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Updated: %s\n", p.UpdatedAt.Format("2006-01-02 15:04:05"))
	if p.CopyOfID != nil {
		fmt.Fprintf(&b, "Copy of: %s\n", *p.CopyOfID)
	}
	if v := view.Version; v != nil {
		state := "latest"
		if !view.Current {
			state = "historical"
		}
		fmt.Fprintf(&b, "Version: %d (%s)", v.VersionNumber, state)
		if v.Title != "" {
			fmt.Fprintf(&b, " %s", v.Title)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")

	b.WriteString(titleStyle.Render("Tickers & Weights") + "\n")
	b.WriteString(renderWeights(view) + "\n\n")

	b.WriteString(titleStyle.Render("Allocations") + "\n")
	b.WriteString(renderAllocations(view.Allocations) + "\n\n")

	b.WriteString(titleStyle.Render("Cap and Redistribute Options") + "\n")
	b.WriteString(renderCapOptions(view.CapOptions) + "\n")

	_, err := io.WriteString(w, b.String())
	return err
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

// renderWeights lists every symbol of the tickers and the weights, heaviest first
func renderWeights(view *contracts.PortfolioView) string {
	symbols := view.BaseWeights.Symbols()
	seen := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		seen[s] = true
	}
	for _, t := range view.Tickers {
		if !seen[t.Symbol] {
			seen[t.Symbol] = true
			symbols = append(symbols, t.Symbol)
		}
	}
	if len(symbols) == 0 {
		return none
	}

	t := newTable("Symbol", "Name", "Weight", "Adjusted")
	for _, s := range symbols {
		name := none
		if tk, ok := view.Tickers.Find(s); ok && tk.Name != "" {
			name = tk.Name
		}
		t.Row(s, name, percent(view.BaseWeights, s), percent(view.Adjusted, s))
	}
	return t.Render()
}

func renderAllocations(allocs []contracts.Allocation) string {
	if len(allocs) == 0 {
		return none
	}

	t := newTable("Name", "Percentage", "Status")
	for _, a := range allocs {
		status := "enabled"
		if !a.Enabled {
			status = "disabled"
		}
		t.Row(a.Name, fmt.Sprintf("%.2f%%", a.Percentage), status)
	}
	return t.Render()
}

func renderCapOptions(options []contracts.CapOption) string {
	if len(options) == 0 {
		return none
	}

	t := newTable("Cap", "Top N", "Status", "Weights")
	for _, o := range options {
		status := "inactive"
		if o.Active {
			status = "active"
		}
		cached := "pending"
		if o.HasWeights() {
			cached = fmt.Sprintf("%d cached", len(o.Weights))
		}
		t.Row(fmt.Sprintf("%.2f%%", o.CapPercentage*100), fmt.Sprintf("%d", o.TopN), status, cached)
	}
	return t.Render()
}

func percent(w contracts.Weights, symbol string) string {
	v, ok := w.For(symbol)
	if !ok {
		return none
	}
	return fmt.Sprintf("%.2f%%", v*100)
}

// RenderVersions writes the version history as a table, newest first
func RenderVersions(w io.Writer, versions []contracts.Version) error {
	if len(versions) == 0 {
		_, err := io.WriteString(w, none+"\n")
		return err
	}

	t := newTable("#", "Created", "Tickers", "Cap", "Title")
	for _, v := range versions {
		capped := ""
		if v.HasCapProvenance() {
			capped = fmt.Sprintf("%.2f%% top %d", *v.CapPercentage*100, *v.TopN)
		}
		t.Row(
			fmt.Sprintf("%d", v.VersionNumber),
			v.CreatedAt.Format("2006-01-02 15:04"),
			strings.Join(v.TickerSymbols(), ", "),
			capped,
			v.Title,
		)
	}
	_, err := io.WriteString(w, t.Render()+"\n")
	return err
}

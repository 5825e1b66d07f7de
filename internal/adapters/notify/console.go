package notify

// console.go — presentación de trades y mercados por terminal.

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/alejandrodnm/polyticks/internal/adapters/storage"
	"github.com/alejandrodnm/polyticks/internal/domain"
	"github.com/olekukonko/tablewriter"
)

const tradeDisplayLimit = 50

// Console escribe tablas y resúmenes legibles a un io.Writer.
type Console struct {
	out io.Writer
}

// NewConsole crea una consola que escribe a stdout.
func NewConsole() *Console {
	return &Console{out: os.Stdout}
}

// NewConsoleWriter crea una consola para tests.
func NewConsoleWriter(w io.Writer) *Console {
	return &Console{out: w}
}

// PrintTrades imprime los trades más recientes en tabla. Si hay más de
// tradeDisplayLimit solo muestra los primeros y lo indica al pie.
func (c *Console) PrintTrades(trades []domain.Trade) {
	if len(trades) == 0 {
		fmt.Fprintln(c.out, "  no trades found")
		return
	}

	shown := trades
	if len(shown) > tradeDisplayLimit {
		shown = shown[:tradeDisplayLimit]
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Timestamp", "Side", "Outcome", "Price", "Size", "Value", "Source")

	for _, t := range shown {
		table.Append(
			t.Timestamp.UTC().Format("2006-01-02 15:04:05.000"),
			t.Side,
			t.Outcome,
			fmt.Sprintf("%.4f", t.Price),
			fmt.Sprintf("%.2f", t.Size),
			fmt.Sprintf("$%.2f", t.Value()),
			t.Source,
		)
	}
	table.Render()

	if len(trades) > tradeDisplayLimit {
		fmt.Fprintf(c.out, "  showing %d of %d trades\n", tradeDisplayLimit, len(trades))
	}
}

// PrintMarkets imprime la lista de mercados grabados.
func (c *Console) PrintMarkets(markets []domain.Market) {
	if len(markets) == 0 {
		fmt.Fprintln(c.out, "  no markets recorded")
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Market", "Question", "Status", "Last Updated")

	for _, m := range markets {
		status := "Open"
		if m.Closed {
			status = "Closed"
		}
		table.Append(
			shortLabel(m.ID, 14),
			truncate(m.Question, 48),
			status,
			m.LastUpdated.UTC().Format("2006-01-02 15:04"),
		)
	}
	table.Render()

	fmt.Fprintf(c.out, "  %d markets\n", len(markets))
}

// PrintSummary imprime la metadata de un mercado y las estadísticas
// agregadas de sus trades.
func (c *Console) PrintSummary(m domain.Market, s storage.MarketSummary) {
	fmt.Fprintf(c.out, "\n  Market:   %s\n", m.ID)
	fmt.Fprintf(c.out, "  Question: %s\n", m.Question)
	fmt.Fprintf(c.out, "  Outcomes: %s / %s\n", m.OutcomeUp, m.OutcomeDown)
	status := "Open"
	if m.Closed {
		status = "Closed"
		if m.ClosedTime != "" {
			status = fmt.Sprintf("Closed (%s)", m.ClosedTime)
		}
	}
	fmt.Fprintf(c.out, "  Status:   %s\n", status)
	fmt.Fprintf(c.out, "  Tracked:  since %s\n", m.FirstSeen.UTC().Format("2006-01-02 15:04"))

	if s.TotalTrades == 0 {
		fmt.Fprintln(c.out, "\n  no trades recorded for this market")
		return
	}

	span := s.NewestTrade.Sub(s.OldestTrade)
	fmt.Fprintf(c.out, "\n  Trades:   %d\n", s.TotalTrades)
	fmt.Fprintf(c.out, "  Volume:   $%.2f\n", s.TotalVolume)
	fmt.Fprintf(c.out, "  Oldest:   %s\n", s.OldestTrade.UTC().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(c.out, "  Newest:   %s\n", s.NewestTrade.UTC().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(c.out, "  Span:     %s\n", span.Round(time.Second))
	for _, src := range []string{domain.SourceStream, domain.SourceBackfill} {
		if n, ok := s.Sources[src]; ok {
			fmt.Fprintf(c.out, "  %-9s %d\n", src+":", n)
		}
	}
	fmt.Fprintln(c.out)
}

// PrintBackfill imprime el resultado de una pasada de backfill.
func (c *Console) PrintBackfill(markets, fetched, inserted int) {
	fmt.Fprintf(c.out, "  backfill done: %d markets, %d trades fetched, %d new rows\n",
		markets, fetched, inserted)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func shortLabel(id string, maxLen int) string {
	if len(id) <= maxLen {
		return id
	}
	return id[:maxLen-2] + ".."
}

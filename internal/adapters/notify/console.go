package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/copybot/internal/domain"
)

// Console implementa ports.Notifier. Cada apertura y cierre es una línea;
// los informes (snapshot, cerradas, wallets) son tablas.
type Console struct {
	mu  sync.Mutex
	out io.Writer
}

// NewConsole crea un notificador que escribe a stdout.
func NewConsole() *Console {
	return &Console{out: os.Stdout}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer) *Console {
	return &Console{out: w}
}

// OnSignalApproved imprime la posición recién abierta.
func (c *Console) OnSignalApproved(_ context.Context, p domain.Position) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "[%s] OPEN  %-12s %-18s conf:%.2f size:$%.2f entry:%.8f sl:%.8f tp:%.8f wallets:%d\n",
		p.EntryTime.Format("15:04:05"), short(p.Asset, 12), p.Kind, p.Confidence,
		p.SizeUSD, p.EntryPrice, p.StopLoss, p.TakeProfit, len(p.Wallets))
	return nil
}

// OnPositionClosed imprime el cierre con su PnL realizado.
func (c *Console) OnPositionClosed(_ context.Context, p domain.Position) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "[%s] CLOSE %-12s %-14s pnl:%s (%+.1f%%) held:%s\n",
		p.ExitTime.Format("15:04:05"), short(p.Asset, 12), p.ExitTrigger,
		money(p.RealizedPnL), returnPct(p)*100, p.ExitTime.Sub(p.EntryTime).Truncate(time.Minute))
	return nil
}

// PrintSnapshot imprime el estado del portfolio y la tabla de posiciones abiertas.
func (c *Console) PrintSnapshot(s domain.PortfolioState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.out, "\n=== PORTFOLIO [%s] ===\n", s.TakenAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(c.out, "  Capital:    $%.2f   Available: $%.2f   Exposure: $%.2f   Reserved: $%.2f\n",
		s.Capital, s.Available, s.Exposure, s.Reserved)
	fmt.Fprintf(c.out, "  Daily PnL:  %s (%s)   Total PnL: %s   Unrealized: %s   Closed: %d\n",
		money(s.DailyPnL), s.DailyDate, money(s.TotalPnL), money(s.UnrealizedPnL()), s.ClosedCount)
	fmt.Fprintf(c.out, "  Breaker:    %s\n", breakerLabel(s.Breaker))

	fmt.Fprintf(c.out, "\n── OPEN POSITIONS (%d) ──\n", len(s.OpenPositions))
	if len(s.OpenPositions) == 0 {
		fmt.Fprintln(c.out, "  (none)")
		return
	}

	open := make([]domain.Position, 0, len(s.OpenPositions))
	for _, p := range s.OpenPositions {
		open = append(open, p)
	}
	sort.Slice(open, func(i, j int) bool { return open[i].EntryTime.Before(open[j].EntryTime) })

	table := tablewriter.NewWriter(c.out)
	table.Header("Asset", "Kind", "Size", "Entry", "Current", "Peak", "PnL", "Ret", "Age")
	for _, p := range open {
		table.Append(
			short(p.Asset, 12),
			p.Kind.String(),
			fmt.Sprintf("$%.2f", p.SizeUSD),
			fmt.Sprintf("%.8f", p.EntryPrice),
			fmt.Sprintf("%.8f", p.CurrentPrice),
			fmt.Sprintf("%.8f", p.PeakPrice),
			money(p.UnrealizedPnL()),
			fmt.Sprintf("%+.1f%%", p.ReturnPct()*100),
			s.TakenAt.Sub(p.EntryTime).Truncate(time.Minute).String(),
		)
	}
	table.Render()
}

// PrintClosed imprime las últimas n posiciones cerradas, la más reciente primero.
func (c *Console) PrintClosed(closed []domain.Position, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.out, "\n── CLOSED POSITIONS (%d) ──\n", len(closed))
	if len(closed) == 0 {
		fmt.Fprintln(c.out, "  (none)")
		return
	}

	wins := 0
	total := 0.0
	for _, p := range closed {
		total += p.RealizedPnL
		if p.RealizedPnL > 0 {
			wins++
		}
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Asset", "Kind", "Trigger", "Size", "Entry", "Exit", "PnL", "Ret")
	for i := len(closed) - 1; i >= 0 && len(closed)-i <= n; i-- {
		p := closed[i]
		table.Append(
			short(p.Asset, 12),
			p.Kind.String(),
			p.ExitTrigger.String(),
			fmt.Sprintf("$%.2f", p.SizeUSD),
			fmt.Sprintf("%.8f", p.EntryPrice),
			fmt.Sprintf("%.8f", p.ExitPrice),
			money(p.RealizedPnL),
			fmt.Sprintf("%+.1f%%", returnPct(p)*100),
		)
	}
	table.Render()
	fmt.Fprintf(c.out, "  Win rate: %.0f%% (%d/%d)   Realized: %s\n",
		float64(wins)/float64(len(closed))*100, wins, len(closed), money(total))
}

// PrintWallets imprime el ranking de wallets seguidas.
func (c *Console) PrintWallets(records []domain.WalletRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.out, "\n── WALLETS (%d) ──\n", len(records))
	table := tablewriter.NewWriter(c.out)
	table.Header("Wallet", "Score", "Active", "Trades", "Trips", "Win", "24h", "Copied", "Flags")
	for _, r := range records {
		var flags []string
		if r.Metrics.Insider {
			flags = append(flags, "insider")
		}
		if !r.Scored {
			flags = append(flags, "unscored")
		}
		table.Append(
			short(r.Address, 12),
			fmt.Sprintf("%.3f", r.Score),
			fmt.Sprintf("%v", r.Active),
			fmt.Sprintf("%d", r.Metrics.TradeCount),
			fmt.Sprintf("%d", r.Metrics.RoundTrips),
			fmt.Sprintf("%.0f%%", r.Metrics.WinRate*100),
			fmt.Sprintf("%d", r.Metrics.Trades24h),
			fmt.Sprintf("%d/%d", r.Copied.Wins, r.Copied.Total()),
			strings.Join(flags, ","),
		)
	}
	table.Render()
}

// DailyRow es el PnL realizado de un día UTC.
type DailyRow struct {
	Date   string
	PnL    float64
	Closed int
}

// PrintDaily imprime el historial de PnL diario en el orden recibido.
func (c *Console) PrintDaily(rows []DailyRow) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.out, "\n── DAILY PNL (%d days) ──\n", len(rows))
	if len(rows) == 0 {
		fmt.Fprintln(c.out, "  (none)")
		return
	}

	total := 0.0
	closed := 0
	table := tablewriter.NewWriter(c.out)
	table.Header("Date", "PnL", "Closed")
	for _, r := range rows {
		total += r.PnL
		closed += r.Closed
		table.Append(r.Date, money(r.PnL), fmt.Sprintf("%d", r.Closed))
	}
	table.Render()
	fmt.Fprintf(c.out, "  Total: %s over %d closes\n", money(total), closed)
}

// --- helpers ---

func breakerLabel(cb domain.CircuitBreaker) string {
	if cb.Status != domain.BreakerTripped {
		return "ARMED"
	}
	if cb.Manual {
		return fmt.Sprintf("TRIPPED (%s) until rearm", cb.Reason)
	}
	return fmt.Sprintf("TRIPPED (%s) until %s", cb.Reason, cb.CooldownUntil.Format("15:04:05"))
}

func returnPct(p domain.Position) float64 {
	if p.SizeUSD <= 0 {
		return 0
	}
	return p.RealizedPnL / p.SizeUSD
}

func money(v float64) string {
	if v < 0 {
		return fmt.Sprintf("-$%.2f", -v)
	}
	return fmt.Sprintf("+$%.2f", v)
}

func short(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

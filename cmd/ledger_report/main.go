// Command ledger_report prints per-setup performance statistics from the
// trade ledger, together with the capped Kelly fraction each setup would be
// sized at right now.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"sort"
	"text/tabwriter"

	"bracketbot/internal/adapters/logger"
	"bracketbot/internal/adapters/sqlite"
	"bracketbot/internal/domain"
	"bracketbot/internal/sizing"
	"bracketbot/internal/stats"
)

func main() {
	dbPath := flag.String("db", "./data/bracketbot.db", "path to the SQLite database")
	window := flag.Int("window", 0, "number of most recent trades to analyze (0 = full history)")
	kellyCap := flag.Float64("kelly-cap", 0.5, "upper clamp applied to reported Kelly fractions")
	flag.Parse()

	ctx := context.Background()
	appLogger := logger.NewStdLogger(logger.LevelWarn)

	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: *dbPath, Logger: appLogger})
	if err != nil {
		log.Fatalf("Error opening ledger database: %v", err)
	}
	defer repo.Close()

	outcomes, err := repo.FindRecent(ctx, *window)
	if err != nil {
		log.Fatalf("Error reading trade outcomes: %v", err)
	}
	if len(outcomes) == 0 {
		log.Println("No trade outcomes recorded yet.")
		return
	}

	bySetup := stats.BySetup(outcomes)
	setupIDs := make([]string, 0, len(bySetup))
	for id := range bySetup {
		setupIDs = append(setupIDs, id)
	}
	sort.Strings(setupIDs)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight|tabwriter.Debug)
	fmt.Fprintln(w, "Setup\tTrades\tWinRate\tAvgWinR\tAvgLossR\tMeanR\tStdR\tPayoff\tKelly\t")
	for _, id := range setupIDs {
		s := bySetup[id]
		kelly := math.Min(*kellyCap, sizing.KellyFraction(s.WinRate, s.PayoffRatio()))
		fmt.Fprintf(w, "%s\t%d\t%.2f%%\t%.2f\t%.2f\t%.3f\t%.3f\t%.2f\t%.4f\t\n",
			id, s.Count, s.WinRate*100, s.AvgWinR, s.AvgLossR, s.MeanR, s.StdR, s.PayoffRatio(), kelly)
	}
	w.Flush()

	printExitBreakdown(outcomes)

	total, err := repo.TotalPnL(ctx)
	if err != nil {
		log.Fatalf("Error summing realized PnL: %v", err)
	}
	fmt.Printf("\nTotal realized PnL: %.2f (%d trades in window)\n", total, len(outcomes))
}

// printExitBreakdown counts outcomes by exit reason with their PnL totals.
func printExitBreakdown(outcomes []*domain.TradeOutcome) {
	counts := make(map[domain.ExitReason]int)
	pnl := make(map[domain.ExitReason]float64)
	for _, o := range outcomes {
		counts[o.ExitReason]++
		pnl[o.ExitReason] += o.PnL
	}

	var reasons []domain.ExitReason
	for reason := range counts {
		reasons = append(reasons, reason)
	}
	sort.Slice(reasons, func(i, j int) bool {
		return string(reasons[i]) < string(reasons[j])
	})

	fmt.Println("\n## Exit Reason Breakdown")
	for _, reason := range reasons {
		count := counts[reason]
		avg := pnl[reason] / float64(count)
		fmt.Printf("%s: %d trades, PnL: %.2f, Avg: %.2f\n", reason, count, pnl[reason], avg)
	}
}

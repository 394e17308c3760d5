package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"

	"github.com/payments/platform/internal/ledger"
	"github.com/payments/platform/internal/metrics"
	"github.com/payments/platform/internal/reconciliation"
	"github.com/payments/platform/pkg/logger"
)

type reconciliationConfig struct {
	DBURL      string
	Scope      string
	From       string
	To         string
	OrderID    string
	BatchSize  int
	Verbose    bool
	Alert      bool
	WebhookURL string
	ReportPath string
	Cron       string
}

var (
	runCLIFunc = runCLI
	exitFunc   = os.Exit
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code := runCLIFunc(ctx, os.Args[1:], os.Stdout, os.Stderr, func(dsn string) (*sql.DB, error) {
		return sql.Open("postgres", dsn)
	})
	exitFunc(code)
}

func parseFlags(args []string) (reconciliationConfig, error) {
	fs := flag.NewFlagSet("reconciliation", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var cfg reconciliationConfig
	fs.StringVar(&cfg.DBURL, "db-url", "", "PostgreSQL connection string")
	fs.StringVar(&cfg.Scope, "scope", "pending", "reconciliation scope: pending, range or order")
	fs.StringVar(&cfg.From, "from", "", "range start (RFC3339), for -scope=range")
	fs.StringVar(&cfg.To, "to", "", "range end (RFC3339), for -scope=range")
	fs.StringVar(&cfg.OrderID, "order-id", "", "order id, for -scope=order")
	fs.IntVar(&cfg.BatchSize, "batch-size", 1000, "max entries per pending scan")
	fs.BoolVar(&cfg.Verbose, "verbose", false, "show detailed progress")
	fs.BoolVar(&cfg.Alert, "alert", true, "return non-zero exit code on mismatch")
	fs.StringVar(&cfg.WebhookURL, "webhook-url", "", "webhook url for mismatch alerts")
	fs.StringVar(&cfg.ReportPath, "report", "", "write detailed report to file")
	fs.StringVar(&cfg.Cron, "cron", "", "cron expression for scheduled reconciliation runs")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if strings.TrimSpace(cfg.DBURL) == "" {
		return cfg, errors.New("missing required --db-url")
	}
	switch cfg.Scope {
	case "pending":
	case "range":
		if cfg.From == "" || cfg.To == "" {
			return cfg, errors.New("-scope=range requires --from and --to")
		}
	case "order":
		if cfg.OrderID == "" {
			return cfg, errors.New("-scope=order requires --order-id")
		}
	default:
		return cfg, fmt.Errorf("unknown scope: %s", cfg.Scope)
	}
	return cfg, nil
}

func buildScope(cfg reconciliationConfig) (reconciliation.Scope, error) {
	switch cfg.Scope {
	case "range":
		from, err := time.Parse(time.RFC3339, cfg.From)
		if err != nil {
			return reconciliation.Scope{}, fmt.Errorf("invalid --from: %w", err)
		}
		to, err := time.Parse(time.RFC3339, cfg.To)
		if err != nil {
			return reconciliation.Scope{}, fmt.Errorf("invalid --to: %w", err)
		}
		return reconciliation.RangeScope(from, to), nil
	case "order":
		return reconciliation.OrderScope(cfg.OrderID), nil
	default:
		return reconciliation.PendingScope(), nil
	}
}

func runCLI(ctx context.Context, args []string, out, errOut io.Writer, opener func(string) (*sql.DB, error)) int {
	cfg, err := parseFlags(args)
	if err != nil {
		fmt.Fprintln(errOut, err.Error())
		return 2
	}

	if strings.TrimSpace(cfg.Cron) != "" {
		return runScheduled(ctx, cfg, out, errOut, opener)
	}

	return runOnce(ctx, cfg, out, errOut, opener)
}

func runOnce(ctx context.Context, cfg reconciliationConfig, out, errOut io.Writer, opener func(string) (*sql.DB, error)) int {
	db, err := opener(cfg.DBURL)
	if err != nil {
		fmt.Fprintf(errOut, "failed to connect to database: %v\n", err)
		return 2
	}
	defer db.Close()

	dbPingCtx, dbPingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer dbPingCancel()
	if err := db.PingContext(dbPingCtx); err != nil {
		fmt.Fprintf(errOut, "failed to ping database: %v\n", err)
		return 2
	}

	code, err := runWithDB(ctx, db, cfg, out, errOut)
	if err != nil {
		fmt.Fprintln(errOut, err.Error())
		if code == 0 {
			code = 2
		}
	}
	return code
}

func runScheduled(ctx context.Context, cfg reconciliationConfig, out, errOut io.Writer, opener func(string) (*sql.DB, error)) int {
	if cfg.Verbose {
		fmt.Fprintln(out, "Starting scheduled reconciliation...")
	}

	scheduledCfg := cfg
	scheduledCfg.Alert = false

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(cfg.Cron)
	if err != nil {
		fmt.Fprintf(errOut, "invalid cron expression: %v\n", err)
		return 2
	}

	if code := runOnce(ctx, scheduledCfg, out, errOut, opener); code == 2 {
		return code
	}

	c := cron.New(cron.WithParser(parser))
	c.Schedule(schedule, cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		if cfg.Verbose {
			fmt.Fprintln(out, "Running scheduled reconciliation...")
		}
		if code := runOnce(ctx, scheduledCfg, out, errOut, opener); code != 0 {
			fmt.Fprintf(errOut, "scheduled reconciliation exited with code %d\n", code)
		}
	}))

	c.Start()
	<-ctx.Done()
	c.Stop()
	return 0
}

func runWithDB(ctx context.Context, db *sql.DB, cfg reconciliationConfig, out, errOut io.Writer) (int, error) {
	if cfg.Verbose {
		fmt.Fprintf(out, "Starting reconciliation (scope=%s)...\n", cfg.Scope)
	}

	scope, err := buildScope(cfg)
	if err != nil {
		return 2, err
	}

	logWriter := io.Discard
	if cfg.Verbose {
		logWriter = out
	}
	service := reconciliation.NewService(
		ledger.NewRepository(db),
		metrics.New(nil),
		logger.New("reconciliation-cli", logWriter),
		cfg.BatchSize,
	)

	result, err := service.Reconcile(ctx, scope)
	if err != nil {
		return 2, fmt.Errorf("reconciliation run failed: %w", err)
	}

	if cfg.ReportPath != "" {
		if err := writeReport(cfg.ReportPath, result); err != nil {
			return 2, fmt.Errorf("failed to write report: %w", err)
		}
	}

	if result.UnreadableScope() {
		return 2, fmt.Errorf("reconciliation %s failed to read ledger scope", result.ReconciliationID)
	}

	if len(result.Mismatches) == 0 {
		fmt.Fprintf(out, "✓ Reconciliation passed: %d payments checked, %s total\n",
			result.Stats.TotalPayments, result.Stats.TotalAmount)
		return 0, nil
	}

	for _, m := range result.Mismatches {
		fmt.Fprintf(errOut, "✗ Mismatch found: payment_id=%s, type=%s, severity=%s, %s\n",
			m.PaymentID, m.MismatchType, m.Severity, m.Description)
	}
	fmt.Fprintf(out, "Reconciliation %s: %d matched, %d mismatched of %d payments\n",
		result.Status, result.Stats.MatchedTransactions, result.Stats.UnmatchedPayments, result.Stats.TotalPayments)

	if cfg.WebhookURL != "" {
		if err := sendWebhook(ctx, cfg.WebhookURL, result); err != nil {
			fmt.Fprintf(errOut, "webhook alert failed: %v\n", err)
		}
	}

	if cfg.Alert {
		return 1, nil
	}
	return 0, nil
}

func sendWebhook(ctx context.Context, url string, result *reconciliation.Result) error {
	payload := map[string]interface{}{
		"message":          "reconciliation mismatches detected",
		"reconciliationId": result.ReconciliationID,
		"status":           result.Status,
		"stats":            result.Stats,
		"mismatches":       result.Mismatches,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	httpClient := &http.Client{Timeout: 10 * time.Second}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook status %s", resp.Status)
	}
	return nil
}

func writeReport(path string, result *reconciliation.Result) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

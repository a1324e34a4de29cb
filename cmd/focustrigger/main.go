// Command focustrigger is a reference batch driver over the FOCuS,
// FOCuS-SES and BFT detectors: it reads rows of counts from a CSV file,
// steps the selected detector tick by tick, and reports the first
// changepoint, if any.
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/peppedilillo/focustrigger/pkg/bft"
	"github.com/peppedilillo/focustrigger/pkg/curvestack"
	"github.com/peppedilillo/focustrigger/pkg/focus"
	"github.com/peppedilillo/focustrigger/pkg/focusses"
	"github.com/peppedilillo/focustrigger/pkg/offline"
	"github.com/peppedilillo/focustrigger/pkg/telemetry"
)

type opts struct {
	mode string

	thresholdStd float64
	muMin        float64
	alpha        float64
	m            int
	sleep        int
	majority     int

	input string

	csvPath     string
	jsonPath    string
	verbose     bool
	metricsAddr string
}

type changeRow struct {
	Triggertime     uint64  `json:"triggertime"`
	Changepoint     uint64  `json:"changepoint"`
	SignificanceStd float64 `json:"significance_std"`
	Dead            uint8   `json:"dead,omitempty"`
}

func main() {
	var o opts

	root := &cobra.Command{
		Use:   "focustrigger --input counts.csv",
		Short: "Run FOCuS, FOCuS-SES or BFT over a CSV of Poisson counts",
		Long: `focustrigger reads a CSV of photon counts (and, in focus mode, matched
background rates) and steps the selected detector one row at a time,
reporting the first change-point trigger it finds.

Examples:
  focustrigger --mode focusses --input counts.csv --threshold-std 5 --mu-min 1.5 --alpha 0.3 --m 16
  focustrigger --mode bft --input counts4.csv --majority 3 --json out.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), o)
		},
	}

	root.Flags().StringVar(&o.mode, "mode", "focusses", "detector to run: focus, focusses, or bft")
	root.Flags().StringVar(&o.input, "input", "", "path to input CSV (required)")
	root.Flags().Float64Var(&o.thresholdStd, "threshold-std", 5.0, "trigger threshold, in standard deviations")
	root.Flags().Float64Var(&o.muMin, "mu-min", 1.5, "minimum detectable rate ratio")
	root.Flags().Float64Var(&o.alpha, "alpha", 0.3, "SES smoothing factor in [0,1], ignored in focus mode")
	root.Flags().IntVar(&o.m, "m", 16, "count queue depth (background delay), ignored in focus mode")
	root.Flags().IntVar(&o.sleep, "sleep", 0, "extra warm-up steps before testing starts, ignored in focus mode")
	root.Flags().IntVar(&o.majority, "majority", 3, "votes needed to trigger, bft mode only")
	root.Flags().StringVar(&o.csvPath, "csv", "", "write the detected changepoint to this CSV file")
	root.Flags().StringVar(&o.jsonPath, "json", "", "write the detected changepoint to this JSON file")
	root.Flags().BoolVar(&o.verbose, "verbose", false, "log detector state at every tick")
	root.Flags().StringVar(&o.metricsAddr, "metrics-addr", "", "serve Prometheus metrics at this address (e.g. :9090)")

	if err := root.Execute(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, o opts) error {
	if o.input == "" {
		return fmt.Errorf("--input is required")
	}

	if o.metricsAddr != "" {
		telemetry.Enable(o.metricsAddr)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	f, err := os.Open(o.input)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	logger := slog.Default()

	var row changeRow
	var triggered bool

	switch o.mode {
	case "focus":
		row, triggered, err = runFocus(ctx, o, f, logger)
	case "focusses":
		row, triggered, err = runFocusSES(ctx, o, f, logger)
	case "bft":
		row, triggered, err = runBFT(ctx, o, f, logger)
	default:
		return fmt.Errorf("unknown mode %q: want focus, focusses, or bft", o.mode)
	}
	if err != nil {
		return err
	}

	printSummary(o.mode, row, triggered)

	if o.csvPath != "" {
		if err := writeCSV(o.csvPath, row, triggered); err != nil {
			return fmt.Errorf("write csv: %w", err)
		}
	}
	if o.jsonPath != "" {
		if err := writeJSON(o.jsonPath, row, triggered); err != nil {
			return fmt.Errorf("write json: %w", err)
		}
	}
	return nil
}

// readFocusInput reads every (count, background) row of the CSV, the
// shape pkg/offline.Focus needs up front since it drives the whole
// series itself rather than being stepped row by row.
func readFocusInput(ctx context.Context, f *os.File) (xs []int64, bs []float64, err error) {
	r := csv.NewReader(f)
	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		rec, err := r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return xs, bs, nil
			}
			return nil, nil, fmt.Errorf("read input: %w", err)
		}
		x, b, err := parseCountBackground(rec)
		if err != nil {
			return nil, nil, err
		}
		xs = append(xs, x)
		bs = append(bs, b)
	}
}

// readCountInput reads every count column of the CSV, the shape
// pkg/offline.FocusSES needs.
func readCountInput(ctx context.Context, f *os.File) (xs []int64, err error) {
	r := csv.NewReader(f)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return xs, nil
			}
			return nil, fmt.Errorf("read input: %w", err)
		}
		x, err := parseCount(rec)
		if err != nil {
			return nil, err
		}
		xs = append(xs, x)
	}
}

// readRow4Input reads every bft.DetectorsNumber-wide row of the CSV, the
// shape pkg/offline.BFT needs.
func readRow4Input(ctx context.Context, f *os.File) (rows [][bft.DetectorsNumber]int64, err error) {
	r := csv.NewReader(f)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return rows, nil
			}
			return nil, fmt.Errorf("read input: %w", err)
		}
		row, err := parseRow4(rec)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
}

func runFocus(ctx context.Context, o opts, f *os.File, logger *slog.Logger) (changeRow, bool, error) {
	xs, bs, err := readFocusInput(ctx, f)
	if err != nil {
		return changeRow{}, false, err
	}

	cp, triggered, err := offline.Focus(o.thresholdStd, o.muMin, xs, bs,
		offline.WithFocusContext(ctx),
		offline.WithFocusDetectorOptions(focus.WithCurveStackOptions(curvestack.WithOverflowObserver(telemetry.ObserveOverflow))),
		offline.WithFocusStepObserver(func(t int, det *focus.Focus, x int64, b float64) {
			if o.verbose {
				det.LogState(logger, int64(t), x, b)
			}
		}),
	)
	if err != nil {
		return changeRow{}, false, fmt.Errorf("tick %d: %w", cp.Triggertime, err)
	}
	if triggered {
		telemetry.ObserveTrigger(cp.SignificanceStd)
	}
	return changeRow{
		Triggertime:     cp.Triggertime,
		Changepoint:     cp.Changepoint,
		SignificanceStd: cp.SignificanceStd,
	}, triggered, nil
}

func runFocusSES(ctx context.Context, o opts, f *os.File, logger *slog.Logger) (changeRow, bool, error) {
	xs, err := readCountInput(ctx, f)
	if err != nil {
		return changeRow{}, false, err
	}

	cp, triggered, err := offline.FocusSES(o.thresholdStd, o.muMin, o.alpha, o.m, o.sleep, xs,
		offline.WithFocusSESContext(ctx),
		offline.WithFocusSESDetectorOptions(focusses.WithFocusOptions(
			focus.WithCurveStackOptions(curvestack.WithOverflowObserver(telemetry.ObserveOverflow)))),
		offline.WithFocusSESStepObserver(func(t int, det *focusses.FocusSES, x int64) {
			if o.verbose {
				det.LogState(logger, int64(t), x)
			}
		}),
	)
	if err != nil {
		return changeRow{}, false, fmt.Errorf("tick %d: %w", cp.Triggertime, err)
	}
	if triggered {
		telemetry.ObserveTrigger(cp.SignificanceStd)
	}
	return changeRow{
		Triggertime:     cp.Triggertime,
		Changepoint:     cp.Changepoint,
		SignificanceStd: cp.SignificanceStd,
	}, triggered, nil
}

func runBFT(ctx context.Context, o opts, f *os.File, logger *slog.Logger) (changeRow, bool, error) {
	rows, err := readRow4Input(ctx, f)
	if err != nil {
		return changeRow{}, false, err
	}

	res, err := offline.BFT(o.thresholdStd, o.muMin, o.alpha, o.m, o.sleep, o.majority, rows,
		offline.WithBFTContext(ctx),
		offline.WithBFTDetectorOptions(
			bft.WithDeadDetectorObserver(telemetry.ObserveDeadDetectors),
			bft.WithDetectorOptions(focusses.WithFocusOptions(
				focus.WithCurveStackOptions(curvestack.WithOverflowObserver(telemetry.ObserveOverflow))))),
		offline.WithBFTStepObserver(func(t int, det *bft.BFT, xs [bft.DetectorsNumber]int64) {
			if o.verbose {
				det.LogState(logger, int64(t), xs)
			}
		}),
	)
	if err != nil {
		return changeRow{Dead: res.Dead}, false, fmt.Errorf("tick %d: %w", res.Changepoint.Triggertime, err)
	}
	if res.Triggered {
		telemetry.ObserveTrigger(res.Changepoint.SignificanceStd)
	}
	return changeRow{
		Triggertime:     res.Changepoint.Triggertime,
		Changepoint:     res.Changepoint.Changepoint,
		SignificanceStd: res.Changepoint.SignificanceStd,
		Dead:            res.Dead,
	}, res.Triggered, nil
}

func parseCount(rec []string) (int64, error) {
	if len(rec) < 1 {
		return 0, fmt.Errorf("expected at least 1 column, got %d", len(rec))
	}
	return strconv.ParseInt(rec[0], 10, 64)
}

func parseCountBackground(rec []string) (int64, float64, error) {
	if len(rec) < 2 {
		return 0, 0, fmt.Errorf("expected 2 columns (count, background), got %d", len(rec))
	}
	x, err := strconv.ParseInt(rec[0], 10, 64)
	if err != nil {
		return 0, 0, err
	}
	b, err := strconv.ParseFloat(rec[1], 64)
	if err != nil {
		return 0, 0, err
	}
	return x, b, nil
}

func parseRow4(rec []string) ([bft.DetectorsNumber]int64, error) {
	var xs [bft.DetectorsNumber]int64
	if len(rec) < bft.DetectorsNumber {
		return xs, fmt.Errorf("expected %d columns, got %d", bft.DetectorsNumber, len(rec))
	}
	for i := 0; i < bft.DetectorsNumber; i++ {
		n, err := strconv.ParseInt(rec[i], 10, 64)
		if err != nil {
			return xs, err
		}
		xs[i] = n
	}
	return xs, nil
}

func printSummary(mode string, row changeRow, triggered bool) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "mode\ttriggered\tchangepoint\ttriggertime\tsignificance_std\n")
	fmt.Fprintf(tw, "%s\t%t\t%d\t%d\t%.3f\n", mode, triggered, row.Changepoint, row.Triggertime, row.SignificanceStd)
	tw.Flush()
}

func writeCSV(path string, row changeRow, triggered bool) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()
	if err := w.Write([]string{"triggered", "changepoint", "triggertime", "significance_std", "dead"}); err != nil {
		return err
	}
	return w.Write([]string{
		strconv.FormatBool(triggered),
		strconv.FormatUint(row.Changepoint, 10),
		strconv.FormatUint(row.Triggertime, 10),
		strconv.FormatFloat(row.SignificanceStd, 'f', -1, 64),
		strconv.FormatUint(uint64(row.Dead), 10),
	})
}

func writeJSON(path string, row changeRow, triggered bool) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	out := struct {
		Triggered bool `json:"triggered"`
		changeRow
	}{Triggered: triggered, changeRow: row}

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

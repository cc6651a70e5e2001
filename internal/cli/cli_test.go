package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"

	"pattern-tracker/internal/analysis"
	"pattern-tracker/internal/analysis/pipeline"
	"pattern-tracker/internal/config"
	apperrors "pattern-tracker/internal/errors"
	"pattern-tracker/internal/models"
	"pattern-tracker/internal/testutil"
)

func zigzag(n int) []models.Candle {
	steps := make([]float64, n-1)
	for i := range steps {
		if (i/6)%2 == 0 {
			steps[i] = 1.2
		} else {
			steps[i] = -1.0
		}
	}
	return testutil.FromCloses(testutil.Walk(steps), 1000)
}

func writeJSON(t *testing.T, dir, name string, v interface{}) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func writeCSV(t *testing.T, dir string, candles []models.Candle) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("time,open,high,low,close,volume\n")
	for _, c := range candles {
		fmt.Fprintf(&b, "%s,%g,%g,%g,%g,%g\n", c.Timestamp.Format(time.RFC3339), c.Open, c.High, c.Low, c.Close, c.Volume)
	}
	path := filepath.Join(dir, "candles.csv")
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// shippedLibrary is the knowledge base at the module root.
var shippedLibrary = filepath.Join("..", "..", "data", "pattern_library.json")

// run executes the CLI against a fresh config directory and returns stdout.
func run(t *testing.T, cfgDir string, args ...string) (string, error) {
	t.Helper()
	return runWith(t, cfgDir, func(cfg *config.Config) {}, args...)
}

// runWith is run with a hook to adjust the loaded configuration.
func runWith(t *testing.T, cfgDir string, adjust func(*config.Config), args ...string) (string, error) {
	t.Helper()
	cfg, err := config.Load(cfgDir)
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	cfg.Library.Path = shippedLibrary
	adjust(cfg)
	root := NewRootCmd(cfg, zerolog.Nop())
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err = root.Execute()
	return out.String(), err
}

func TestParseCandleTime(t *testing.T) {
	want := time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC)
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2024-03-05T14:30:00Z", want},
		{"2024-03-05 14:30:00", want},
		{"2024-03-05T14:30:00", want},
		{"2024-03-05", time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)},
		{strconv.FormatInt(want.Unix(), 10), want},
		{"  2024-03-05  ", time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := parseCandleTime(tt.in)
		if err != nil {
			t.Errorf("parseCandleTime(%q): %v", tt.in, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("parseCandleTime(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	if _, err := parseCandleTime("05/03/2024"); err == nil {
		t.Error("expected an error for an unsupported layout")
	}
}

// Property: every unix timestamp parses back to the same instant.
func TestProperty_UnixTimestampsRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("unix seconds parse exactly", prop.ForAll(
		func(secs int64) bool {
			got, err := parseCandleTime(strconv.FormatInt(secs, 10))
			return err == nil && got.Equal(time.Unix(secs, 0))
		},
		gen.Int64Range(0, 4102444800),
	))

	properties.TestingRun(t)
}

func TestLoadCandleFile_Formats(t *testing.T) {
	dir := t.TempDir()
	candles := zigzag(30)

	arrayPath := writeJSON(t, dir, "array.json", candles)
	objectPath := writeJSON(t, dir, "object.json", candleFile{Symbol: "ACME", Timeframe: "1H", Candles: candles})
	csvPath := writeCSV(t, dir, candles)

	for _, path := range []string{arrayPath, objectPath, csvPath} {
		file, err := loadCandleFile(path)
		if err != nil {
			t.Fatalf("%s: %v", filepath.Base(path), err)
		}
		if len(file.Candles) != len(candles) {
			t.Fatalf("%s: got %d candles", filepath.Base(path), len(file.Candles))
		}
		last := file.Candles[len(file.Candles)-1]
		if !last.Timestamp.Equal(candles[len(candles)-1].Timestamp) {
			t.Errorf("%s: last timestamp %v", filepath.Base(path), last.Timestamp)
		}
	}

	file, _ := loadCandleFile(objectPath)
	sym, tf, err := resolveSeries(file, "", "")
	if err != nil || sym != "ACME" || tf != models.Timeframe("1H") {
		t.Errorf("resolveSeries from file = %q %q %v", sym, tf, err)
	}
	sym, _, err = resolveSeries(file, "other", "")
	if err != nil || sym != "OTHER" {
		t.Errorf("flag override = %q %v", sym, err)
	}
}

func TestLoadCandleFile_Errors(t *testing.T) {
	dir := t.TempDir()

	empty := writeJSON(t, dir, "empty.json", []models.Candle{})
	if _, err := loadCandleFile(empty); !errors.Is(err, apperrors.ErrInsufficientData) {
		t.Errorf("expected ErrInsufficientData, got %v", err)
	}

	bad := filepath.Join(dir, "bad.csv")
	if err := os.WriteFile(bad, []byte("time,open,high,low,close,volume\nyesterday,1,2,0.5,1.5,10\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := loadCandleFile(bad); err == nil {
		t.Error("expected a timestamp error")
	}

	if _, err := loadCandleFile(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("expected a read error")
	}

	file := &candleFile{Candles: zigzag(10)}
	if _, _, err := resolveSeries(file, "", "1H"); !errors.Is(err, apperrors.ErrConfigInvalid) {
		t.Errorf("missing symbol should be a validation error, got %v", err)
	}
	if _, _, err := resolveSeries(file, "ACME", "7m"); !errors.Is(err, apperrors.ErrUnknownTimeframe) {
		t.Errorf("expected ErrUnknownTimeframe, got %v", err)
	}
}

func TestAnalyzeCmd_JSON(t *testing.T) {
	cfgDir := t.TempDir()
	path := writeJSON(t, t.TempDir(), "acme.json", candleFile{Symbol: "acme", Timeframe: "1H", Candles: zigzag(120)})

	out, err := run(t, cfgDir, "analyze", path, "--json")
	if err != nil {
		t.Fatalf("analyze: %v\n%s", err, out)
	}
	var res pipeline.AnalysisResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if res.Symbol != "ACME" || res.Timeframe != models.Timeframe("1H") || res.Summary == "" {
		t.Errorf("unexpected result header %+v", res)
	}
}

func TestScanCmd_RanksFilesAndReportsFailures(t *testing.T) {
	dir := t.TempDir()
	acme := writeJSON(t, dir, "acme.json", candleFile{Symbol: "acme", Timeframe: "1H", Candles: zigzag(120)})
	beta := writeJSON(t, dir, "beta.json", zigzag(80))
	missing := filepath.Join(dir, "missing.json")

	out, err := run(t, t.TempDir(), "scan", missing, beta, acme, "--timeframe", "1d", "--workers", "2", "--json")
	if err != nil {
		t.Fatalf("scan: %v\n%s", err, out)
	}
	var rows []ScanRow
	if err := json.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[2].File != missing || rows[2].Error == "" {
		t.Errorf("failed file should be ranked last with its error, got %+v", rows[2])
	}
	bySymbol := map[string]ScanRow{}
	for _, r := range rows[:2] {
		if r.Error != "" {
			t.Errorf("unexpected error for %s: %s", r.File, r.Error)
		}
		bySymbol[r.Symbol] = r
	}
	if bySymbol["ACME"].Timeframe != "1H" {
		t.Errorf("file timeframe should win over the flag, got %q", bySymbol["ACME"].Timeframe)
	}
	if bySymbol["BETA"].Timeframe != "1d" {
		t.Errorf("bare array should use the flag timeframe and file name, got %+v", bySymbol["BETA"])
	}
}

func TestRankScanRows(t *testing.T) {
	rows := []ScanRow{
		{File: "c", Error: "boom"},
		{File: "b"},
		{File: "a", Top: &analysis.Pattern{Confidence: 55}},
		{File: "d", Top: &analysis.Pattern{Confidence: 80}},
		{File: "a2"},
	}
	rankScanRows(rows)
	want := []string{"d", "a", "a2", "b", "c"}
	for i, w := range want {
		if rows[i].File != w {
			t.Errorf("position %d: got %s, want %s", i, rows[i].File, w)
		}
	}
}

func TestAnalyzeCmd_CorruptLibraryFailsStartup(t *testing.T) {
	dir := t.TempDir()
	path := writeJSON(t, dir, "acme.json", candleFile{Symbol: "acme", Timeframe: "1d", Candles: zigzag(80)})
	corrupt := filepath.Join(dir, "library.json")
	if err := os.WriteFile(corrupt, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		path string
	}{
		{"corrupt", corrupt},
		{"missing", filepath.Join(dir, "absent.json")},
	}
	for _, tt := range tests {
		_, err := runWith(t, t.TempDir(), func(cfg *config.Config) { cfg.Library.Path = tt.path }, "analyze", path, "--json")
		if !errors.Is(err, apperrors.ErrLibraryLoad) {
			t.Errorf("%s library: expected ErrLibraryLoad, got %v", tt.name, err)
		}
	}

	out, err := runWith(t, t.TempDir(), func(cfg *config.Config) {
		cfg.Library.Enabled = false
		cfg.Library.Path = corrupt
	}, "analyze", path, "--json")
	if err != nil {
		t.Fatalf("disabled library should not be loaded: %v\n%s", err, out)
	}
}

func TestApp_BuildRequiresLibrary(t *testing.T) {
	cfg, err := config.Load(t.TempDir())
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	corrupt := filepath.Join(t.TempDir(), "library.json")
	if err := os.WriteFile(corrupt, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg.Library.Path = corrupt

	app := &App{Config: cfg, Logger: zerolog.Nop()}
	defer app.Close()
	if err := app.build(context.Background()); !errors.Is(err, apperrors.ErrLibraryLoad) {
		t.Fatalf("expected ErrLibraryLoad, got %v", err)
	}
	if app.Tracker != nil || app.Repository != nil {
		t.Error("a failed library load must stop wiring before anything else opens")
	}

	cfg.Library.Path = shippedLibrary
	if err := app.build(context.Background()); err != nil {
		t.Fatalf("build with the shipped library: %v", err)
	}
	if app.Library == nil || app.Library.Len() == 0 || app.Tracker == nil {
		t.Error("expected the library and tracker to be wired")
	}
}

func TestAnalyzeCmd_RequiresInput(t *testing.T) {
	if _, err := run(t, t.TempDir(), "analyze"); !errors.Is(err, apperrors.ErrConfigInvalid) {
		t.Errorf("expected validation error without a file, got %v", err)
	}
	if _, err := run(t, t.TempDir(), "analyze", "--from-store", "--symbol", "ACME"); !errors.Is(err, apperrors.ErrConfigInvalid) {
		t.Errorf("expected validation error without a timeframe, got %v", err)
	}
}

func TestEvaluateCmd_ReportsLifecycle(t *testing.T) {
	cfgDir := t.TempDir()
	path := writeJSON(t, t.TempDir(), "acme.json", zigzag(120))

	out, err := run(t, cfgDir, "evaluate", path, "-s", "ACME", "-t", "1H", "--save-candles", "--json")
	if err != nil {
		t.Fatalf("evaluate: %v\n%s", err, out)
	}
	var report struct {
		Analysis  *pipeline.AnalysisResult `json:"analysis"`
		Lifecycle struct {
			Commands []string `json:"chart_commands"`
		} `json:"lifecycle"`
		StructureCommands []string `json:"structure_commands"`
	}
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if report.Analysis == nil || report.Analysis.Symbol != "ACME" {
		t.Fatalf("missing analysis: %s", out)
	}

	// --save-candles makes the series available to --from-store.
	out, err = run(t, cfgDir, "analyze", "--from-store", "-s", "acme", "-t", "1H", "--json")
	if err != nil {
		t.Fatalf("analyze --from-store: %v\n%s", err, out)
	}
	var res pipeline.AnalysisResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.LastPrice != report.Analysis.LastPrice {
		t.Errorf("stored series last price %v, want %v", res.LastPrice, report.Analysis.LastPrice)
	}
}

func TestCandlesCmd_ImportAndShow(t *testing.T) {
	cfgDir := t.TempDir()
	candles := zigzag(40)
	path := writeCSV(t, t.TempDir(), candles)

	out, err := run(t, cfgDir, "candles", "import", path, "-s", "ACME", "-t", "1d", "--json")
	if err != nil {
		t.Fatalf("import: %v\n%s", err, out)
	}
	if !strings.Contains(out, `"imported": 40`) {
		t.Errorf("unexpected import output %s", out)
	}

	out, err = run(t, cfgDir, "candles", "show", "acme", "-t", "1d", "-n", "5", "--json")
	if err != nil {
		t.Fatalf("show: %v\n%s", err, out)
	}
	var body struct {
		Candles []models.Candle `json:"candles"`
	}
	if err := json.Unmarshal([]byte(out), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Candles) != 5 || body.Candles[4].Close != candles[39].Close {
		t.Errorf("unexpected stored candles %+v", body.Candles)
	}
}

func TestSweepCmd_EmptyRepository(t *testing.T) {
	out, err := run(t, t.TempDir(), "sweep", "--json")
	if err != nil {
		t.Fatalf("sweep: %v\n%s", err, out)
	}
	if !strings.Contains(out, `"evaluated": 0`) {
		t.Errorf("unexpected sweep output %s", out)
	}
}

func TestConfigCmd(t *testing.T) {
	cfgDir := t.TempDir()
	out, err := run(t, cfgDir, "config", "path")
	if err != nil || strings.TrimSpace(out) != cfgDir {
		t.Errorf("config path = %q, %v", out, err)
	}

	out, err = run(t, cfgDir, "config", "rules")
	if err != nil || !strings.Contains(out, "head_and_shoulders") {
		t.Errorf("config rules = %q, %v", out, err)
	}

	if _, err := run(t, cfgDir, "config", "validate"); err != nil {
		t.Errorf("config validate: %v", err)
	}
}

func TestVersionCmd(t *testing.T) {
	out, err := run(t, t.TempDir(), "version", "--json")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, Version) {
		t.Errorf("version output %q", out)
	}
}

func TestTable_AlignsColumns(t *testing.T) {
	var buf bytes.Buffer
	output := &Output{writer: &buf}
	table := NewTable(output, "Type", "Conf")
	table.AddRow("double_bottom", "72.0")
	table.AddRow("flag", "60.5")
	table.Render()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 4 lines, got %d: %q", len(lines), buf.String())
	}
	if lines[0] != "Type           Conf" || lines[3] != "flag           60.5" {
		t.Errorf("misaligned table:\n%s", buf.String())
	}
}

// Package main implements the factoryml binary.
// It runs the long-lived serving daemon (serve) as well as one-shot
// operational commands for validation, prediction, simulation, and
// model lifecycle management.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/factoryml/factoryml/internal/app"
	"github.com/factoryml/factoryml/internal/config"
	"github.com/factoryml/factoryml/internal/dataset"
	"github.com/factoryml/factoryml/internal/training"
	"github.com/factoryml/factoryml/internal/validate"
	"github.com/factoryml/factoryml/pkg/types"
)

var (
	version = "dev"
	commit  = "unknown"
)

func usage() {
	fmt.Fprintf(os.Stderr, "FactoryML - Offline Quality Prediction For The Factory Floor\n\n")
	fmt.Fprintf(os.Stderr, "Usage: factoryml <command> [options]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  serve      Run the serving daemon (watcher, registry, engine)\n")
	fmt.Fprintf(os.Stderr, "  validate   Validate a CSV dataset against the schema\n")
	fmt.Fprintf(os.Stderr, "  predict    Run predictions over a CSV dataset\n")
	fmt.Fprintf(os.Stderr, "  simulate   What-if prediction with column overrides\n")
	fmt.Fprintf(os.Stderr, "  shadow     Compare a candidate model against CURRENT\n")
	fmt.Fprintf(os.Stderr, "  switch     Promote a model file to CURRENT\n")
	fmt.Fprintf(os.Stderr, "  archive    Archive the CURRENT model\n")
	fmt.Fprintf(os.Stderr, "  archives   List archived models\n")
	fmt.Fprintf(os.Stderr, "  history    List recorded model switches\n")
	fmt.Fprintf(os.Stderr, "  restore    Restore an archived model from the mirror\n")
	fmt.Fprintf(os.Stderr, "  mirror     List objects held by the archive mirror\n")
	fmt.Fprintf(os.Stderr, "  prune      Remove archive copies beyond the newest N\n")
	fmt.Fprintf(os.Stderr, "  train      Run a training job and wait for it\n")
	fmt.Fprintf(os.Stderr, "  version    Show version information\n")
	fmt.Fprintf(os.Stderr, "\nCommon options (every command):\n")
	fmt.Fprintf(os.Stderr, "  -config    Path to configuration file (YAML or JSON)\n")
	fmt.Fprintf(os.Stderr, "  -data-dir  Base directory for all data files\n")
	fmt.Fprintf(os.Stderr, "\nExamples:\n")
	fmt.Fprintf(os.Stderr, "  factoryml serve -data-dir /var/lib/factoryml\n")
	fmt.Fprintf(os.Stderr, "  factoryml validate -data batch.csv\n")
	fmt.Fprintf(os.Stderr, "  factoryml simulate -data batch.csv -set temperature=95.0\n")
	fmt.Fprintf(os.Stderr, "  factoryml switch -model /tmp/model_v2.onnx\n")
	fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
	fmt.Fprintf(os.Stderr, "  FACTORYML_DATA_DIR       Base directory for data files\n")
	fmt.Fprintf(os.Stderr, "  FACTORYML_SCHEMA_PATH    Column schema file\n")
	fmt.Fprintf(os.Stderr, "  FACTORYML_STORAGE_TYPE   Archive mirror type (none, local, s3)\n")
}

func main() {
	log.SetFlags(log.LstdFlags)

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "serve":
		err = runServe(args)
	case "validate":
		err = runValidate(args)
	case "predict":
		err = runPredict(args)
	case "simulate":
		err = runSimulate(args)
	case "shadow":
		err = runShadow(args)
	case "switch":
		err = runSwitch(args)
	case "archive":
		err = runArchive(args)
	case "archives":
		err = runArchives(args)
	case "history":
		err = runHistory(args)
	case "restore":
		err = runRestore(args)
	case "mirror":
		err = runMirror(args)
	case "prune":
		err = runPrune(args)
	case "train":
		err = runTrain(args)
	case "version":
		fmt.Printf("factoryml version %s (commit: %s)\n", version, commit)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s failed: %v", cmd, err)
	}
}

// commonFlags registers the flags shared by every command.
func commonFlags(fs *flag.FlagSet) (configFile, dataDir *string) {
	configFile = fs.String("config", "", "Path to configuration file (YAML or JSON)")
	dataDir = fs.String("data-dir", "", "Base directory for all data files")
	return
}

// loadConfig loads configuration from file, environment, and flags.
func loadConfig(configFile, dataDir string) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	config.LoadFromEnv(cfg)

	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	cfg.Resolve()
	return cfg, nil
}

// startApp builds and starts the full application for commands that
// need a loaded model.
func startApp(ctx context.Context, configFile, dataDir string) (*app.App, error) {
	cfg, err := loadConfig(configFile, dataDir)
	if err != nil {
		return nil, err
	}
	a, err := app.New(cfg)
	if err != nil {
		return nil, err
	}
	if err := a.Start(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configFile, dataDir := commonFlags(fs)
	fs.Parse(args)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := startApp(ctx, *configFile, *dataDir)
	if err != nil {
		return err
	}

	printBanner(a)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	log.Printf("received signal: %v", sig)

	return a.Stop()
}

func printBanner(a *app.App) {
	log.Printf("╔═══════════════════════════════════════════════════════════╗")
	log.Printf("║                       FACTORYML                           ║")
	log.Printf("║     Offline Quality Prediction For The Factory Floor      ║")
	log.Printf("╚═══════════════════════════════════════════════════════════╝")
	log.Printf("")
	log.Printf("Schema version: %s", a.Schema().Version)
	log.Printf("Current model:  %s", a.Engine().CurrentPath())
	log.Printf("")
}

func runValidate(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configFile, dataDir := commonFlags(fs)
	dataPath := fs.String("data", "", "CSV dataset to validate")
	fs.Parse(args)

	if *dataPath == "" {
		return fmt.Errorf("-data is required")
	}

	cfg, err := loadConfig(*configFile, *dataDir)
	if err != nil {
		return err
	}
	schema, err := types.LoadSchema(cfg.SchemaPath)
	if err != nil {
		return err
	}

	result, err := dataset.LoadCSV(*dataPath, schema)
	if err != nil {
		return err
	}
	for _, w := range result.Warnings {
		log.Printf("warning: %s", w)
	}

	errs := validate.NewValidator(schema).Validate(result.Rows)
	if len(errs) == 0 {
		fmt.Printf("OK: %d rows valid\n", len(result.Rows))
		return nil
	}
	for _, e := range errs {
		fmt.Println(e.String())
	}
	return fmt.Errorf("%d validation errors in %d rows", len(errs), len(result.Rows))
}

// loadRecords validates and coerces a CSV dataset into typed records.
func loadRecords(a *app.App, dataPath string) ([]*types.InputRecord, error) {
	result, err := dataset.LoadCSV(dataPath, a.Schema())
	if err != nil {
		return nil, err
	}
	for _, w := range result.Warnings {
		log.Printf("warning: %s", w)
	}

	records, errs := a.Validator().CoerceRows(result.Rows)
	if len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintln(os.Stderr, e.String())
		}
		return nil, fmt.Errorf("%d validation errors", len(errs))
	}
	return records, nil
}

func runPredict(args []string) error {
	fs := flag.NewFlagSet("predict", flag.ExitOnError)
	configFile, dataDir := commonFlags(fs)
	dataPath := fs.String("data", "", "CSV dataset to predict")
	fs.Parse(args)

	if *dataPath == "" {
		return fmt.Errorf("-data is required")
	}

	ctx := context.Background()
	a, err := startApp(ctx, *configFile, *dataDir)
	if err != nil {
		return err
	}
	defer a.Stop()

	records, err := loadRecords(a, *dataPath)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	for i, rec := range records {
		numeric, categorical, err := a.Transformer().ToFeatureVector([]*types.InputRecord{rec})
		if err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
		result, err := a.Engine().Predict(ctx, numeric, categorical, false)
		if err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
		if err := enc.Encode(result); err != nil {
			return err
		}
	}
	return nil
}

// overrideFlags collects repeated -set col=value flags.
type overrideFlags []string

func (o *overrideFlags) String() string { return strings.Join(*o, ",") }

func (o *overrideFlags) Set(v string) error {
	if !strings.Contains(v, "=") {
		return fmt.Errorf("override must be column=value, got %q", v)
	}
	*o = append(*o, v)
	return nil
}

func runSimulate(args []string) error {
	fs := flag.NewFlagSet("simulate", flag.ExitOnError)
	configFile, dataDir := commonFlags(fs)
	dataPath := fs.String("data", "", "CSV dataset; the first row is the simulation baseline")
	rowIdx := fs.Int("row", 0, "Row index to simulate")
	var overrides overrideFlags
	fs.Var(&overrides, "set", "Column override as column=value (repeatable)")
	fs.Parse(args)

	if *dataPath == "" {
		return fmt.Errorf("-data is required")
	}

	ctx := context.Background()
	a, err := startApp(ctx, *configFile, *dataDir)
	if err != nil {
		return err
	}
	defer a.Stop()

	records, err := loadRecords(a, *dataPath)
	if err != nil {
		return err
	}
	if *rowIdx < 0 || *rowIdx >= len(records) {
		return fmt.Errorf("row %d out of range, dataset has %d rows", *rowIdx, len(records))
	}
	original := records[*rowIdx]

	overrideValues, err := coerceOverrides(a, *rowIdx, overrides)
	if err != nil {
		return err
	}

	baseline, err := a.Simulator().Simulate(ctx, original, nil)
	if err != nil {
		return err
	}
	simulated, err := a.Simulator().Simulate(ctx, original, overrideValues)
	if err != nil {
		return err
	}

	out := map[string]*types.InferenceResult{"baseline": baseline, "simulated": simulated}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// coerceOverrides turns textual column=value overrides into typed
// values by running them through the schema coercion used for CSV
// cells. The baseline row supplies the cells not being overridden.
func coerceOverrides(a *app.App, rowIdx int, overrides overrideFlags) (map[string]types.Value, error) {
	if len(overrides) == 0 {
		return nil, nil
	}

	schema := a.Schema()
	names := make([]string, 0, len(overrides))
	row := make(types.Row, len(schema.Columns))
	for _, o := range overrides {
		name, raw, _ := strings.Cut(o, "=")
		found := false
		for j, col := range schema.Columns {
			if col.Name == name {
				row[j] = raw
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown column in override: %s", name)
		}
		names = append(names, name)
	}

	rec, errs := a.Validator().CoerceRow(row, rowIdx)
	for _, e := range errs {
		for _, name := range names {
			if e.ColumnName == name {
				return nil, fmt.Errorf("invalid override: %s", e.String())
			}
		}
	}

	values := make(map[string]types.Value, len(names))
	for _, name := range names {
		v, ok := rec.Get(name)
		if !ok {
			return nil, fmt.Errorf("failed to coerce override for %s", name)
		}
		values[name] = v
	}
	return values, nil
}

func runShadow(args []string) error {
	fs := flag.NewFlagSet("shadow", flag.ExitOnError)
	configFile, dataDir := commonFlags(fs)
	modelPath := fs.String("model", "", "Candidate model file")
	dataPath := fs.String("data", "", "CSV dataset to compare on")
	fs.Parse(args)

	if *modelPath == "" || *dataPath == "" {
		return fmt.Errorf("-model and -data are required")
	}

	ctx := context.Background()
	a, err := startApp(ctx, *configFile, *dataDir)
	if err != nil {
		return err
	}
	defer a.Stop()

	if err := a.Engine().SetCandidate(ctx, *modelPath); err != nil {
		return err
	}

	records, err := loadRecords(a, *dataPath)
	if err != nil {
		return err
	}

	agreements := 0
	maxDelta := 0.0
	enc := json.NewEncoder(os.Stdout)
	for i, rec := range records {
		numeric, categorical, err := a.Transformer().ToFeatureVector([]*types.InputRecord{rec})
		if err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
		report, err := a.Engine().ShadowCompare(ctx, numeric, categorical)
		if err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
		if report.LabelsAgree {
			agreements++
		}
		if report.MaxProbabilityDelta > maxDelta {
			maxDelta = report.MaxProbabilityDelta
		}
		if err := enc.Encode(report); err != nil {
			return err
		}
	}
	log.Printf("shadow summary: %d/%d labels agree, max probability delta %.4f",
		agreements, len(records), maxDelta)
	return nil
}

func runSwitch(args []string) error {
	fs := flag.NewFlagSet("switch", flag.ExitOnError)
	configFile, dataDir := commonFlags(fs)
	modelPath := fs.String("model", "", "Model file to promote to CURRENT")
	fs.Parse(args)

	if *modelPath == "" {
		return fmt.Errorf("-model is required")
	}

	ctx := context.Background()
	a, err := startApp(ctx, *configFile, *dataDir)
	if err != nil {
		return err
	}
	defer a.Stop()

	if err := a.Manager().SwitchModel(ctx, *modelPath); err != nil {
		return err
	}
	fmt.Printf("switched CURRENT to %s\n", *modelPath)
	return nil
}

func runArchive(args []string) error {
	fs := flag.NewFlagSet("archive", flag.ExitOnError)
	configFile, dataDir := commonFlags(fs)
	name := fs.String("name", "model", "Base name for the archived copy")
	fs.Parse(args)

	ctx := context.Background()
	a, err := startApp(ctx, *configFile, *dataDir)
	if err != nil {
		return err
	}
	defer a.Stop()

	entry, err := a.Manager().ArchiveModel(ctx, *name)
	if err != nil {
		return err
	}
	fmt.Printf("archived %s -> %s\n", entry.OriginalPath, entry.ArchivedPath)
	return nil
}

func runArchives(args []string) error {
	fs := flag.NewFlagSet("archives", flag.ExitOnError)
	configFile, dataDir := commonFlags(fs)
	fs.Parse(args)

	ctx := context.Background()
	a, err := startApp(ctx, *configFile, *dataDir)
	if err != nil {
		return err
	}
	defer a.Stop()

	entries, err := a.Manager().ListArchives(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("no archived models")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("%s  %s  %s\n", e.ArchivedAt.Format("2006-01-02 15:04:05"), e.ID, e.ArchivedPath)
	}
	return nil
}

func runHistory(args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	configFile, dataDir := commonFlags(fs)
	fs.Parse(args)

	ctx := context.Background()
	a, err := startApp(ctx, *configFile, *dataDir)
	if err != nil {
		return err
	}
	defer a.Stop()

	switches, err := a.Registry().ListSwitches(ctx)
	if err != nil {
		return err
	}
	if len(switches) == 0 {
		fmt.Println("no recorded model switches")
		return nil
	}
	for _, s := range switches {
		fmt.Printf("%s  %s  %s -> %s\n",
			s.SwitchedAt.Format("2006-01-02 15:04:05"), s.Fingerprint, s.OldPath, s.NewPath)
	}
	return nil
}

func runRestore(args []string) error {
	fs := flag.NewFlagSet("restore", flag.ExitOnError)
	configFile, dataDir := commonFlags(fs)
	object := fs.String("object", "", "Object path in the archive mirror")
	fs.Parse(args)

	if *object == "" {
		return fmt.Errorf("-object is required")
	}

	ctx := context.Background()
	a, err := startApp(ctx, *configFile, *dataDir)
	if err != nil {
		return err
	}
	defer a.Stop()

	localPath, err := a.Manager().RestoreArchive(ctx, *object)
	if err != nil {
		return err
	}
	fmt.Printf("restored %s -> %s\n", *object, localPath)
	return nil
}

func runMirror(args []string) error {
	fs := flag.NewFlagSet("mirror", flag.ExitOnError)
	configFile, dataDir := commonFlags(fs)
	fs.Parse(args)

	ctx := context.Background()
	a, err := startApp(ctx, *configFile, *dataDir)
	if err != nil {
		return err
	}
	defer a.Stop()

	objects, err := a.Manager().ListMirror(ctx)
	if err != nil {
		return err
	}
	if len(objects) == 0 {
		fmt.Println("archive mirror is empty or not configured")
		return nil
	}
	for _, o := range objects {
		fmt.Println(o)
	}
	return nil
}

func runPrune(args []string) error {
	fs := flag.NewFlagSet("prune", flag.ExitOnError)
	configFile, dataDir := commonFlags(fs)
	keep := fs.Int("keep", 5, "Number of newest archive copies to keep")
	fs.Parse(args)

	ctx := context.Background()
	a, err := startApp(ctx, *configFile, *dataDir)
	if err != nil {
		return err
	}
	defer a.Stop()

	removed, err := a.Manager().PruneArchives(ctx, *keep)
	if err != nil {
		return err
	}
	if len(removed) == 0 {
		fmt.Println("nothing to prune")
		return nil
	}
	for _, p := range removed {
		fmt.Printf("removed %s\n", p)
	}
	return nil
}

func runTrain(args []string) error {
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	configFile, dataDir := commonFlags(fs)
	dataPath := fs.String("data", "", "CSV training dataset")
	outputPath := fs.String("output", "", "Output directory for the trained model")
	report := fs.Bool("report", false, "Also generate the trainer's analysis report")
	fs.Parse(args)

	if *dataPath == "" || *outputPath == "" {
		return fmt.Errorf("-data and -output are required")
	}

	cfg, err := loadConfig(*configFile, *dataDir)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	runner := training.NewRunner(
		cfg.Training.Python,
		cfg.Training.Module,
		cfg.Training.ConfigPath,
		cfg.Training.RunDir,
		cfg.Training.Timeout,
	)
	jobs := training.NewJobs(runner)

	id, err := jobs.Submit(context.Background(), training.RunSpec{
		DataPath:   *dataPath,
		OutputPath: *outputPath,
		Report:     *report,
	})
	if err != nil {
		return err
	}
	log.Printf("training job %s started", id)
	jobs.Wait()

	job, err := jobs.Get(id)
	if err != nil {
		return err
	}
	if job.Err != nil {
		return job.Err
	}
	fmt.Printf("training complete: model %s, log %s\n", *outputPath, job.Result.LogPath)
	return nil
}

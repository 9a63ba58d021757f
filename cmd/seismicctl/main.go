package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/config"
	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/logger"
	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/model"
	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/stats"
	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/tuning"
	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/pkg/seismicgraph"
)

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "init":
		return runInit(ctx, args[1:], out)
	case "normalize":
		return runNormalize(ctx, args[1:], out)
	case "predict":
		return runPredict(ctx, args[1:], out)
	case "evaluate":
		return runEvaluate(ctx, args[1:], out)
	case "tune":
		return runTune(ctx, args[1:], out)
	case "models":
		return runModels(ctx, args[1:], out)
	case "weights":
		return runWeights(ctx, args[1:], out)
	case "runs":
		return runRuns(ctx, args[1:], out)
	case "experiments":
		return runExperiments(ctx, args[1:], out)
	case "export":
		return runExport(ctx, args[1:], out)
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: seismicctl <init|normalize|predict|evaluate|tune|models|weights|runs|experiments|export> [flags]", msg)
}

// globalFlags are accepted by every command.
type globalFlags struct {
	configPath string
	storeKind  string
	dbPath     string
}

func (g *globalFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&g.configPath, "config", "", "config file (yaml|json|toml); SEISMIC_* env vars override it")
	fs.StringVar(&g.storeKind, "store", "", "store backend: memory|sqlite (overrides config)")
	fs.StringVar(&g.dbPath, "db-path", "", "sqlite database path (overrides config)")
}

// open resolves the configuration, installs the logger and returns an
// initialized client. The caller closes it.
func (g *globalFlags) open(ctx context.Context) (config.Config, *seismicgraph.Client, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	if g.storeKind != "" {
		cfg.Store.Kind = g.storeKind
	}
	if g.dbPath != "" {
		cfg.Store.Path = g.dbPath
	}
	if err := logger.Init(cfg.LogLevel, cfg.LogConsole, os.Stderr); err != nil {
		return config.Config{}, nil, err
	}

	client, err := seismicgraph.FromConfig(cfg)
	if err != nil {
		return config.Config{}, nil, err
	}
	if err := client.Init(ctx); err != nil {
		_ = client.Close()
		return config.Config{}, nil, err
	}
	return cfg, client, nil
}

// modelFlags pick the model a command runs. Without --model-id a model is
// created from the configured widths, loading --weights when given.
type modelFlags struct {
	modelID string
	weights string
	seed    int64
}

func (m *modelFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&m.modelID, "model-id", "", "stored model id")
	fs.StringVar(&m.weights, "weights", "", "JSON state dict to load into a new model")
	fs.Int64Var(&m.seed, "seed", 1, "initialisation seed for a new model")
}

func (m *modelFlags) resolve(ctx context.Context, client *seismicgraph.Client, cfg config.Config, normDictID string) (string, error) {
	if m.modelID != "" {
		if m.weights != "" {
			return "", errors.New("use either --model-id or --weights, not both")
		}
		return m.modelID, nil
	}
	name := "seismicctl"
	if m.weights != "" {
		name = strings.TrimSuffix(filepath.Base(m.weights), filepath.Ext(m.weights))
	}
	summary, err := client.InitModel(ctx, seismicgraph.InitModelRequest{
		Name:        name,
		Config:      cfg.Model,
		Seed:        m.seed,
		WeightsPath: m.weights,
		NormDictID:  normDictID,
	})
	if err != nil {
		return "", err
	}
	return summary.ID, nil
}

func runInit(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	var g globalFlags
	g.register(fs)
	name := fs.String("name", "graphlstm", "model name")
	seed := fs.Int64("seed", 1, "initialisation seed")
	weights := fs.String("weights", "", "optional JSON state dict to load")
	normDictID := fs.String("norm-dict", "", "optional stored norm dict id")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, client, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.InitModel(ctx, seismicgraph.InitModelRequest{
		Name:        *name,
		Config:      cfg.Model,
		Seed:        *seed,
		WeightsPath: *weights,
		NormDictID:  *normDictID,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "initialized store=%s model_id=%s parameters=%s checksum=%016x\n",
		cfg.Store.Kind, summary.ID, humanize.Comma(int64(summary.Parameters)), summary.Checksum)
	return nil
}

func runNormalize(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("normalize", flag.ContinueOnError)
	var g globalFlags
	g.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, client, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Normalize(ctx, seismicgraph.NormalizeRequest{Data: cfg.Data})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "norm_dict_id=%s train=%d valid=%d test=%d\n", summary.NormDictID, summary.Train, summary.Valid, summary.Test)
	keys := make([]string, 0, len(summary.Ranges))
	for k := range summary.Ranges {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		r := summary.Ranges[k]
		fmt.Fprintf(out, "range key=%s min=%g max=%g\n", k, r.Min(), r.Max())
	}
	return nil
}

func runPredict(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("predict", flag.ContinueOnError)
	var g globalFlags
	var m modelFlags
	g.register(fs)
	m.register(fs)
	folder := fs.String("folder", "", "sample folder holding the structure graph and ground motions")
	normDictID := fs.String("norm-dict", "", "stored norm dict id; computed from the configured data set when the model has none")
	sample := fs.Bool("sample", false, "decode sampled nodes only")
	outPath := fs.String("out", "", "optional JSON output path for the decoded response")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *folder == "" {
		return errors.New("predict requires --folder")
	}

	cfg, client, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	ndID := *normDictID
	if ndID == "" && m.modelID == "" {
		norm, err := client.Normalize(ctx, seismicgraph.NormalizeRequest{Data: cfg.Data})
		if err != nil {
			return err
		}
		ndID = norm.NormDictID
	}
	modelID, err := m.resolve(ctx, client, cfg, ndID)
	if err != nil {
		return err
	}

	pred, err := client.Predict(ctx, seismicgraph.PredictRequest{
		ModelID:      modelID,
		Folder:       *folder,
		GraphType:    cfg.Data.GraphType,
		Timesteps:    cfg.Data.Timesteps,
		NormDictID:   *normDictID,
		Sample:       *sample,
		RandomSample: cfg.Data.RandomSample,
		Seed:         cfg.Data.Seed,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "predicted model_id=%s folder=%s nodes=%d steps=%d components=%d\n",
		pred.ModelID, pred.Folder, pred.Response.D0, pred.Response.D1, pred.Response.D2)

	if *outPath == "" {
		return nil
	}
	type predictionFile struct {
		ModelID  string        `json:"model_id"`
		Folder   string        `json:"folder"`
		Indices  []int         `json:"indices"`
		Response [][][]float64 `json:"response"`
		Truth    [][][]float64 `json:"truth,omitempty"`
	}
	file := predictionFile{ModelID: pred.ModelID, Folder: pred.Folder, Indices: pred.Indices, Response: pred.Response.Nested()}
	if pred.Truth != nil {
		file.Truth = pred.Truth.Nested()
	}
	data, err := json.Marshal(file)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(*outPath), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(*outPath, data, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote %s (%s)\n", *outPath, humanize.Bytes(uint64(len(data))))
	return nil
}

func runEvaluate(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("evaluate", flag.ContinueOnError)
	var g globalFlags
	var m modelFlags
	g.register(fs)
	m.register(fs)
	split := fs.String("split", seismicgraph.SplitTest, "data split: train|valid|test")
	workers := fs.Int("workers", 0, "concurrent forward passes (0 uses GOMAXPROCS)")
	experiment := fs.String("experiment", "", "file the run under this experiment id")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, client, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	modelID, err := m.resolve(ctx, client, cfg, "")
	if err != nil {
		return err
	}
	summary, err := client.Evaluate(ctx, seismicgraph.EvaluateRequest{
		ModelID:    modelID,
		Data:       cfg.Data,
		Eval:       cfg.Eval,
		Split:      *split,
		Workers:    *workers,
		Experiment: *experiment,
	})
	if err != nil {
		return err
	}
	rec := summary.Record
	fmt.Fprintf(out, "evaluated run_id=%s model_id=%s split=%s structures=%d nodes=%s loss=%.6f r2=%.4f peak_r2=%.4f hinge_accuracy=%.4f\n",
		summary.RunID, rec.ModelID, rec.Split, rec.Structures, humanize.Comma(int64(rec.Nodes)), rec.Loss, rec.R2, rec.PeakR2, summary.HingeAccuracy)
	for _, gs := range rec.Groups {
		fmt.Fprintf(out, "group=%s r2=%.4f peak_r2=%.4f\n", gs.Group, gs.R2, gs.PeakR2)
	}
	fmt.Fprintf(out, "artifacts=%s\n", summary.ArtifactsDir)
	return nil
}

func runTune(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("tune", flag.ContinueOnError)
	var g globalFlags
	var m modelFlags
	g.register(fs)
	m.register(fs)
	name := fs.String("name", "", "name of the tuned model (defaults to <parent>-tuned)")
	prefix := fs.String("prefix", "", "parameter name prefix to tune (overrides config)")
	attempts := fs.Int("attempts", 0, "tuning attempts (overrides config)")
	selection := fs.String("selection", "", "candidate selection (overrides config)")
	experiment := fs.String("experiment", "", "file the run under this experiment id")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, client, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	tune := cfg.Tune
	if *prefix != "" {
		tune.Prefix = *prefix
	}
	if *attempts > 0 {
		tune.Attempts = *attempts
	}
	if *selection != "" {
		tune.CandidateSelection = *selection
	}

	modelID, err := m.resolve(ctx, client, cfg, "")
	if err != nil {
		return err
	}
	summary, err := client.Tune(ctx, seismicgraph.TuneRequest{
		ModelID:    modelID,
		Name:       *name,
		Data:       cfg.Data,
		Eval:       cfg.Eval,
		Tune:       tune,
		Experiment: *experiment,
	})
	if err != nil {
		return err
	}
	r := summary.Report
	fmt.Fprintf(out, "tuned run_id=%s parent_id=%s model_id=%s parameters=%s attempts=%d/%d accepted=%d initial_loss=%.6f final_loss=%.6f\n",
		summary.RunID, summary.ParentID, summary.ModelID, humanize.Comma(int64(r.Parameters)),
		r.AttemptsExecuted, r.AttemptsPlanned, r.AcceptedCandidates, -r.InitialFitness, -r.BestFitness)
	return nil
}

func runModels(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("models", flag.ContinueOnError)
	var g globalFlags
	g.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	_, client, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	models, err := client.Models(ctx)
	if err != nil {
		return err
	}
	if len(models) == 0 {
		fmt.Fprintln(out, "no models found")
		return nil
	}
	for _, s := range models {
		fmt.Fprintf(out, "model_id=%s name=%s parameters=%s created=%s norm_dict=%s parent=%s\n",
			s.ID, s.Name, humanize.Comma(int64(s.Parameters)), humanize.Time(s.CreatedAt), orDash(s.NormDictID), orDash(s.ParentID))
	}
	return nil
}

func runWeights(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("weights", flag.ContinueOnError)
	var g globalFlags
	g.register(fs)
	modelID := fs.String("model-id", "", "stored model id")
	outPath := fs.String("out", "", "output JSON path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *modelID == "" || *outPath == "" {
		return errors.New("weights requires --model-id and --out")
	}

	_, client, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	if err := client.ExportWeights(ctx, *modelID, *outPath); err != nil {
		return err
	}
	fmt.Fprintf(out, "exported weights model_id=%s to=%s\n", *modelID, filepath.Clean(*outPath))
	return nil
}

func runRuns(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	var g globalFlags
	g.register(fs)
	limit := fs.Int("limit", 20, "max runs to list")
	modelID := fs.String("model-id", "", "only list runs of this model")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	show := fs.String("show", "", "print the stored artifacts of one run")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	_, client, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	if *show != "" {
		return showRun(ctx, client, *show, *jsonOut, out)
	}

	runs, err := client.Runs(ctx, seismicgraph.RunsRequest{Limit: *limit, ModelID: *modelID})
	if err != nil {
		return err
	}
	if *jsonOut {
		type runsItem struct {
			RunID        string  `json:"run_id"`
			Kind         string  `json:"kind"`
			ModelID      string  `json:"model_id"`
			Split        string  `json:"split"`
			Structures   int     `json:"structures"`
			Loss         float64 `json:"loss"`
			R2           float64 `json:"r2"`
			CreatedAtUTC string  `json:"created_at_utc"`
		}
		items := make([]runsItem, 0, len(runs))
		for _, r := range runs {
			items = append(items, runsItem(r))
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "no runs found")
		return nil
	}
	for _, r := range runs {
		fmt.Fprintf(out, "run_id=%s kind=%s model_id=%s split=%s structures=%d loss=%.6f r2=%.4f created_at=%s\n",
			r.RunID, r.Kind, r.ModelID, r.Split, r.Structures, r.Loss, r.R2, r.CreatedAtUTC)
	}
	return nil
}

func showRun(ctx context.Context, client *seismicgraph.Client, runID string, jsonOut bool, out io.Writer) error {
	run, err := client.Run(ctx, runID)
	if err != nil {
		return err
	}
	if jsonOut {
		type runDetail struct {
			Config      stats.RunConfig        `json:"config"`
			NormDict    model.NormDict         `json:"norm_dict"`
			DataPaths   stats.DataPaths        `json:"data_paths"`
			Metrics     model.EvaluationRecord `json:"metrics"`
			BatchLosses []float64              `json:"batch_losses"`
			Tune        *tuning.TuneReport     `json:"tune,omitempty"`
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(runDetail(run))
	}

	cfg, m := run.Config, run.Metrics
	fmt.Fprintf(out, "run_id=%s kind=%s model_id=%s split=%s dataset=%s timesteps=%d\n",
		cfg.RunID, cfg.Kind, cfg.ModelID, cfg.Split, cfg.Dataset, cfg.Timesteps)
	fmt.Fprintf(out, "metrics structures=%d nodes=%d loss=%.6f r2=%.4f peak_r2=%.4f\n",
		m.Structures, m.Nodes, m.Loss, m.R2, m.PeakR2)
	for _, g := range m.Groups {
		fmt.Fprintf(out, "group name=%s r2=%.4f peak_r2=%.4f\n", g.Group, g.R2, g.PeakR2)
	}
	fmt.Fprintf(out, "hinges tp=%d fp=%d fn=%d tn=%d\n", m.Hinges.TP, m.Hinges.FP, m.Hinges.FN, m.Hinges.TN)
	fmt.Fprintf(out, "data_paths train=%d valid=%d test=%d\n", len(run.DataPaths.Train), len(run.DataPaths.Valid), len(run.DataPaths.Test))
	fmt.Fprintf(out, "norm_dict id=%s ranges=%d\n", run.NormDict.ID, len(run.NormDict.Ranges))
	keys := make([]string, 0, len(run.NormDict.Ranges))
	for k := range run.NormDict.Ranges {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		r := run.NormDict.Ranges[k]
		fmt.Fprintf(out, "range key=%s min=%g max=%g\n", k, r.Min(), r.Max())
	}
	fmt.Fprintf(out, "batch_losses count=%d\n", len(run.BatchLosses))
	if t := run.Tune; t != nil {
		fmt.Fprintf(out, "tune parameters=%d attempts=%d accepted=%d initial_fitness=%.6f best_fitness=%.6f\n",
			t.Parameters, t.AttemptsExecuted, t.AcceptedCandidates, t.InitialFitness, t.BestFitness)
	}
	return nil
}

func runExperiments(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("experiments", flag.ContinueOnError)
	var g globalFlags
	g.register(fs)
	kind := fs.String("kind", "", "only consider runs of this kind when picking the best run")
	if err := fs.Parse(args); err != nil {
		return err
	}

	_, client, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	exps, err := client.Experiments(ctx)
	if err != nil {
		return err
	}
	if len(exps) == 0 {
		fmt.Fprintln(out, "no experiments found")
		return nil
	}
	for _, e := range exps {
		best := "-"
		if r, ok := e.Best(*kind); ok {
			best = fmt.Sprintf("%s(loss=%.6f)", r.RunID, r.Loss)
		}
		fmt.Fprintf(out, "experiment=%s runs=%d best=%s updated_at=%s\n", e.ID, len(e.Runs), best, e.UpdatedAtUTC)
	}
	return nil
}

func runExport(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	var g globalFlags
	g.register(fs)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "export the most recent run from run index")
	outDir := fs.String("out", "", "export output directory (defaults to exports)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	_, client, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Export(ctx, seismicgraph.ExportRequest{RunID: *runID, Latest: *latest, OutDir: *outDir})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "exported run_id=%s to=%s\n", summary.RunID, summary.Directory)
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

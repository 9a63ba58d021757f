// Package stats writes run artifacts to disk and keeps an index of runs.
package stats

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/graphlstm"
	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/model"
	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/tuning"
)

const runIndexFile = "run_index.json"

var ErrRunNotFound = errors.New("run not found")

const (
	configFile     = "config.json"
	normDictFile   = "norm_dict.json"
	dataPathsFile  = "data_paths.json"
	metricsFile    = "metrics.json"
	tuneReportFile = "tune_report.json"
	lossSeriesFile = "batch_losses.csv"
)

type RunConfig struct {
	RunID           string           `json:"run_id"`
	Kind            string           `json:"kind"`
	ModelID         string           `json:"model_id"`
	Split           string           `json:"split"`
	DataRoot        string           `json:"data_root"`
	Dataset         string           `json:"dataset"`
	GraphType       string           `json:"graph_type"`
	DataNum         int              `json:"data_num"`
	Timesteps       int              `json:"timesteps"`
	BatchSize       int              `json:"batch_size"`
	Seed            int64            `json:"seed"`
	SampleNodes     bool             `json:"sample_nodes"`
	RandomSample    bool             `json:"random_sample"`
	NeglectBeamMySz bool             `json:"neglect_beam_my_sz"`
	YieldFactor     float64          `json:"yield_factor"`
	Model           graphlstm.Config `json:"model"`
	TunePrefix      string           `json:"tune_prefix,omitempty"`
	TuneAttempts    int              `json:"tune_attempts,omitempty"`
	TuneSteps       int              `json:"tune_steps,omitempty"`
	TuneStepSize    float64          `json:"tune_step_size,omitempty"`
	TuneSelection   string           `json:"tune_selection,omitempty"`
}

// DataPaths lists the sample folders of each split.
type DataPaths struct {
	Train []string `json:"train"`
	Valid []string `json:"valid"`
	Test  []string `json:"test"`
}

type RunArtifacts struct {
	Config      RunConfig
	NormDict    model.NormDict
	DataPaths   DataPaths
	Metrics     model.EvaluationRecord
	BatchLosses []float64
	Tune        *tuning.TuneReport
}

type RunIndexEntry struct {
	RunID        string  `json:"run_id"`
	Kind         string  `json:"kind"`
	ModelID      string  `json:"model_id"`
	Split        string  `json:"split"`
	Structures   int     `json:"structures"`
	Loss         float64 `json:"loss"`
	R2           float64 `json:"r2"`
	CreatedAtUTC string  `json:"created_at_utc"`
}

func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := WriteRunConfig(baseDir, artifacts.Config.RunID, artifacts.Config); err != nil {
		return "", err
	}
	files := []struct {
		name  string
		value any
	}{
		{normDictFile, artifacts.NormDict},
		{dataPathsFile, artifacts.DataPaths},
		{metricsFile, artifacts.Metrics},
	}
	for _, f := range files {
		if err := writeJSON(filepath.Join(runDir, f.name), f.value); err != nil {
			return "", err
		}
	}
	if artifacts.Tune != nil {
		if err := writeJSON(filepath.Join(runDir, tuneReportFile), artifacts.Tune); err != nil {
			return "", err
		}
	}
	if err := WriteLossSeries(runDir, artifacts.BatchLosses); err != nil {
		return "", err
	}
	return runDir, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := readRunIndex(baseDir)
	if err != nil {
		return err
	}
	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}
	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns runs newest first. Entries with equal timestamps are
// ordered by latest append.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	entries, err := readRunIndex(baseDir)
	if err != nil {
		return nil, err
	}

	order := make([]int, len(entries))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		a, b := entries[order[i]], entries[order[j]]
		if a.CreatedAtUTC == b.CreatedAtUTC {
			return order[i] > order[j]
		}
		return a.CreatedAtUTC > b.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(entries))
	for _, i := range order {
		sorted = append(sorted, entries[i])
	}
	return sorted, nil
}

func readRunIndex(baseDir string) ([]RunIndexEntry, error) {
	entries := []RunIndexEntry{}
	ok, err := readJSON(filepath.Join(baseDir, runIndexFile), &entries)
	if err != nil || !ok {
		return []RunIndexEntry{}, err
	}
	return entries, nil
}

// ExportRunArtifacts copies a run directory's files into outDir/runID.
// Optional files are copied when present.
func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}
	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}
	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	for _, file := range []string{configFile, normDictFile, dataPathsFile, metricsFile, lossSeriesFile} {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	optional := filepath.Join(src, tuneReportFile)
	if _, err := os.Stat(optional); err == nil {
		if err := copyFile(optional, filepath.Join(dst, tuneReportFile)); err != nil {
			return "", err
		}
	} else if !os.IsNotExist(err) {
		return "", err
	}
	return dst, nil
}

// ReadRun loads every artifact of a stored run. The tune report is nil for
// runs that did not tune.
func ReadRun(baseDir, runID string) (RunArtifacts, error) {
	if strings.TrimSpace(runID) == "" {
		return RunArtifacts{}, fmt.Errorf("run id is required")
	}
	var (
		out RunArtifacts
		ok  bool
		err error
	)
	if out.Config, ok, err = ReadRunConfig(baseDir, runID); err != nil {
		return RunArtifacts{}, err
	} else if !ok {
		return RunArtifacts{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if out.Metrics, _, err = ReadMetrics(baseDir, runID); err != nil {
		return RunArtifacts{}, err
	}
	if out.NormDict, _, err = ReadNormDict(baseDir, runID); err != nil {
		return RunArtifacts{}, err
	}
	if out.DataPaths, _, err = ReadDataPaths(baseDir, runID); err != nil {
		return RunArtifacts{}, err
	}
	if out.BatchLosses, _, err = ReadLossSeries(baseDir, runID); err != nil {
		return RunArtifacts{}, err
	}
	report, ok, err := ReadTuneReport(baseDir, runID)
	if err != nil {
		return RunArtifacts{}, err
	}
	if ok {
		out.Tune = &report
	}
	return out, nil
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	var cfg RunConfig
	ok, err := readJSON(filepath.Join(baseDir, runID, configFile), &cfg)
	return cfg, ok, err
}

func WriteRunConfig(baseDir, runID string, cfg RunConfig) error {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return fmt.Errorf("run id is required")
	}
	if strings.TrimSpace(cfg.RunID) == "" {
		cfg.RunID = runID
	}
	if cfg.RunID != runID {
		return fmt.Errorf("run config run id mismatch: got=%s want=%s", cfg.RunID, runID)
	}
	runDir := filepath.Join(baseDir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return err
	}
	return writeJSON(filepath.Join(runDir, configFile), cfg)
}

func ReadMetrics(baseDir, runID string) (model.EvaluationRecord, bool, error) {
	var record model.EvaluationRecord
	ok, err := readJSON(filepath.Join(baseDir, runID, metricsFile), &record)
	return record, ok, err
}

func ReadNormDict(baseDir, runID string) (model.NormDict, bool, error) {
	var nd model.NormDict
	ok, err := readJSON(filepath.Join(baseDir, runID, normDictFile), &nd)
	return nd, ok, err
}

func ReadDataPaths(baseDir, runID string) (DataPaths, bool, error) {
	var paths DataPaths
	ok, err := readJSON(filepath.Join(baseDir, runID, dataPathsFile), &paths)
	return paths, ok, err
}

func ReadTuneReport(baseDir, runID string) (tuning.TuneReport, bool, error) {
	var report tuning.TuneReport
	ok, err := readJSON(filepath.Join(baseDir, runID, tuneReportFile), &report)
	return report, ok, err
}

// WriteLossSeries writes one row per evaluated batch.
func WriteLossSeries(runDir string, losses []float64) error {
	file, err := os.Create(filepath.Join(runDir, lossSeriesFile))
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"batch", "loss"}); err != nil {
		return err
	}
	for i, loss := range losses {
		if err := writer.Write([]string{
			strconv.Itoa(i),
			strconv.FormatFloat(loss, 'g', -1, 64),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func ReadLossSeries(baseDir, runID string) ([]float64, bool, error) {
	file, err := os.Open(filepath.Join(baseDir, runID, lossSeriesFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []float64{}, true, nil
		}
		return nil, false, err
	}
	if len(header) < 2 {
		return nil, false, fmt.Errorf("loss series header must have at least 2 columns")
	}

	series := make([]float64, 0, 64)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		if len(record) < 2 {
			return nil, false, fmt.Errorf("loss series row must have at least 2 columns")
		}
		value, err := strconv.ParseFloat(record[1], 64)
		if err != nil {
			return nil, false, err
		}
		series = append(series, value)
	}
	return series, true, nil
}

func readJSON(path string, out any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, err
	}
	return true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

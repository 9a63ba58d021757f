package stats

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const experimentsDir = "experiments"

// Experiment groups the runs of one study, such as a model and its tuned
// children scored on the same split.
type Experiment struct {
	ID           string          `json:"id"`
	Notes        string          `json:"notes,omitempty"`
	CreatedAtUTC string          `json:"created_at_utc"`
	UpdatedAtUTC string          `json:"updated_at_utc"`
	Runs         []RunIndexEntry `json:"runs"`
}

// Best returns the lowest-loss run of kind, or of any kind when kind is
// empty.
func (e Experiment) Best(kind string) (RunIndexEntry, bool) {
	var (
		best  RunIndexEntry
		found bool
	)
	for _, r := range e.Runs {
		if kind != "" && r.Kind != kind {
			continue
		}
		if !found || r.Loss < best.Loss {
			best, found = r, true
		}
	}
	return best, found
}

// AddExperimentRun records entry under experiment id, creating the experiment
// on first use. A run already present is replaced. Non-empty notes overwrite
// the stored ones.
func AddExperimentRun(baseDir, id, notes string, entry RunIndexEntry) (Experiment, error) {
	if err := validExperimentID(id); err != nil {
		return Experiment{}, err
	}
	if entry.RunID == "" {
		return Experiment{}, fmt.Errorf("run id is required")
	}
	exp, ok, err := ReadExperiment(baseDir, id)
	if err != nil {
		return Experiment{}, err
	}
	if !ok {
		exp = Experiment{ID: id, CreatedAtUTC: entry.CreatedAtUTC}
	}
	if notes != "" {
		exp.Notes = notes
	}
	replaced := false
	for i := range exp.Runs {
		if exp.Runs[i].RunID == entry.RunID {
			exp.Runs[i] = entry
			replaced = true
		}
	}
	if !replaced {
		exp.Runs = append(exp.Runs, entry)
	}
	exp.UpdatedAtUTC = entry.CreatedAtUTC

	path := experimentPath(baseDir, id)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Experiment{}, err
	}
	return exp, writeJSON(path, exp)
}

func ReadExperiment(baseDir, id string) (Experiment, bool, error) {
	if err := validExperimentID(id); err != nil {
		return Experiment{}, false, err
	}
	var exp Experiment
	ok, err := readJSON(experimentPath(baseDir, id), &exp)
	if err != nil || !ok {
		return Experiment{}, ok, err
	}
	return exp, true, nil
}

// ListExperiments returns experiments most recently updated first.
func ListExperiments(baseDir string) ([]Experiment, error) {
	entries, err := os.ReadDir(filepath.Join(baseDir, experimentsDir))
	if err != nil {
		if os.IsNotExist(err) {
			return []Experiment{}, nil
		}
		return nil, err
	}

	exps := make([]Experiment, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		exp, ok, err := ReadExperiment(baseDir, entry.Name())
		if err != nil {
			return nil, err
		}
		if ok {
			exps = append(exps, exp)
		}
	}
	sort.Slice(exps, func(i, j int) bool {
		if exps[i].UpdatedAtUTC == exps[j].UpdatedAtUTC {
			return exps[i].ID < exps[j].ID
		}
		return exps[i].UpdatedAtUTC > exps[j].UpdatedAtUTC
	})
	return exps, nil
}

func validExperimentID(id string) error {
	if id == "" {
		return fmt.Errorf("experiment id is required")
	}
	if strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return fmt.Errorf("invalid experiment id %q", id)
	}
	return nil
}

func experimentPath(baseDir, id string) string {
	return filepath.Join(baseDir, experimentsDir, id, "experiment.json")
}

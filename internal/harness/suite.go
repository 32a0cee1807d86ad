package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// SuiteOptions controls RunSuite.
type SuiteOptions struct {
	// Filter is a glob matched against scenario file names without their
	// extension. Empty runs every scenario.
	Filter string

	// GoldenDir holds {name}.golden snapshots. When empty, only step
	// expectations and assertions are checked.
	GoldenDir string

	// Update rewrites golden files instead of comparing them.
	Update bool
}

// SuiteResult summarizes a directory of scenarios.
type SuiteResult struct {
	Total     int              `json:"total"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Scenarios []ScenarioResult `json:"scenarios"`
}

// ScenarioResult is the outcome of one scenario file.
type ScenarioResult struct {
	Path   string   `json:"path"`
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
}

// Failures returns the scenarios that did not pass, in run order.
func (r *SuiteResult) Failures() []ScenarioResult {
	var out []ScenarioResult
	for _, s := range r.Scenarios {
		if !s.Pass {
			out = append(out, s)
		}
	}
	return out
}

// FindScenarios returns the .yaml and .yml files under path in lexical
// order. A file path is returned as-is.
func FindScenarios(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(p))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// RunSuite loads and runs every scenario under path. Load, run, assertion
// and golden failures are collected per scenario rather than returned; the
// error is only for an unreadable path or a bad filter.
func RunSuite(path string, opts SuiteOptions) (*SuiteResult, error) {
	files, err := FindScenarios(path)
	if err != nil {
		return nil, fmt.Errorf("find scenarios: %w", err)
	}

	result := &SuiteResult{Scenarios: []ScenarioResult{}}
	for _, file := range files {
		if opts.Filter != "" {
			base := filepath.Base(file)
			matched, err := filepath.Match(opts.Filter, strings.TrimSuffix(base, filepath.Ext(base)))
			if err != nil {
				return nil, fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				continue
			}
		}

		sr := runScenarioFile(file, opts)
		result.Total++
		if sr.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
		result.Scenarios = append(result.Scenarios, sr)
	}
	return result, nil
}

func runScenarioFile(file string, opts SuiteOptions) ScenarioResult {
	sr := ScenarioResult{Path: file, Name: filepath.Base(file)}

	scenario, err := LoadScenario(file)
	if err != nil {
		sr.Errors = []string{fmt.Sprintf("failed to load scenario: %v", err)}
		return sr
	}
	sr.Name = scenario.Name

	runResult, err := Run(scenario)
	if err != nil {
		sr.Errors = []string{fmt.Sprintf("scenario execution failed: %v", err)}
		return sr
	}
	sr.Errors = runResult.Errors

	if opts.GoldenDir != "" {
		snapshot := SnapshotOf(scenario, runResult)
		if opts.Update {
			if err := WriteGolden(opts.GoldenDir, snapshot); err != nil {
				sr.Errors = append(sr.Errors, fmt.Sprintf("failed to update golden file: %v", err))
			}
		} else if err := CompareGolden(opts.GoldenDir, snapshot); err != nil {
			sr.Errors = append(sr.Errors, err.Error())
		}
	}

	sr.Pass = len(sr.Errors) == 0
	if sr.Pass {
		sr.Errors = nil
	}
	return sr
}

// GoldenPath returns the golden file of a scenario within dir.
func GoldenPath(dir, name string) string {
	return filepath.Join(dir, name+".golden")
}

// WriteGolden writes the snapshot to its golden file.
func WriteGolden(dir string, snapshot *Snapshot) error {
	data, err := snapshot.Marshal()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create golden directory: %w", err)
	}
	return os.WriteFile(GoldenPath(dir, snapshot.ScenarioName), data, 0644)
}

// CompareGolden compares the snapshot with its golden file. A missing golden
// file is not an error.
func CompareGolden(dir string, snapshot *Snapshot) error {
	want, err := os.ReadFile(GoldenPath(dir, snapshot.ScenarioName))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read golden file: %w", err)
	}
	got, err := snapshot.Marshal()
	if err != nil {
		return err
	}
	if !bytes.Equal(want, got) {
		return fmt.Errorf("trace does not match golden file %s (run with --update to regenerate)",
			GoldenPath(dir, snapshot.ScenarioName))
	}
	return nil
}

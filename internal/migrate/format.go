// Package migrate moves entities between tsync backends and files.
//
// Exports are JSONL, one Record per line, containers before tasks so that an
// import can resolve references in a single pass. Imports additionally accept
// TOML fixtures and plain JSON task files.
package migrate

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/mschirtzinger/tasksync/internal/persist"
	"github.com/mschirtzinger/tasksync/internal/types"
)

// Record is one line of a JSONL export. Exactly one entity field is set.
type Record struct {
	Kind    string         `json:"kind"`
	Task    *types.Task    `json:"task,omitempty"`
	Project *types.Project `json:"project,omitempty"`
	Section *types.Section `json:"section,omitempty"`
	Label   *types.Label   `json:"label,omitempty"`
}

// RecordOf wraps e in a Record.
func RecordOf(e types.Entity) Record {
	r := Record{Kind: e.Kind().String()}
	switch v := e.(type) {
	case *types.Task:
		r.Task = v
	case *types.Project:
		r.Project = v
	case *types.Section:
		r.Section = v
	case *types.Label:
		r.Label = v
	}
	return r
}

// Entity returns the wrapped entity.
func (r Record) Entity() (types.Entity, error) {
	var e types.Entity
	switch r.Kind {
	case "task":
		if r.Task != nil {
			e = r.Task
		}
	case "project":
		if r.Project != nil {
			e = r.Project
		}
	case "section":
		if r.Section != nil {
			e = r.Section
		}
	case "label":
		if r.Label != nil {
			e = r.Label
		}
	default:
		return nil, fmt.Errorf("unknown record kind %q", r.Kind)
	}
	if e == nil {
		return nil, fmt.Errorf("%s record has no %s field", r.Kind, r.Kind)
	}
	return e, nil
}

// Fixture is the TOML layout of a seed file:
//
//	[[project]]
//	id = "work"
//	name = "Work"
//
//	[[task]]
//	content = "Write report"
//	project_id = "work"
type Fixture struct {
	Projects []*types.Project `toml:"project"`
	Sections []*types.Section `toml:"section"`
	Labels   []*types.Label   `toml:"label"`
	Tasks    []*types.Task    `toml:"task"`
}

// Snapshot converts the fixture.
func (f *Fixture) Snapshot() *persist.Snapshot {
	return &persist.Snapshot{
		Tasks:    f.Tasks,
		Projects: f.Projects,
		Sections: f.Sections,
		Labels:   f.Labels,
	}
}

// WriteJSONL writes snap as JSONL and returns the number of records written.
func WriteJSONL(w io.Writer, snap *persist.Snapshot) (int, error) {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	n := 0
	for _, e := range snap.Entities() {
		if err := enc.Encode(RecordOf(e)); err != nil {
			return n, fmt.Errorf("failed to encode %s %s: %w", e.Kind(), e.EntityID(), err)
		}
		n++
	}
	if err := bw.Flush(); err != nil {
		return n, fmt.Errorf("failed to flush export: %w", err)
	}
	return n, nil
}

// ExportJSONL writes snap to path atomically via a temp file.
func ExportJSONL(path string, snap *persist.Snapshot) (int, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, fmt.Errorf("failed to create export directory: %w", err)
		}
	}

	tmpPath := path + ".tmp"
	// #nosec G304 - controlled path from CLI
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	n, err := WriteJSONL(f, snap)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return 0, err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to rename temp file: %w", err)
	}
	return n, nil
}

// ReadJSONL parses records from r. Blank lines are skipped.
func ReadJSONL(r io.Reader) (*persist.Snapshot, error) {
	snap := &persist.Snapshot{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("invalid JSON at line %d: %w", lineNum, err)
		}
		e, err := rec.Entity()
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		snap.Add(e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read JSONL: %w", err)
	}
	return snap, nil
}

// ReadTOML parses a Fixture. Keys that match no field are rejected so that
// typos in hand-written fixtures surface.
func ReadTOML(r io.Reader) (*persist.Snapshot, error) {
	var f Fixture
	md, err := toml.NewDecoder(r).Decode(&f)
	if err != nil {
		return nil, fmt.Errorf("invalid TOML fixture: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown fixture keys: %s", strings.Join(keys, ", "))
	}
	return f.Snapshot(), nil
}

// ReadTasksJSON parses a JSON task object or an array of them.
func ReadTasksJSON(r io.Reader) (*persist.Snapshot, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read JSON: %w", err)
	}
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, errors.New("empty task file")
	}

	var tasks []*types.Task
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(data, &tasks); err != nil {
			return nil, fmt.Errorf("invalid task array: %w", err)
		}
	} else {
		var t types.Task
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("invalid task object: %w", err)
		}
		tasks = []*types.Task{&t}
	}
	for i, t := range tasks {
		if t == nil {
			return nil, fmt.Errorf("task %d is null", i)
		}
	}
	return &persist.Snapshot{Tasks: tasks}, nil
}

// Supported reports whether ReadFile understands the file's extension.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl", ".json", ".toml":
		return true
	}
	return false
}

// ReadFile parses path according to its extension: .jsonl exports, .toml
// fixtures or .json task files.
func ReadFile(path string) (*persist.Snapshot, error) {
	// #nosec G304 - controlled path from CLI or watched directory
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl":
		return ReadJSONL(f)
	case ".toml":
		return ReadTOML(f)
	case ".json":
		return ReadTasksJSON(f)
	default:
		return nil, fmt.Errorf("unsupported file type %q", filepath.Ext(path))
	}
}

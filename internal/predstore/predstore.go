// Package predstore persists and loads immutable per-run prediction
// datasets. A run is one append-once JSONL artifact; corrections happen in
// the label overlay, never by rewriting a run.
package predstore

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/example/pic-triage/internal/classifier"
)

// Record is one subject's classification outcome within a run. Immutable
// once written; uniqueness key is (RunID, SubjectID).
type Record struct {
	RunID         string                  `json:"run_id"`
	SubjectID     string                  `json:"subject_id"`
	DisplayName   string                  `json:"display_name,omitempty"`
	PrincipalName string                  `json:"principal_name,omitempty"`
	Probs         classifier.Distribution `json:"probs"`
}

// ErrRunNotFound signals a load for a run id that does not exist.
var ErrRunNotFound = errors.New("run not found")

// Store lists, loads, and writes prediction runs.
type Store interface {
	// ListRuns returns every known run id, most recent first.
	ListRuns(ctx context.Context) ([]string, error)
	// LoadRun returns a run's records in stored order, or ErrRunNotFound.
	LoadRun(ctx context.Context, runID string) ([]Record, error)
	// WriteRun persists the complete record set as a single atomic artifact.
	// Writing an existing run id overwrites it.
	WriteRun(ctx context.Context, runID string, records []Record) error
}

// EncodeRecords renders records as JSONL, one record per line in order.
func EncodeRecords(records []Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range records {
		if err := enc.Encode(&records[i]); err != nil {
			return nil, fmt.Errorf("encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// DecodeRecords parses a JSONL artifact back into records, skipping blank
// lines.
func DecodeRecords(data []byte) ([]Record, error) {
	var records []Record
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("decode record %d: %w", len(records), err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

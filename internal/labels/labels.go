// Package labels stores human review labels for (run, subject) pairs. Labels
// are an overlay on top of immutable prediction runs; submitting one never
// rewrites a run.
package labels

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/example/pic-triage/internal/classifier"
)

// Label is a human-supplied correction for one subject in one run. Keyed by
// (RunID, SubjectID) with upsert semantics: a later submission for the same
// key replaces the fields it specifies and preserves the rest.
type Label struct {
	RunID     string    `gorm:"column:run_id;primaryKey;size:128" json:"run_id"`
	SubjectID string    `gorm:"column:subject_id;primaryKey;size:128" json:"subject_id"`
	Expected  string    `gorm:"column:expected;size:16" json:"expected"`
	Notes     string    `gorm:"column:notes;type:text" json:"notes"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

// TableName overrides the default table name.
func (Label) TableName() string {
	return "labels"
}

// Submission is one incoming label payload. A nil Notes means "not
// specified": an existing note survives the merge.
type Submission struct {
	RunID     string  `json:"run_id"`
	SubjectID string  `json:"subject_id"`
	Expected  string  `json:"expected"`
	Notes     *string `json:"notes"`
}

// ValidationError reports the required fields a submission is missing or
// the fields whose values are invalid.
type ValidationError struct {
	Missing []string
	Invalid []string
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("missing fields: %s", strings.Join(e.Missing, ", ")))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, fmt.Sprintf("invalid fields: %s", strings.Join(e.Invalid, ", ")))
	}
	if len(parts) == 0 {
		return "invalid label submission"
	}
	return strings.Join(parts, "; ")
}

// Validate checks the submission for required fields and a known expected
// category. Label submission is deliberately decoupled from run existence,
// so neither RunID nor SubjectID is checked against stored runs.
func (s Submission) Validate() error {
	verr := &ValidationError{}
	if s.RunID == "" {
		verr.Missing = append(verr.Missing, "run_id")
	}
	if s.SubjectID == "" {
		verr.Missing = append(verr.Missing, "subject_id")
	}
	if s.Expected == "" {
		verr.Missing = append(verr.Missing, "expected")
	} else if !validCategory(s.Expected) {
		verr.Invalid = append(verr.Invalid, "expected")
	}
	if len(verr.Missing) == 0 && len(verr.Invalid) == 0 {
		return nil
	}
	sort.Strings(verr.Missing)
	return verr
}

func validCategory(value string) bool {
	for _, c := range classifier.Categories {
		if string(c) == value {
			return true
		}
	}
	return false
}

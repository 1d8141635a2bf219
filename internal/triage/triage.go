// Package triage derives review buckets from classification probability
// distributions. Buckets are recomputed on every query, never persisted, so
// threshold changes retroactively reclassify historical runs.
package triage

import (
	"fmt"

	"github.com/example/pic-triage/internal/classifier"
)

// View names a triage bucket a caller can request.
type View string

const (
	ViewConfident View = "confident"
	ViewUncertain View = "uncertain"
	ViewHuman     View = "human"
	ViewAvatar    View = "avatar"
	ViewOther     View = "other"
	ViewNone      View = "none"
	ViewAll       View = "all"
)

// ParseView validates a requested view name. An empty name means "all".
func ParseView(raw string) (View, error) {
	if raw == "" {
		return ViewAll, nil
	}
	switch v := View(raw); v {
	case ViewConfident, ViewUncertain, ViewHuman, ViewAvatar, ViewOther, ViewNone, ViewAll:
		return v, nil
	}
	return "", fmt.Errorf("unknown view %q", raw)
}

// Thresholds are the tunable confidence cut-offs. When LowConf < MinConf the
// confident and uncertain views deliberately exclude the band in between, so
// the two views together do not cover every record.
type Thresholds struct {
	MinConf float64
	LowConf float64
}

// DefaultThresholds returns the stock cut-offs.
func DefaultThresholds() Thresholds {
	return Thresholds{MinConf: 0.95, LowConf: 0.70}
}

// Confidence is the maximum class probability in the distribution.
func Confidence(d classifier.Distribution) float64 {
	max := 0.0
	for _, c := range classifier.Categories {
		if p := d.Get(c); p > max {
			max = p
		}
	}
	return max
}

// TopCategory is the class with the maximum probability. Ties resolve in the
// fixed order human, avatar, other, none.
func TopCategory(d classifier.Distribution) classifier.Category {
	top := classifier.Categories[0]
	best := d.Get(top)
	for _, c := range classifier.Categories[1:] {
		if p := d.Get(c); p > best {
			best = p
			top = c
		}
	}
	return top
}

// Matches reports whether a record with the given distribution belongs to
// the requested view.
func (t Thresholds) Matches(d classifier.Distribution, view View) bool {
	switch view {
	case ViewConfident:
		return Confidence(d) >= t.MinConf
	case ViewUncertain:
		return Confidence(d) < t.LowConf
	case ViewHuman, ViewAvatar, ViewOther, ViewNone:
		return TopCategory(d) == classifier.Category(view)
	case ViewAll:
		return true
	}
	return false
}

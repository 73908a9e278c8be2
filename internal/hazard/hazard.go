// Package hazard decides which detections are alert-worthy and how the alert reads.
package hazard

import (
	"fmt"
	"strings"

	"roadsafety/internal/model"
)

// Vocabulary is the fixed set of detector labels treated as hazards.
// Matching is case-insensitive.
type Vocabulary struct {
	labels map[string]struct{}
	order  []string
}

// NewVocabulary builds a vocabulary from labels, ignoring blanks and duplicates.
func NewVocabulary(labels []string) *Vocabulary {
	v := &Vocabulary{labels: make(map[string]struct{}, len(labels))}
	for _, label := range labels {
		key := strings.ToLower(strings.TrimSpace(label))
		if key == "" {
			continue
		}
		if _, ok := v.labels[key]; ok {
			continue
		}
		v.labels[key] = struct{}{}
		v.order = append(v.order, key)
	}
	return v
}

// Contains reports whether label is a hazard.
func (v *Vocabulary) Contains(label string) bool {
	_, ok := v.labels[strings.ToLower(label)]
	return ok
}

// Labels returns the vocabulary in insertion order.
func (v *Vocabulary) Labels() []string {
	return append([]string(nil), v.order...)
}

// Warning formats the alert text for a hazard label.
func Warning(label string) string {
	return fmt.Sprintf("⚠ %s DETECTED!", strings.ToUpper(label))
}

// Result is the outcome of evaluating one frame's detections.
type Result struct {
	// Hazards keeps detector order.
	Hazards []model.Detection
	// Alert is the warning for the last hazard, or "" when there is none.
	Alert string
}

// Evaluate selects the hazard detections of a frame. When a frame holds several
// hazards the alert names only the last one in detector order.
func (v *Vocabulary) Evaluate(detections []model.Detection) Result {
	var res Result
	for _, det := range detections {
		if !v.Contains(det.Label) {
			continue
		}
		res.Hazards = append(res.Hazards, det)
		res.Alert = Warning(det.Label)
	}
	return res
}

// Package promote implements the quality gate that decides whether an
// enriched record is ready for downstream consumers.
package promote

import (
	"sort"

	"github.com/waxworks/trackline/internal/model"
)

// Evaluation is the promotion verdict for one enriched record.
type Evaluation struct {
	QualityScore float64
	Promotable   bool
	// MissingFields lists required fields with no accepted value,
	// sorted for stable output.
	MissingFields []model.FieldName
}

// Evaluate scores an enriched record against the rule set it was produced
// under. QualityScore is the confidence-weighted fraction of required
// fields that resolved: each required field contributes its accepted
// confidence, or zero when unresolved, averaged over all required fields.
//
// Promotability is a hard gate: every field marked required_for_promotion
// must have an accepted value. High confidence on some fields never
// substitutes for a missing required field.
func Evaluate(rec model.EnrichedRecord, rules model.RuleSet) Evaluation {
	var required []model.FieldName
	for field, rule := range rules.Rules {
		if rule.RequiredForPromotion {
			required = append(required, field)
		}
	}
	sort.Slice(required, func(i, j int) bool { return required[i] < required[j] })

	// No required fields means nothing gates promotion.
	if len(required) == 0 {
		return Evaluation{QualityScore: 1, Promotable: true}
	}

	eval := Evaluation{Promotable: true}
	var sum float64
	for _, field := range required {
		resolved, ok := rec.Fields[field]
		if !ok {
			eval.Promotable = false
			eval.MissingFields = append(eval.MissingFields, field)
			continue
		}
		sum += resolved.Confidence
	}
	eval.QualityScore = sum / float64(len(required))
	return eval
}

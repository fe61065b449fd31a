package model

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// ErrValidation is returned for malformed waterfall rules (e.g. a confidence
// outside [0,1]).
var ErrValidation = eris.New("validation failed")

// RuleStep is one (provider, threshold) entry in a field's waterfall chain.
type RuleStep struct {
	Provider      string  `json:"provider" yaml:"provider"`
	MinConfidence float64 `json:"min_confidence" yaml:"min_confidence"`
}

// WaterfallRule configures the enrichment waterfall for a single field.
// Rules are value objects: a run binds to one immutable snapshot version
// and concurrent configuration edits never affect it.
type WaterfallRule struct {
	Field                   FieldName  `json:"field" yaml:"field"`
	Steps                   []RuleStep `json:"steps" yaml:"steps"`
	MinAcceptableConfidence float64    `json:"min_acceptable_confidence" yaml:"min_acceptable_confidence"`
	RetryOnLowConfidence    bool       `json:"retry_on_low_confidence" yaml:"retry_on_low_confidence"`
	RequiredForPromotion    bool       `json:"required_for_promotion" yaml:"required_for_promotion"`
	FetchTimeout            Duration   `json:"fetch_timeout" yaml:"fetch_timeout"`
}

// Duration wraps time.Duration with YAML/JSON string marshaling ("5s").
type Duration time.Duration

// UnmarshalYAML parses durations written as strings in rule files.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return eris.Wrapf(err, "model: parse duration %q", s)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalJSON accepts the same string form over the HTTP API.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return eris.Wrap(err, "model: duration must be a string")
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return eris.Wrapf(err, "model: parse duration %q", s)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalJSON renders the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Validate checks rule well-formedness. Confidence thresholds must lie in
// [0,1], every step needs a provider name, and a rule needs at least one step.
func (r WaterfallRule) Validate() error {
	if r.Field == "" {
		return eris.Wrap(ErrValidation, "rule has no field")
	}
	if len(r.Steps) == 0 {
		return eris.Wrapf(ErrValidation, "rule %s has no steps", r.Field)
	}
	if r.MinAcceptableConfidence < 0 || r.MinAcceptableConfidence > 1 {
		return eris.Wrapf(ErrValidation, "rule %s: min_acceptable_confidence %.3f outside [0,1]", r.Field, r.MinAcceptableConfidence)
	}
	for i, step := range r.Steps {
		if step.Provider == "" {
			return eris.Wrapf(ErrValidation, "rule %s: step %d has no provider", r.Field, i)
		}
		if step.MinConfidence < 0 || step.MinConfidence > 1 {
			return eris.Wrapf(ErrValidation, "rule %s: step %d confidence %.3f outside [0,1]", r.Field, i, step.MinConfidence)
		}
	}
	return nil
}

// AcceptanceThreshold returns the effective threshold for a step: the
// stricter of the step's own minimum and the rule-wide floor.
func (r WaterfallRule) AcceptanceThreshold(step RuleStep) float64 {
	if step.MinConfidence > r.MinAcceptableConfidence {
		return step.MinConfidence
	}
	return r.MinAcceptableConfidence
}

// RuleSet is one immutable versioned snapshot of every field's rule.
type RuleSet struct {
	Version   int64                       `json:"version"`
	Rules     map[FieldName]WaterfallRule `json:"rules"`
	CreatedAt time.Time                   `json:"created_at"`
}

// Fields returns the fields with a defined rule.
func (s RuleSet) Fields() []FieldName {
	fields := make([]FieldName, 0, len(s.Rules))
	for f := range s.Rules {
		fields = append(fields, f)
	}
	return fields
}

package rules

import (
	"os"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/waxworks/trackline/internal/model"
)

// seedDefaults holds global fallbacks applied to fields that omit a value.
type seedDefaults struct {
	MinAcceptableConfidence float64        `yaml:"min_acceptable_confidence"`
	RetryOnLowConfidence    *bool          `yaml:"retry_on_low_confidence"`
	FetchTimeout            model.Duration `yaml:"fetch_timeout"`
}

type seedField struct {
	Steps                   []model.RuleStep `yaml:"steps"`
	MinAcceptableConfidence *float64         `yaml:"min_acceptable_confidence"`
	RetryOnLowConfidence    *bool            `yaml:"retry_on_low_confidence"`
	RequiredForPromotion    bool             `yaml:"required_for_promotion"`
	FetchTimeout            model.Duration   `yaml:"fetch_timeout"`
}

// LoadFile reads a waterfall seed file and returns validated rules.
//
// The YAML has a top-level "waterfall" key:
//
//	waterfall:
//	  defaults:
//	    min_acceptable_confidence: 0.6
//	    retry_on_low_confidence: true
//	    fetch_timeout: 5s
//	  fields:
//	    bpm:
//	      required_for_promotion: true
//	      steps:
//	        - provider: acoustid
//	          min_confidence: 0.98
//	        - provider: deezer
//	          min_confidence: 0.85
func LoadFile(path string) (map[model.FieldName]model.WaterfallRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "rules: read seed file %s", path)
	}

	var wrapper struct {
		Waterfall struct {
			Defaults seedDefaults         `yaml:"defaults"`
			Fields   map[string]seedField `yaml:"fields"`
		} `yaml:"waterfall"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "rules: parse seed file")
	}

	defaults := wrapper.Waterfall.Defaults
	if defaults.FetchTimeout == 0 {
		defaults.FetchTimeout = model.Duration(5 * time.Second)
	}

	rules := make(map[model.FieldName]model.WaterfallRule, len(wrapper.Waterfall.Fields))
	for name, fc := range wrapper.Waterfall.Fields {
		rule := model.WaterfallRule{
			Field:                   name,
			Steps:                   fc.Steps,
			MinAcceptableConfidence: defaults.MinAcceptableConfidence,
			RequiredForPromotion:    fc.RequiredForPromotion,
			FetchTimeout:            defaults.FetchTimeout,
		}
		if fc.MinAcceptableConfidence != nil {
			rule.MinAcceptableConfidence = *fc.MinAcceptableConfidence
		}
		switch {
		case fc.RetryOnLowConfidence != nil:
			rule.RetryOnLowConfidence = *fc.RetryOnLowConfidence
		case defaults.RetryOnLowConfidence != nil:
			rule.RetryOnLowConfidence = *defaults.RetryOnLowConfidence
		default:
			rule.RetryOnLowConfidence = true
		}
		if fc.FetchTimeout != 0 {
			rule.FetchTimeout = fc.FetchTimeout
		}
		if err := rule.Validate(); err != nil {
			return nil, err
		}
		rules[name] = rule
	}

	return rules, nil
}

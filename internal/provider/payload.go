package provider

import (
	"context"

	"github.com/waxworks/trackline/internal/model"
)

// payloadConfidence reflects that scraped values arrive without any
// cross-source corroboration.
const payloadConfidence = 0.60

// PayloadProvider serves field values already present in the raw record's
// scraped payload. It is the built-in first rung for fields the scrapers
// capture inline; external metadata services register through the same
// Provider contract.
type PayloadProvider struct {
	fields []model.FieldName
}

// NewPayloadProvider creates a PayloadProvider limited to the given fields.
// Empty means any field present in the payload.
func NewPayloadProvider(fields ...model.FieldName) *PayloadProvider {
	return &PayloadProvider{fields: fields}
}

func (p *PayloadProvider) Name() string { return "payload" }

func (p *PayloadProvider) SupportedFields() []model.FieldName {
	if len(p.fields) == 0 {
		return []model.FieldName{"*"}
	}
	return p.fields
}

func (p *PayloadProvider) Fetch(_ context.Context, field model.FieldName, rec model.RawRecord) (*FetchResult, error) {
	v, ok := rec.Payload[field]
	if !ok || v == nil || v == "" {
		return nil, ErrNotFound
	}
	return &FetchResult{Value: v, Confidence: payloadConfidence}, nil
}

package model

import (
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Tonality is the voice the generated outreach message should use.
type Tonality string

const (
	TonalityProfessional Tonality = "Professional"
	TonalityFriendly     Tonality = "Friendly"
	TonalityCasual       Tonality = "Casual"
	TonalityDirect       Tonality = "Direct"
	TonalityHumorous     Tonality = "Humorous"
)

// Tonalities lists every supported tonality in display order.
var Tonalities = []Tonality{
	TonalityProfessional,
	TonalityFriendly,
	TonalityCasual,
	TonalityDirect,
	TonalityHumorous,
}

var titleCaser = cases.Title(language.English)

// ParseTonality normalizes user input ("friendly", " CASUAL ") to a Tonality.
// An empty string yields TonalityProfessional.
func ParseTonality(s string) (Tonality, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return TonalityProfessional, nil
	}
	t := Tonality(titleCaser.String(strings.ToLower(s)))
	for _, known := range Tonalities {
		if t == known {
			return t, nil
		}
	}
	return "", eris.Errorf("model: unknown tonality %q", s)
}

// UpsellOptions asks the webhook to mention additional products.
type UpsellOptions struct {
	Enabled  bool     `json:"enabled" yaml:"enabled"`
	Products []string `json:"products,omitempty" yaml:"products"`
	Message  string   `json:"message,omitempty" yaml:"message"`
}

// DataRestrictions limits which lead data leaves this system.
type DataRestrictions struct {
	ExcludeFields    []string `json:"excludeFields,omitempty" yaml:"exclude_fields"`
	NoExternalLookup bool     `json:"noExternalLookup,omitempty" yaml:"no_external_lookup"`
}

// PersonalizationConfig applies to every lead of one batch.
type PersonalizationConfig struct {
	ProductService string            `json:"productService"`
	Tonality       Tonality          `json:"tonality"`
	Language       string            `json:"language,omitempty"`
	Upsell         *UpsellOptions    `json:"upsellOptions,omitempty"`
	Restrictions   *DataRestrictions `json:"dataStreamingRestrictions,omitempty"`
}

// ExcludedFields returns the restricted lead columns, or nil.
func (c PersonalizationConfig) ExcludedFields() []string {
	if c.Restrictions == nil {
		return nil
	}
	return c.Restrictions.ExcludeFields
}

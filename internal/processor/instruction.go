package processor

import (
	"fmt"
	"strings"
	"time"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/pkg/webhook"
)

// BuildInstruction renders the natural-language request sent to the
// personalization workflow. Lead fields are listed in sorted order; null
// fields and fields excluded by the config are omitted.
func BuildInstruction(lead model.Lead, cfg model.PersonalizationConfig) string {
	visible := lead.Without(cfg.ExcludedFields())

	var b strings.Builder
	b.WriteString("Write a personalized outreach message for the following lead.\n\n")

	b.WriteString("Lead details:\n")
	for _, k := range visible.Keys() {
		v := visible[k]
		if v.IsNull() {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", k, v.String())
	}

	fmt.Fprintf(&b, "\nProduct/service: %s\n", strings.TrimSpace(cfg.ProductService))
	fmt.Fprintf(&b, "Tonality: %s\n", tonality(cfg))
	if cfg.Language != "" {
		fmt.Fprintf(&b, "Language: %s\n", cfg.Language)
	}

	if u := cfg.Upsell; u != nil && u.Enabled {
		b.WriteString("Upsell: ")
		if len(u.Products) > 0 {
			fmt.Fprintf(&b, "also mention %s.", strings.Join(u.Products, ", "))
		} else {
			b.WriteString("mention related offerings where relevant.")
		}
		if u.Message != "" {
			fmt.Fprintf(&b, " %s", u.Message)
		}
		b.WriteString("\n")
	}

	if r := cfg.Restrictions; r != nil && r.NoExternalLookup {
		b.WriteString("Use only the lead details above; do not look up external data.\n")
	}
	return b.String()
}

// BuildBatchInstruction renders the request for a whole-batch call. Lead
// details travel in batchData, so only the shared settings are described.
func BuildBatchInstruction(cfg model.PersonalizationConfig, count int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write a personalized outreach message for each of the %d leads in batchData. ", count)
	b.WriteString("Answer with one batchResults entry per lead index.\n\n")
	fmt.Fprintf(&b, "Product/service: %s\n", strings.TrimSpace(cfg.ProductService))
	fmt.Fprintf(&b, "Tonality: %s\n", tonality(cfg))
	if cfg.Language != "" {
		fmt.Fprintf(&b, "Language: %s\n", cfg.Language)
	}
	return b.String()
}

// Audience builds the targetAudience block shared by item and batch payloads.
func Audience(cfg model.PersonalizationConfig) webhook.TargetAudience {
	return webhook.TargetAudience{
		ProductService: strings.TrimSpace(cfg.ProductService),
		Tonality:       string(tonality(cfg)),
		Language:       cfg.Language,
	}
}

// BuildPayload assembles the webhook request for one lead.
func BuildPayload(uploadID string, index int, lead model.Lead, cfg model.PersonalizationConfig, now time.Time) webhook.ItemPayload {
	return webhook.ItemPayload{
		Message:                   BuildInstruction(lead, cfg),
		TargetAudience:            Audience(cfg),
		Timestamp:                 now.UTC(),
		UploadID:                  uploadID,
		RowIndex:                  index,
		LeadData:                  lead.Without(cfg.ExcludedFields()),
		UpsellOptions:             cfg.Upsell,
		DataStreamingRestrictions: cfg.Restrictions,
	}
}

func tonality(cfg model.PersonalizationConfig) model.Tonality {
	if cfg.Tonality == "" {
		return model.TonalityProfessional
	}
	return cfg.Tonality
}

package webhook

import (
	"time"

	"github.com/sells-group/outreach-cli/internal/model"
)

// TargetAudience describes what is being offered and in which voice.
type TargetAudience struct {
	ProductService string `json:"productService"`
	Tonality       string `json:"tonality"`
	Language       string `json:"language,omitempty"`
}

// ItemPayload is the request body for personalizing a single lead.
type ItemPayload struct {
	Message                   string                  `json:"message"`
	TargetAudience            TargetAudience          `json:"targetAudience"`
	Timestamp                 time.Time               `json:"timestamp"`
	UploadID                  string                  `json:"uploadId,omitempty"`
	RowIndex                  int                     `json:"rowIndex"`
	LeadData                  model.Lead              `json:"leadData"`
	UpsellOptions             *model.UpsellOptions    `json:"upsellOptions,omitempty"`
	DataStreamingRestrictions *model.DataRestrictions `json:"dataStreamingRestrictions,omitempty"`
}

// BatchLead is one entry of BatchPayload.BatchData.
type BatchLead struct {
	Index    int        `json:"index"`
	LeadData model.Lead `json:"leadData"`
}

// BatchPayload is the request body for personalizing a whole lead list in
// one call. The webhook answers with one BatchResult per index.
type BatchPayload struct {
	Message                   string                  `json:"message"`
	TargetAudience            TargetAudience          `json:"targetAudience"`
	Timestamp                 time.Time               `json:"timestamp"`
	UploadID                  string                  `json:"uploadId,omitempty"`
	BatchData                 []BatchLead             `json:"batchData"`
	UpsellOptions             *model.UpsellOptions    `json:"upsellOptions,omitempty"`
	DataStreamingRestrictions *model.DataRestrictions `json:"dataStreamingRestrictions,omitempty"`
}

// BatchResult is the webhook's outcome for one lead of a batch call.
type BatchResult struct {
	Index               int    `json:"index"`
	Success             bool   `json:"success"`
	PersonalizedMessage string `json:"personalizedMessage,omitempty"`
	Error               string `json:"error,omitempty"`
}

package model

import (
	"encoding/json"
	"time"
)

// Status is the processing state of one lead within a run.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusError      Status = "error"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusError
}

// ProcessingResult tracks one lead through a run. Index matches the lead's
// row position in the uploaded collection.
type ProcessingResult struct {
	Index               int             `json:"index"`
	LeadData            Lead            `json:"leadData"`
	Status              Status          `json:"status"`
	Result              json.RawMessage `json:"result,omitempty"`
	PersonalizedMessage string          `json:"personalizedMessage,omitempty"`
	Error               string          `json:"error,omitempty"`
}

// UploadStatus is the lifecycle state of a persisted lead batch.
type UploadStatus string

const (
	UploadStatusUploaded   UploadStatus = "uploaded"
	UploadStatusProcessing UploadStatus = "processing"
	UploadStatusCompleted  UploadStatus = "completed"
)

// CsvUpload is a persisted lead batch. RowCount is fixed at creation.
type CsvUpload struct {
	ID         string       `json:"id"`
	Owner      string       `json:"owner"`
	Filename   string       `json:"filename"`
	UploadDate time.Time    `json:"upload_date"`
	RowCount   int          `json:"row_count"`
	Status     UploadStatus `json:"status"`
}

// LeadItem is a persisted lead row and its latest outcome.
type LeadItem struct {
	UploadID            string    `json:"upload_id"`
	RowIndex            int       `json:"row_index"`
	Data                Lead      `json:"data"`
	Status              Status    `json:"status"`
	PersonalizedMessage string    `json:"personalized_message,omitempty"`
	Error               string    `json:"error,omitempty"`
	Language            string    `json:"language,omitempty"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// ItemUpdate is the outcome written for one row.
type ItemUpdate struct {
	Status   Status
	Message  string
	Error    string
	Language string
}

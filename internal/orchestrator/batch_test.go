package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/pkg/webhook"
)

func TestProcessBatch_FansOutByIndex(t *testing.T) {
	sender := &scriptedSender{batch: webhook.Response{
		Success: true,
		BatchResults: []webhook.BatchResult{
			{Index: 1, Success: false, Error: "bad"},
			{Index: 0, Success: true, PersonalizedMessage: "hi"},
		},
	}}
	st := &recordingStore{}

	cfg := model.PersonalizationConfig{ProductService: "CRM"}
	got := NewBatchProcessor(sender, st).ProcessBatch(context.Background(), "upload-1", leads("A", "B"), cfg, endpoint)

	require.Len(t, got, 2)
	assert.Equal(t, model.StatusSuccess, got[0].Status)
	assert.Equal(t, "hi", got[0].PersonalizedMessage)
	assert.Equal(t, model.StatusError, got[1].Status)
	assert.Equal(t, "bad", got[1].Error)

	assert.Equal(t, 1, sender.callCount())
	payload, ok := sender.calls[0].(webhook.BatchPayload)
	require.True(t, ok)
	require.Len(t, payload.BatchData, 2)
	assert.Equal(t, 1, payload.BatchData[1].Index)
	assert.Equal(t, "B", payload.BatchData[1].LeadData.Get("firstName"))

	want := []persistCall{
		{0, model.StatusProcessing, ""},
		{1, model.StatusProcessing, ""},
		{0, model.StatusSuccess, ""},
		{1, model.StatusError, "bad"},
	}
	assert.Equal(t, want, st.itemCalls())
}

func TestProcessBatch_CallFailsMarksEveryLead(t *testing.T) {
	sender := &scriptedSender{batch: webhook.Response{Success: false, Error: "webhook: request failed: connection refused"}}

	got := NewBatchProcessor(sender, nil).ProcessBatch(context.Background(), "upload-1", leads("A", "B"), model.PersonalizationConfig{ProductService: "CRM"}, endpoint)

	require.Len(t, got, 2)
	for i, r := range got {
		assert.Equal(t, i, r.Index)
		assert.Equal(t, model.StatusError, r.Status)
		assert.Equal(t, "webhook: request failed: connection refused", r.Error)
	}
}

func TestProcessBatch_NoBatchResults(t *testing.T) {
	sender := &scriptedSender{batch: webhook.Response{Success: true, Message: webhook.DefaultMessage}}

	got := NewBatchProcessor(sender, nil).ProcessBatch(context.Background(), "upload-1", leads("A", "B", "C"), model.PersonalizationConfig{ProductService: "CRM"}, endpoint)

	require.Len(t, got, 3)
	for _, r := range got {
		assert.Equal(t, model.StatusError, r.Status)
		assert.Equal(t, noBatchResultsReason, r.Error)
	}
}

func TestProcessBatch_MissingEntryFallback(t *testing.T) {
	sender := &scriptedSender{batch: webhook.Response{
		Success:      true,
		BatchResults: []webhook.BatchResult{{Index: 0, Success: true, PersonalizedMessage: "hi"}, {Index: 7, Success: true}},
	}}

	got := NewBatchProcessor(sender, nil).ProcessBatch(context.Background(), "upload-1", leads("A", "B"), model.PersonalizationConfig{ProductService: "CRM"}, endpoint)

	require.Len(t, got, 2)
	assert.Equal(t, model.StatusSuccess, got[0].Status)
	assert.Equal(t, model.StatusError, got[1].Status)
	assert.Equal(t, MissingResultReason, got[1].Error)
}

func TestProcessBatch_ExcludesRestrictedFields(t *testing.T) {
	sender := &scriptedSender{batch: webhook.Response{Success: true, BatchResults: []webhook.BatchResult{}}}
	cfg := model.PersonalizationConfig{
		ProductService: "CRM",
		Restrictions:   &model.DataRestrictions{ExcludeFields: []string{"email"}},
	}
	l := []model.Lead{{"firstName": model.String("A"), "email": model.String("a@example.com")}}

	NewBatchProcessor(sender, nil).ProcessBatch(context.Background(), "upload-1", l, cfg, endpoint)

	payload := sender.calls[0].(webhook.BatchPayload)
	_, hasEmail := payload.BatchData[0].LeadData["email"]
	assert.False(t, hasEmail)
	assert.Contains(t, payload.Message, "1 leads")
}

func TestRun_BatchMode(t *testing.T) {
	sender := &scriptedSender{batch: webhook.Response{
		Success: true,
		BatchResults: []webhook.BatchResult{
			{Index: 0, Success: true, PersonalizedMessage: "hi"},
			{Index: 1, Success: false, Error: "bad"},
		},
	}}
	st := &recordingStore{}

	req := request(leads("A", "B"))
	req.Mode = ModeBatch
	sum, err := New(sender, st, WithPacing(0)).Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, ModeBatch, sum.Mode)
	assert.Equal(t, []model.Status{model.StatusSuccess, model.StatusError}, statuses(sum.Results))
	assert.Equal(t, 1, sum.Stats.Success)
	assert.Equal(t, 1, sum.Stats.Error)
	assert.Equal(t, 1, sender.callCount())
	assert.Equal(t, []model.UploadStatus{model.UploadStatusProcessing, model.UploadStatusCompleted}, st.statuses)
}

func TestProcessBatch_FailureWithoutMessage(t *testing.T) {
	sender := &scriptedSender{batch: webhook.Response{
		Success: true,
		BatchResults: []webhook.BatchResult{
			{Index: 0, Success: false},
		},
	}}
	st := &recordingStore{}

	got := NewBatchProcessor(sender, st).ProcessBatch(context.Background(), "upload-1", leads("A", "B"), model.PersonalizationConfig{ProductService: "CRM"}, endpoint)

	require.Len(t, got, 2)
	assert.Equal(t, FailedResultReason, got[0].Error)
	assert.Equal(t, MissingResultReason, got[1].Error)
}

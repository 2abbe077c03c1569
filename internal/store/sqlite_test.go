package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func sampleLeads() []model.Lead {
	return []model.Lead{
		{"firstName": model.String("Ada"), "company": model.String("Analytical"), "employees": model.Number(12)},
		{"firstName": model.String("Grace"), "company": model.String("Navy"), "active": model.Bool(true)},
		{"firstName": model.String("Linus"), "company": model.Null()},
	}
}

// --- Batches ---

func TestSQLite_CreateAndGetBatch(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	id, err := st.CreateBatch(ctx, "owner-1", "leads.csv", 3)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	b, err := st.GetBatch(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, b.ID)
	assert.Equal(t, "owner-1", b.Owner)
	assert.Equal(t, "leads.csv", b.Filename)
	assert.Equal(t, 3, b.RowCount)
	assert.Equal(t, model.UploadStatusUploaded, b.Status)
	assert.False(t, b.UploadDate.IsZero())
}

func TestSQLite_CreateBatch_RequiresOwner(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.CreateBatch(context.Background(), "", "leads.csv", 1)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	out, err := st.ListBatches(context.Background(), BatchFilter{})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestSQLite_GetBatch_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetBatch(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_ListBatches_Filter(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	a, err := st.CreateBatch(ctx, "alice", "a.csv", 1)
	require.NoError(t, err)
	_, err = st.CreateBatch(ctx, "bob", "b.csv", 2)
	require.NoError(t, err)
	require.NoError(t, st.UpdateBatchStatus(ctx, a, model.UploadStatusCompleted))

	all, err := st.ListBatches(ctx, BatchFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	alice, err := st.ListBatches(ctx, BatchFilter{Owner: "alice"})
	require.NoError(t, err)
	require.Len(t, alice, 1)
	assert.Equal(t, a, alice[0].ID)

	done, err := st.ListBatches(ctx, BatchFilter{Status: model.UploadStatusCompleted})
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, "a.csv", done[0].Filename)

	limited, err := st.ListBatches(ctx, BatchFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSQLite_UpdateBatchStatus_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	err := st.UpdateBatchStatus(context.Background(), "nope", model.UploadStatusProcessing)
	assert.ErrorIs(t, err, ErrNotFound)
}

// --- Items ---

func TestSQLite_SaveAndListItems(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	id, err := st.CreateBatch(ctx, "owner-1", "leads.csv", 3)
	require.NoError(t, err)
	require.NoError(t, st.SaveItems(ctx, id, sampleLeads()))

	items, err := st.ListItems(ctx, id)
	require.NoError(t, err)
	require.Len(t, items, 3)

	for i, it := range items {
		assert.Equal(t, i, it.RowIndex)
		assert.Equal(t, model.StatusPending, it.Status)
		assert.Empty(t, it.PersonalizedMessage)
	}
	assert.Equal(t, "Ada", items[0].Data.Get("firstName"))
	assert.Equal(t, model.KindNumber, items[0].Data["employees"].Kind())
	assert.Equal(t, model.KindBool, items[1].Data["active"].Kind())
	assert.True(t, items[2].Data["company"].IsNull())

	leads := Leads(items)
	assert.Len(t, leads, 3)
	assert.Equal(t, "Grace", leads[1].Get("firstName"))
}

func TestSQLite_SaveItems_DuplicateFails(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	id, err := st.CreateBatch(ctx, "owner-1", "leads.csv", 3)
	require.NoError(t, err)
	require.NoError(t, st.SaveItems(ctx, id, sampleLeads()))
	assert.Error(t, st.SaveItems(ctx, id, sampleLeads()))

	items, err := st.ListItems(ctx, id)
	require.NoError(t, err)
	assert.Len(t, items, 3)
}

func TestSQLite_UpdateItemResult_Idempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	id, err := st.CreateBatch(ctx, "owner-1", "leads.csv", 3)
	require.NoError(t, err)
	require.NoError(t, st.SaveItems(ctx, id, sampleLeads()))

	require.NoError(t, st.UpdateItemResult(ctx, id, 1, model.ItemUpdate{Status: model.StatusProcessing}))
	update := model.ItemUpdate{Status: model.StatusSuccess, Message: "Hi Grace", Language: "English"}
	require.NoError(t, st.UpdateItemResult(ctx, id, 1, update))
	require.NoError(t, st.UpdateItemResult(ctx, id, 1, update))

	items, err := st.ListItems(ctx, id)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, model.StatusSuccess, items[1].Status)
	assert.Equal(t, "Hi Grace", items[1].PersonalizedMessage)
	assert.Equal(t, "English", items[1].Language)
	assert.Equal(t, "Grace", items[1].Data.Get("firstName"), "lead data survives the upsert")
}

func TestSQLite_UpdateItemResult_InsertsMissingRow(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	id, err := st.CreateBatch(ctx, "owner-1", "leads.csv", 1)
	require.NoError(t, err)

	require.NoError(t, st.UpdateItemResult(ctx, id, 0, model.ItemUpdate{Status: model.StatusError, Error: "boom"}))

	items, err := st.ListItems(ctx, id)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, model.StatusError, items[0].Status)
	assert.Equal(t, "boom", items[0].Error)
}

// --- Config ---

func TestSQLite_SaveConfig_Upsert(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	id, err := st.CreateBatch(ctx, "owner-1", "leads.csv", 1)
	require.NoError(t, err)

	_, err = st.GetConfig(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)

	cfg := model.PersonalizationConfig{
		ProductService: "CRM software",
		Tonality:       model.TonalityFriendly,
		Upsell:         &model.UpsellOptions{Enabled: true, Products: []string{"Analytics"}},
		Restrictions:   &model.DataRestrictions{ExcludeFields: []string{"phone"}},
	}
	require.NoError(t, st.SaveConfig(ctx, id, cfg))

	cfg.Tonality = model.TonalityDirect
	cfg.Language = "German"
	require.NoError(t, st.SaveConfig(ctx, id, cfg))

	got, err := st.GetConfig(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, cfg, *got)
}

package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/resilience"
)

func TestSend_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var got ItemPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, "write something", got.Message)
		assert.Equal(t, "Ada", got.LeadData.Get("firstName"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"message":"Hi Ada, ...","searchParameters":{"industry":"saas"}}`))
	}))
	defer srv.Close()

	resp := NewClient().Send(context.Background(), srv.URL, ItemPayload{
		Message:  "write something",
		LeadData: model.Lead{"firstName": model.String("Ada")},
	})

	assert.True(t, resp.Success)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Hi Ada, ...", resp.Message)
	assert.Equal(t, "Hi Ada, ...", resp.PersonalizedMessage)
	assert.JSONEq(t, `{"industry":"saas"}`, string(resp.SearchParameters))
	assert.Empty(t, resp.Error)
}

func TestSend_PrefersPersonalizedMessageField(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":"Workflow was started","personalizedMessage":"Hello Grace"}`))
	}))
	defer srv.Close()

	resp := NewClient().Send(context.Background(), srv.URL, map[string]string{})
	assert.True(t, resp.Success)
	assert.Equal(t, "Workflow was started", resp.Message)
	assert.Equal(t, "Hello Grace", resp.PersonalizedMessage)
}

func TestSend_ArrayResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"output":"Hey there"}]`))
	}))
	defer srv.Close()

	resp := NewClient().Send(context.Background(), srv.URL, map[string]string{})
	assert.True(t, resp.Success)
	assert.Equal(t, "Hey there", resp.PersonalizedMessage)
}

func TestSend_EmptyBodyDefaultsMessage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	resp := NewClient().Send(context.Background(), srv.URL, map[string]string{})
	assert.True(t, resp.Success)
	assert.Equal(t, DefaultMessage, resp.Message)
	assert.Empty(t, resp.PersonalizedMessage)
}

func TestSend_NonJSONBodyStillSucceeds(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`Workflow got started.`))
	}))
	defer srv.Close()

	resp := NewClient().Send(context.Background(), srv.URL, map[string]string{})
	assert.True(t, resp.Success)
	assert.Equal(t, DefaultMessage, resp.Message)
}

func TestSend_HTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"webhook not registered"}`))
	}))
	defer srv.Close()

	resp := NewClient().Send(context.Background(), srv.URL, map[string]string{})
	assert.False(t, resp.Success)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, resp.Error, "404")
	assert.Contains(t, resp.Error, "webhook not registered")
}

func TestSend_RemoteReportedFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"error":"quota exceeded"}`))
	}))
	defer srv.Close()

	resp := NewClient().Send(context.Background(), srv.URL, map[string]string{})
	assert.False(t, resp.Success)
	assert.Equal(t, "quota exceeded", resp.Error)
}

func TestSend_RemoteErrorObject(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":{"message":"node failed"}}`))
	}))
	defer srv.Close()

	resp := NewClient().Send(context.Background(), srv.URL, map[string]string{})
	assert.False(t, resp.Success)
	assert.Equal(t, "node failed", resp.Error)
}

func TestSend_TransportErrorNeverPanics(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	resp := NewClient().Send(context.Background(), url, map[string]string{})
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "request failed")
	assert.Zero(t, resp.StatusCode)
}

func TestSend_Timeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	resp := NewClient(WithTimeout(20*time.Millisecond)).Send(context.Background(), srv.URL, map[string]string{})
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Error)
}

func TestSend_InvalidEndpoint(t *testing.T) {
	t.Parallel()

	resp := NewClient().Send(context.Background(), "://nope", map[string]string{})
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "create request")
}

func TestSend_RetriesTransientStatus(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"message":"ok"}`))
	}))
	defer srv.Close()

	client := NewClient(WithRetry(resilience.Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond}))
	resp := client.Send(context.Background(), srv.URL, map[string]string{})

	assert.True(t, resp.Success)
	assert.Equal(t, int32(3), calls.Load())
}

func TestSend_DefaultIsSingleAttempt(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	resp := NewClient().Send(context.Background(), srv.URL, map[string]string{})
	assert.False(t, resp.Success)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSend_BatchResults(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var got BatchPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Len(t, got.BatchData, 2)

		w.Write([]byte(`{"batchResults":[{"index":0,"success":true,"personalizedMessage":"hi"},{"index":1,"success":false,"error":"bad"}]}`))
	}))
	defer srv.Close()

	resp := NewClient().Send(context.Background(), srv.URL, BatchPayload{
		BatchData: []BatchLead{{Index: 0}, {Index: 1}},
	})

	require.True(t, resp.Success)
	require.Len(t, resp.BatchResults, 2)
	assert.Equal(t, BatchResult{Index: 0, Success: true, PersonalizedMessage: "hi"}, resp.BatchResults[0])
	assert.Equal(t, BatchResult{Index: 1, Success: false, Error: "bad"}, resp.BatchResults[1])
}

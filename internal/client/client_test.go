package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sumire/agentdesk/internal/domain"
	"github.com/sumire/agentdesk/internal/runtoken"
)

func TestClientSendsRunTokenAndDecodesData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tok", r.Header.Get(runtoken.Header))
		assert.Equal(t, "/progress/3/plan", r.URL.Path)

		var body map[string][]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []string{"a", "b"}, body["steps"])

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []domain.Step{
			{TaskID: 3, Index: 0, Description: "a", Status: domain.StepStatusPending},
			{TaskID: 3, Index: 1, Description: "b", Status: domain.StepStatusPending},
		}})
	}))
	defer srv.Close()

	steps, err := New(srv.URL+"/", "tok").CreatePlan(context.Background(), 3, []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, "b", steps[1].Description)
}

func TestClientReturnsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":{"code":"invalid_transition","message":"task 1 is assigned"}}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, "").Claim(context.Background(), 1)
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "invalid_transition", apiErr.Code)
	assert.Contains(t, err.Error(), "task 1 is assigned")
}

func TestClientIncludesValidationDetails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":"validation_error","message":"Validation failed","details":[{"field":"steps","message":"step 1 is blank"}]}}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, "").CreatePlan(context.Background(), 1, []string{"a", " "})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "steps: step 1 is blank")
}

func TestClientNonJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(srv.URL, "").Progress(context.Background(), 1)
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
}

func TestWaitForAnswerSendsMilliseconds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1500", r.URL.Query().Get("timeout"))
		_, _ = w.Write([]byte(`{"data":{"answered":true,"answer":"42"}}`))
	}))
	defer srv.Close()

	res, err := New(srv.URL, "").WaitForAnswer(context.Background(), 9, 1500*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, res.Answered)
	assert.Equal(t, "42", *res.Answer)
}

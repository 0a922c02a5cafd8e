package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	platformerrors "github.com/jmgilman/go/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ashour158/Desk-sub003/internal/outbox"
)

func TestNewClient_Validation(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		wantErr bool
	}{
		{name: "valid", baseURL: "https://desk.example.com", wantErr: false},
		{name: "trailing slash", baseURL: "https://desk.example.com/", wantErr: false},
		{name: "empty", baseURL: "", wantErr: true},
		{name: "relative", baseURL: "/api", wantErr: true},
		{name: "wrong scheme", baseURL: "ftp://desk.example.com", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(nil, tt.baseURL, nil)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, client)
		})
	}
}

func TestSubmit_Ticket(t *testing.T) {
	var (
		gotPath   string
		gotMethod string
		gotAuth   string
		gotType   string
		gotBody   []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	client, err := NewClient(srv.Client(), srv.URL, nil)
	require.NoError(t, err)

	record := outbox.Record{
		ID:       "r1",
		Resource: outbox.ResourceTicket,
		Payload:  json.RawMessage(`{"subject":"printer is on fire"}`),
		Token:    "token-abc",
	}
	require.NoError(t, client.Submit(context.Background(), record))

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/api/tickets", gotPath)
	assert.Equal(t, "Bearer token-abc", gotAuth)
	assert.Equal(t, "application/json", gotType)
	assert.JSONEq(t, `{"subject":"printer is on fire"}`, string(gotBody))
}

func TestSubmit_Comment(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		wantPath string
	}{
		{
			name:     "string ticket id",
			payload:  `{"ticket_id":"42","body":"still broken"}`,
			wantPath: "/api/tickets/42/comments",
		},
		{
			name:     "numeric ticket id",
			payload:  `{"ticket_id":42,"body":"still broken"}`,
			wantPath: "/api/tickets/42/comments",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotPath string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotPath = r.URL.Path
				w.WriteHeader(http.StatusOK)
			}))
			defer srv.Close()

			client, err := NewClient(srv.Client(), srv.URL, nil)
			require.NoError(t, err)

			record := outbox.Record{
				Resource: outbox.ResourceComment,
				Payload:  json.RawMessage(tt.payload),
				Token:    "token-abc",
			}
			require.NoError(t, client.Submit(context.Background(), record))
			assert.Equal(t, tt.wantPath, gotPath)
		})
	}
}

func TestSubmit_CommentWithoutTicketID(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	client, err := NewClient(srv.Client(), srv.URL, nil)
	require.NoError(t, err)

	record := outbox.Record{
		Resource: outbox.ResourceComment,
		Payload:  json.RawMessage(`{"body":"orphan comment"}`),
	}
	err = client.Submit(context.Background(), record)

	require.Error(t, err)
	assert.Equal(t, platformerrors.CodeInvalidInput, platformerrors.GetCode(err))
	assert.Zero(t, calls.Load(), "a malformed record must not reach the network")
}

func TestSubmit_StatusMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantCode platformerrors.ErrorCode
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, wantCode: platformerrors.CodeUnauthorized},
		{name: "forbidden", status: http.StatusForbidden, wantCode: platformerrors.CodeUnauthorized},
		{name: "server error", status: http.StatusInternalServerError, wantCode: platformerrors.CodeNetwork},
		{name: "bad request", status: http.StatusBadRequest, wantCode: platformerrors.CodeNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			client, err := NewClient(srv.Client(), srv.URL, nil)
			require.NoError(t, err)

			record := outbox.Record{
				Resource: outbox.ResourceTicket,
				Payload:  json.RawMessage(`{}`),
			}
			err = client.Submit(context.Background(), record)

			require.Error(t, err)
			assert.Equal(t, tt.wantCode, platformerrors.GetCode(err))
		})
	}
}

func TestSubmit_AcceptsAny2xx(t *testing.T) {
	for _, status := range []int{http.StatusOK, http.StatusCreated, http.StatusAccepted, http.StatusNoContent} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		client, err := NewClient(srv.Client(), srv.URL, nil)
		require.NoError(t, err)

		record := outbox.Record{Resource: outbox.ResourceTicket, Payload: json.RawMessage(`{}`)}
		assert.NoError(t, client.Submit(context.Background(), record), status)
		srv.Close()
	}
}

func TestSubmit_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	client, err := NewClient(srv.Client(), srv.URL, nil)
	require.NoError(t, err)
	srv.Close()

	record := outbox.Record{Resource: outbox.ResourceTicket, Payload: json.RawMessage(`{}`)}
	err = client.Submit(context.Background(), record)

	require.Error(t, err)
	assert.Equal(t, platformerrors.CodeNetwork, platformerrors.GetCode(err))
}

func TestSubmit_UnknownResource(t *testing.T) {
	client, err := NewClient(nil, "https://desk.example.com", nil)
	require.NoError(t, err)

	record := outbox.Record{Resource: outbox.Resource("invoice"), Payload: json.RawMessage(`{}`)}
	err = client.Submit(context.Background(), record)

	assert.ErrorIs(t, err, outbox.ErrUnknownResource)
}

func TestSubmit_NoTokenMeansNoAuthorizationHeader(t *testing.T) {
	var gotAuth string
	var sawHeader bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, sawHeader = r.Header["Authorization"]
	}))
	defer srv.Close()

	client, err := NewClient(srv.Client(), srv.URL, nil)
	require.NoError(t, err)

	record := outbox.Record{Resource: outbox.ResourceTicket, Payload: json.RawMessage(`{}`)}
	require.NoError(t, client.Submit(context.Background(), record))

	assert.False(t, sawHeader)
	assert.Empty(t, gotAuth)
}

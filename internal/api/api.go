// Package api submits deferred help-desk mutations to the remote
// backend. It implements the network half of queue replay: ticket
// records become ticket-creation calls, comment records become
// per-ticket comment-creation calls.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	platformerrors "github.com/jmgilman/go/errors"

	"github.com/Ashour158/Desk-sub003/internal/logging"
	"github.com/Ashour158/Desk-sub003/internal/outbox"
)

// defaultSubmitTimeout bounds one submission when the supplied client
// carries no timeout of its own.
const defaultSubmitTimeout = 30 * time.Second

// Submitter replays one queued mutation against the remote API. A nil
// error means the backend accepted the write and the record may be
// removed from the queue.
type Submitter interface {
	Submit(ctx context.Context, record outbox.Record) error
}

// Client is the HTTP Submitter.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *logging.Logger
}

// NewClient builds a Client for the API at baseURL.
func NewClient(httpClient *http.Client, baseURL string, logger *logging.Logger) (*Client, error) {
	if baseURL == "" {
		return nil, platformerrors.New(platformerrors.CodeInvalidConfig,
			"API base URL is required")
	}

	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, platformerrors.Wrap(err, platformerrors.CodeInvalidConfig,
			"API base URL is not a valid URL")
	}
	if !parsed.IsAbs() || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, platformerrors.Newf(platformerrors.CodeInvalidConfig,
			"API base URL must be absolute http(s), got %q", baseURL)
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultSubmitTimeout}
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		logger:     logger,
	}, nil
}

// Submit posts the record's payload to the endpoint its resource type
// selects. Any 2xx status is success.
func (c *Client) Submit(ctx context.Context, record outbox.Record) error {
	start := time.Now()

	endpoint, err := c.endpointFor(record)
	if err == nil {
		err = c.post(ctx, endpoint, record)
	}

	logging.LogOperation(ctx, c.logger, logging.OpSubmit, time.Since(start), err == nil, err,
		"resource", string(record.Resource), "id", record.ID)

	return err
}

// endpointFor maps a record onto its remote endpoint.
func (c *Client) endpointFor(record outbox.Record) (string, error) {
	switch record.Resource {
	case outbox.ResourceTicket:
		return c.baseURL + "/api/tickets", nil
	case outbox.ResourceComment:
		ticketID, err := ticketIDFromPayload(record.Payload)
		if err != nil {
			return "", err
		}
		return c.baseURL + "/api/tickets/" + url.PathEscape(ticketID) + "/comments", nil
	default:
		return "", platformerrors.Wrapf(outbox.ErrUnknownResource,
			platformerrors.CodeInvalidInput, "cannot submit resource %q", record.Resource)
	}
}

func (c *Client) post(ctx context.Context, endpoint string, record outbox.Record) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		bytes.NewReader(record.Payload))
	if err != nil {
		return platformerrors.Wrap(err, platformerrors.CodeInvalidInput,
			"failed to build submission request")
	}

	req.Header.Set("Content-Type", "application/json")
	if record.Token != "" {
		req.Header.Set("Authorization", "Bearer "+record.Token)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return platformerrors.Wrap(err, platformerrors.CodeNetwork,
			"mutation submission failed")
	}
	defer func() {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, res.Body)
		res.Body.Close()
	}()

	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return nil
	}

	if res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden {
		return platformerrors.Newf(platformerrors.CodeUnauthorized,
			"remote API rejected the mutation: status %d", res.StatusCode)
	}
	return platformerrors.Newf(platformerrors.CodeNetwork,
		"remote API rejected the mutation: status %d", res.StatusCode)
}

// ticketIDFromPayload pulls the target ticket id out of a comment
// payload. Both string and numeric ids are accepted.
func ticketIDFromPayload(payload []byte) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var body struct {
		TicketID any `json:"ticket_id"`
	}
	if err := dec.Decode(&body); err != nil {
		return "", platformerrors.Wrap(err, platformerrors.CodeInvalidInput,
			"comment payload is not valid JSON")
	}

	switch id := body.TicketID.(type) {
	case string:
		if id != "" {
			return id, nil
		}
	case json.Number:
		return id.String(), nil
	}

	return "", platformerrors.New(platformerrors.CodeInvalidInput,
		"comment payload is missing ticket_id")
}

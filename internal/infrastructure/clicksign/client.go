// Package clicksign implements the e-signature provider client against the
// ClickSign envelope API.
package clicksign

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/simpix/formalization/internal/infrastructure"
	"github.com/simpix/formalization/pkg/types/errs"
)

const (
	_defaultTimeout    = 30 * time.Second
	_defaultMaxElapsed = 2 * time.Minute
)

type Client struct {
	baseURL     string
	accessToken string

	httpClient *http.Client
	maxElapsed time.Duration
}

func New(baseURL, accessToken string, opts ...Option) *Client {
	c := &Client{
		baseURL:     baseURL,
		accessToken: accessToken,
		httpClient:  &http.Client{Timeout: _defaultTimeout},
		maxElapsed:  _defaultMaxElapsed,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

type envelopeAttributes struct {
	Name       string `json:"name,omitempty"`
	DeadlineAt string `json:"deadline_at,omitempty"`
	Status     string `json:"status,omitempty"`
	UpdatedAt  string `json:"updated_at,omitempty"`
}

type envelopeData struct {
	ID         string             `json:"id,omitempty"`
	Type       string             `json:"type"`
	Attributes envelopeAttributes `json:"attributes"`
}

type envelopeBody struct {
	Data envelopeData `json:"data"`
}

type documentAttributes struct {
	Filename      string `json:"filename,omitempty"`
	ContentBase64 string `json:"content_base64,omitempty"`
}

type documentData struct {
	ID         string             `json:"id,omitempty"`
	Type       string             `json:"type"`
	Attributes documentAttributes `json:"attributes"`
}

type signerAttributes struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Dispatch runs the envelope flow: create the envelope, attach the document,
// add the signer and finish. The returned envelope key is the provider id the
// webhooks and the reconciler use to address this signature request.
func (c *Client) Dispatch(ctx context.Context, req infrastructure.DispatchRequest) (string, error) {
	envBody := envelopeBody{Data: envelopeData{
		Type: "envelopes",
		Attributes: envelopeAttributes{
			Name:       req.DocumentName,
			DeadlineAt: req.Deadline.Format(time.RFC3339),
		},
	}}

	var envResp envelopeBody
	if err := c.doJSON(ctx, http.MethodPost, "/envelopes", envBody, &envResp); err != nil {
		return "", fmt.Errorf("Client - Dispatch - create envelope: %w", err)
	}

	envelopeKey := envResp.Data.ID
	if envelopeKey == "" {
		return "", fmt.Errorf("Client - Dispatch: empty envelope id in response")
	}

	docBody := struct {
		Data documentData `json:"data"`
	}{Data: documentData{
		Type: "documents",
		Attributes: documentAttributes{
			Filename:      req.DocumentName + ".pdf",
			ContentBase64: "data:application/pdf;base64," + base64.StdEncoding.EncodeToString(req.Document),
		},
	}}

	if err := c.doJSON(ctx, http.MethodPost, "/envelopes/"+envelopeKey+"/documents", docBody, nil); err != nil {
		return "", fmt.Errorf("Client - Dispatch - attach document: %w", err)
	}

	signerBody := struct {
		Data struct {
			Type       string           `json:"type"`
			Attributes signerAttributes `json:"attributes"`
		} `json:"data"`
	}{}
	signerBody.Data.Type = "signers"
	signerBody.Data.Attributes = signerAttributes{Name: req.SignerName, Email: req.SignerEmail}

	if err := c.doJSON(ctx, http.MethodPost, "/envelopes/"+envelopeKey+"/signers", signerBody, nil); err != nil {
		return "", fmt.Errorf("Client - Dispatch - add signer: %w", err)
	}

	if err := c.doJSON(ctx, http.MethodPost, "/envelopes/"+envelopeKey+"/finish", struct{}{}, nil); err != nil {
		return "", fmt.Errorf("Client - Dispatch - finish envelope: %w", err)
	}

	return envelopeKey, nil
}

func (c *Client) EnvelopeStatus(ctx context.Context, envelopeKey string) (*infrastructure.EnvelopeStatus, error) {
	var resp envelopeBody
	if err := c.doJSON(ctx, http.MethodGet, "/envelopes/"+envelopeKey, nil, &resp); err != nil {
		return nil, fmt.Errorf("Client - EnvelopeStatus: %w", err)
	}

	updatedAt, _ := time.Parse(time.RFC3339, resp.Data.Attributes.UpdatedAt)

	return &infrastructure.EnvelopeStatus{
		Key:       envelopeKey,
		State:     resp.Data.Attributes.Status,
		UpdatedAt: updatedAt,
	}, nil
}

type signingEventAttributes struct {
	Name       string `json:"name"`
	Signer     string `json:"signer,omitempty"`
	OccurredAt string `json:"occurred_at,omitempty"`
}

// EnvelopeEvents fetches the envelope's audit trail: every recorded action
// (created, viewed, signed, finished) with its actor and timestamp.
func (c *Client) EnvelopeEvents(ctx context.Context, envelopeKey string) ([]infrastructure.SigningEvent, error) {
	var resp struct {
		Data []struct {
			Attributes signingEventAttributes `json:"attributes"`
		} `json:"data"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/envelopes/"+envelopeKey+"/events", nil, &resp); err != nil {
		return nil, fmt.Errorf("Client - EnvelopeEvents: %w", err)
	}

	events := make([]infrastructure.SigningEvent, 0, len(resp.Data))
	for _, item := range resp.Data {
		occurredAt, _ := time.Parse(time.RFC3339, item.Attributes.OccurredAt)
		events = append(events, infrastructure.SigningEvent{
			Name:       item.Attributes.Name,
			Signer:     item.Attributes.Signer,
			OccurredAt: occurredAt,
		})
	}

	return events, nil
}

// DownloadSignedDocument fetches the signed artifact. The endpoint answers
// either raw PDF bytes or a JSON wrapper with the content base64-encoded,
// both shapes are handled.
func (c *Client) DownloadSignedDocument(ctx context.Context, envelopeKey string) ([]byte, error) {
	var docs struct {
		Data []documentData `json:"data"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/envelopes/"+envelopeKey+"/documents", nil, &docs); err != nil {
		return nil, fmt.Errorf("Client - DownloadSignedDocument - list documents: %w", err)
	}
	if len(docs.Data) == 0 {
		return nil, fmt.Errorf("Client - DownloadSignedDocument: envelope %s has no documents", envelopeKey)
	}

	path := "/envelopes/" + envelopeKey + "/documents/" + docs.Data[0].ID + "/download"

	body, contentType, err := c.doRaw(ctx, http.MethodGet, path)
	if err != nil {
		return nil, fmt.Errorf("Client - DownloadSignedDocument - download: %w", err)
	}

	if bytes.HasPrefix(body, []byte("%PDF")) {
		return body, nil
	}

	if contentType == "application/json" || contentType == "application/vnd.api+json" {
		var wrapped struct {
			ContentBase64 string `json:"content_base64"`
		}
		if err := json.Unmarshal(body, &wrapped); err != nil {
			return nil, fmt.Errorf("Client - DownloadSignedDocument - json.Unmarshal: %w", err)
		}

		decoded, err := base64.StdEncoding.DecodeString(wrapped.ContentBase64)
		if err != nil {
			return nil, fmt.Errorf("Client - DownloadSignedDocument - base64.DecodeString: %w", err)
		}

		return decoded, nil
	}

	return nil, fmt.Errorf("Client - DownloadSignedDocument: unexpected content type %q", contentType)
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("json.Marshal: %w", err)
		}
	}

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("http.NewRequestWithContext: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/vnd.api+json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("httpClient.Do: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return fmt.Errorf("io.ReadAll: %w", err)
		}

		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("status %d: %w", resp.StatusCode, errs.ErrProviderUnavailable)
		}
		if resp.StatusCode >= http.StatusBadRequest {
			return backoff.Permanent(fmt.Errorf("status %d: %s", resp.StatusCode, body))
		}

		if out != nil {
			if err := json.Unmarshal(body, out); err != nil {
				return backoff.Permanent(fmt.Errorf("json.Unmarshal: %w", err))
			}
		}

		return nil
	}

	return backoff.Retry(operation, c.newBackoff(ctx))
}

func (c *Client) doRaw(ctx context.Context, method, path string) ([]byte, string, error) {
	var (
		body        []byte
		contentType string
	)

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("http.NewRequestWithContext: %w", err))
		}
		req.Header.Set("Accept", "application/pdf, application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("httpClient.Do: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("status %d: %w", resp.StatusCode, errs.ErrProviderUnavailable)
		}
		if resp.StatusCode >= http.StatusBadRequest {
			return backoff.Permanent(fmt.Errorf("status %d", resp.StatusCode))
		}

		body, err = io.ReadAll(io.LimitReader(resp.Body, 32<<20))
		if err != nil {
			return fmt.Errorf("io.ReadAll: %w", err)
		}

		contentType = resp.Header.Get("Content-Type")

		return nil
	}

	if err := backoff.Retry(operation, c.newBackoff(ctx)); err != nil {
		return nil, "", err
	}

	return body, contentType, nil
}

func (c *Client) endpoint(path string) string {
	return c.baseURL + path + "?access_token=" + url.QueryEscape(c.accessToken)
}

func (c *Client) newBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = c.maxElapsed

	return backoff.WithContext(b, ctx)
}

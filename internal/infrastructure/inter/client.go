// Package inter implements the banking provider client against the Banco
// Inter cobranca v3 API (boleto with embedded PIX).
package inter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/simpix/formalization/internal/infrastructure"
	"github.com/simpix/formalization/pkg/types/errs"
)

const (
	_defaultTimeout    = 30 * time.Second
	_defaultMaxElapsed = 2 * time.Minute

	// tokenSlack is subtracted from expires_in so a token is never used in
	// the last seconds of its validity.
	_tokenSlack = 5 * time.Minute

	_scopes = "boleto-cobranca.read boleto-cobranca.write"
)

type Client struct {
	baseURL      string
	clientID     string
	clientSecret string

	httpClient *http.Client
	maxElapsed time.Duration

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func New(baseURL, clientID, clientSecret string, opts ...Option) *Client {
	c := &Client{
		baseURL:      baseURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: _defaultTimeout},
		maxElapsed:   _defaultMaxElapsed,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

type cobrancaRequest struct {
	SeuNumero      string  `json:"seuNumero"`
	ValorNominal   string  `json:"valorNominal"`
	DataVencimento string  `json:"dataVencimento"`
	NumDiasAgenda  int     `json:"numDiasAgenda"`
	Pagador        pagador `json:"pagador"`
}

type pagador struct {
	Nome       string `json:"nome"`
	CpfCnpj    string `json:"cpfCnpj"`
	TipoPessoa string `json:"tipoPessoa"`
}

type cobranca struct {
	CodigoSolicitacao string `json:"codigoSolicitacao"`
	SeuNumero         string `json:"seuNumero"`
	Situacao          string `json:"situacao"`
	ValorRecebido     string `json:"valorRecebido"`
	DataHoraSituacao  string `json:"dataHoraSituacao"`
	TipoCobranca      string `json:"tipoCobranca"`
}

func (c *Client) IssueCollection(ctx context.Context, req infrastructure.IssueCollectionRequest) (string, error) {
	tipoPessoa := "FISICA"
	if len(onlyDigits(req.PayerTaxID)) == 14 {
		tipoPessoa = "JURIDICA"
	}

	body := cobrancaRequest{
		SeuNumero:      req.Reference,
		ValorNominal:   formatCents(req.AmountCents),
		DataVencimento: req.DueDate.Format("2006-01-02"),
		NumDiasAgenda:  60,
		Pagador: pagador{
			Nome:       req.PayerName,
			CpfCnpj:    onlyDigits(req.PayerTaxID),
			TipoPessoa: tipoPessoa,
		},
	}

	var resp struct {
		CodigoSolicitacao string `json:"codigoSolicitacao"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/cobranca/v3/cobrancas", body, &resp); err != nil {
		return "", fmt.Errorf("Client - IssueCollection: %w", err)
	}
	if resp.CodigoSolicitacao == "" {
		return "", fmt.Errorf("Client - IssueCollection: empty codigoSolicitacao in response")
	}

	return resp.CodigoSolicitacao, nil
}

func (c *Client) CollectionStatus(ctx context.Context, collectionRef string) (*infrastructure.CollectionStatus, error) {
	var resp struct {
		Cobranca cobranca `json:"cobranca"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/cobranca/v3/cobrancas/"+url.PathEscape(collectionRef), nil, &resp); err != nil {
		return nil, fmt.Errorf("Client - CollectionStatus: %w", err)
	}

	status := &infrastructure.CollectionStatus{
		Ref:             collectionRef,
		Situation:       resp.Cobranca.Situacao,
		PaidAmountCents: parseCents(resp.Cobranca.ValorRecebido),
		PaymentMethod:   strings.ToLower(resp.Cobranca.TipoCobranca),
	}

	if t, err := time.Parse(time.RFC3339, resp.Cobranca.DataHoraSituacao); err == nil {
		status.PaidAt = &t
	}

	return status, nil
}

// CollectionPDF fetches the printable slip. The endpoint wraps the file in a
// JSON field as base64.
func (c *Client) CollectionPDF(ctx context.Context, collectionRef string) ([]byte, error) {
	var resp struct {
		PDF string `json:"pdf"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/cobranca/v3/cobrancas/"+url.PathEscape(collectionRef)+"/pdf", nil, &resp); err != nil {
		return nil, fmt.Errorf("Client - CollectionPDF: %w", err)
	}

	raw := strings.TrimPrefix(resp.PDF, "data:application/pdf;base64,")

	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("Client - CollectionPDF - base64.DecodeString: %w", err)
	}
	if !bytes.HasPrefix(decoded, []byte("%PDF")) {
		return nil, fmt.Errorf("Client - CollectionPDF: response is not a PDF")
	}

	return decoded, nil
}

// token returns a cached OAuth2 access token, fetching a fresh one via the
// client_credentials grant when the cache is empty or about to expire.
func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)
	form.Set("scope", _scopes)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth/v2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("Client - token - http.NewRequestWithContext: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("Client - token - httpClient.Do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("Client - token: status %d: %w", resp.StatusCode, errs.ErrProviderUnavailable)
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("Client - token - json.Decode: %w", err)
	}

	c.accessToken = tokenResp.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(tokenResp.ExpiresIn)*time.Second - _tokenSlack)

	return c.accessToken, nil
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
		token, err := c.token(ctx)
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("http.NewRequestWithContext: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("httpClient.Do: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
		if err != nil {
			return fmt.Errorf("io.ReadAll: %w", err)
		}

		if resp.StatusCode == http.StatusUnauthorized {
			// Token may have been revoked server-side; drop the cache and
			// let the next attempt fetch a fresh one.
			c.mu.Lock()
			c.accessToken = ""
			c.mu.Unlock()

			return fmt.Errorf("status %d: %w", resp.StatusCode, errs.ErrProviderUnavailable)
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

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = c.maxElapsed

	return backoff.Retry(operation, backoff.WithContext(b, ctx))
}

func formatCents(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}

func parseCents(s string) int64 {
	if s == "" {
		return 0
	}

	whole, frac, _ := strings.Cut(s, ".")

	var cents int64
	fmt.Sscan(whole, &cents)
	cents *= 100

	if len(frac) > 0 {
		if len(frac) > 2 {
			frac = frac[:2]
		}
		for len(frac) < 2 {
			frac += "0"
		}

		var f int64
		fmt.Sscan(frac, &f)
		cents += f
	}

	return cents
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}

	return b.String()
}

package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"taxledger/internal/types"
)

// DocumentsClientConfig holds the configuration for creating a
// DocumentsClient.
type DocumentsClientConfig struct {
	BaseURL string
	APIKey  string
	Logger  *slog.Logger
}

// DocumentsClient talks to the portal's document service, which owns all
// uploaded files (payment proofs, generated invoice PDFs). The ledger never
// stores file contents, only document IDs, so before an ID is referenced
// from an invoice its ownership must be confirmed here.
type DocumentsClient struct {
	base    *BaseClient
	baseURL string
	apiKey  string
	logger  *slog.Logger
}

// NewDocumentsClient creates a DocumentsClient routed through a fresh
// BaseClient.
func NewDocumentsClient(httpClient *http.Client, cfg DocumentsClientConfig) *DocumentsClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	base := NewBaseClient(
		httpClient,
		"documents",
		RetryPolicy{
			MaxRetries: 2,
			MinWait:    500 * time.Millisecond,
			MaxWait:    5 * time.Second,
		},
		"TaxLedger/1.0",
	)

	return &DocumentsClient{
		base:    base,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		logger:  logger,
	}
}

// NewDocumentsClientWithBase creates a DocumentsClient with a pre-configured
// BaseClient. Useful in tests to disable retries.
func NewDocumentsClientWithBase(base *BaseClient, cfg DocumentsClientConfig) *DocumentsClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentsClient{
		base:    base,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		logger:  logger,
	}
}

// documentMeta is the slice of the document service's metadata response the
// ledger cares about.
type documentMeta struct {
	ID       string `json:"id"`
	ClientID string `json:"client_id"`
}

// VerifyOwnership confirms that documentID exists in the document service
// and belongs to clientID.
//
// Error mapping:
//   - 404 -> types.ErrCodeNotFoundDocument
//   - 200 with a different client_id -> types.ErrCodeNotFoundDocument
//     (the document is invisible to this client, not merely forbidden)
//   - 429/5xx/breaker open -> handled by BaseClient (upstream codes)
//   - other 4xx -> types.ErrCodeUpstreamDocuments
func (c *DocumentsClient) VerifyOwnership(ctx context.Context, clientID, documentID string) error {
	reqURL := fmt.Sprintf("%s/internal/documents/%s", c.baseURL, url.PathEscape(documentID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create document lookup request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.base.Do(req)
	if err != nil {
		return c.wrapTransportError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// Fall through to the ownership check below.
	case resp.StatusCode == http.StatusNotFound:
		return types.NewAppError(types.ErrCodeNotFoundDocument, "document not found", nil)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return types.NewAppError(
			types.ErrCodeUpstreamDocuments,
			fmt.Sprintf("document service returned %d: %s", resp.StatusCode, string(body)),
			nil,
		)
	}

	var meta documentMeta
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamDocuments, "document service returned an unreadable response", err)
	}
	if meta.ClientID != clientID {
		c.logger.WarnContext(ctx, "document ownership check failed",
			"document_id", documentID,
			"client_id", clientID,
		)
		// Deliberately indistinguishable from a missing document.
		return types.NewAppError(types.ErrCodeNotFoundDocument, "document not found", nil)
	}
	return nil
}

// wrapTransportError passes through AppErrors from BaseClient and wraps
// anything else as a document service failure.
func (c *DocumentsClient) wrapTransportError(err error) error {
	if _, ok := err.(*types.AppError); ok {
		return err
	}
	return types.NewAppError(types.ErrCodeUpstreamDocuments, "document service request failed", err)
}

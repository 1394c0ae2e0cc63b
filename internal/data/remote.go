package data

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nightdose/nightdose/internal/biz/repo"
)

// remoteRepo submits sync payloads to the remote mirror over HTTP
type remoteRepo struct {
	endpoint   string
	httpClient *http.Client
}

// NewRemoteRepo creates a remote mirror client
func NewRemoteRepo(endpoint string) repo.RemoteRepo {
	return &remoteRepo{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Submit posts a payload; 2xx and 409 (already stored) count as delivered
func (r *remoteRepo) Submit(ctx context.Context, idempotencyKey string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: failed to create request: %v", repo.ErrPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 || resp.StatusCode == http.StatusConflict {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if isPermanentStatus(resp.StatusCode) {
		return fmt.Errorf("%w: status %d: %s", repo.ErrPermanent, resp.StatusCode, string(body))
	}
	return fmt.Errorf("remote returned status %d: %s", resp.StatusCode, string(body))
}

func isPermanentStatus(code int) bool {
	if code < 400 || code >= 500 {
		return false
	}
	return code != http.StatusRequestTimeout && code != http.StatusTooManyRequests
}

// Package kms provides the client for the external key-management service
// that unwraps room private keys.
package kms

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/roomvault/roomvault/internal/errs"
)

// Client calls the KMS decrypt endpoint. Stateless; one request per unwrap.
// Unwrap is idempotent and safe for callers to retry; the client itself
// never retries.
type Client struct {
	base string
	http *http.Client
	log  *zap.Logger
}

// NewClient constructs a Client for the given base URL. The timeout bounds
// each individual request in addition to any caller-supplied context deadline.
func NewClient(baseURL string, timeout time.Duration, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		base: baseURL,
		http: &http.Client{Timeout: timeout},
		log:  log,
	}
}

type decryptRequest struct {
	Ciphertext string `json:"ciphertext"`
}

type decryptResponse struct {
	Success   bool   `json:"success"`
	Plaintext string `json:"plaintext"`
	Message   string `json:"message"`
	Error     string `json:"error"`
}

// Unwrap sends the wrapped room private key to the KMS and returns the
// plaintext key material. Any non-2xx status or success:false maps to
// errs.ErrKMS; the body is not trusted on non-2xx. A deadline elapsing maps
// to errs.ErrTimeout.
func (c *Client) Unwrap(ctx context.Context, wrapped []byte) ([]byte, error) {
	body, err := json.Marshal(decryptRequest{
		Ciphertext: base64.StdEncoding.EncodeToString(wrapped),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrKMS, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/decrypt", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrKMS, err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, fmt.Errorf("%w: kms unwrap: %v", errs.ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", errs.ErrKMS, err)
	}
	defer resp.Body.Close()

	c.log.Debug("kms unwrap",
		zap.Int("status", resp.StatusCode),
		zap.Duration("dur", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", errs.ErrKMS, resp.StatusCode)
	}

	var out decryptResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", errs.ErrKMS, err)
	}
	if !out.Success {
		msg := out.Error
		if msg == "" {
			msg = out.Message
		}
		return nil, fmt.Errorf("%w: %s", errs.ErrKMS, msg)
	}

	plain, err := base64.StdEncoding.DecodeString(out.Plaintext)
	if err != nil {
		return nil, fmt.Errorf("%w: bad plaintext encoding: %v", errs.ErrKMS, err)
	}
	return plain, nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

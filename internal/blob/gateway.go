package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/roomvault/roomvault/internal/errs"
)

// GatewayFetcher reads blobs from the permanent-storage HTTP gateway
// (GET {base}/{storageRef}).
type GatewayFetcher struct {
	base string
	http *http.Client
	log  *zap.Logger
}

var _ Fetcher = (*GatewayFetcher)(nil)

// NewGatewayFetcher constructs a fetcher for the given gateway base URL.
func NewGatewayFetcher(baseURL string, timeout time.Duration, log *zap.Logger) *GatewayFetcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &GatewayFetcher{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: timeout},
		log:  log,
	}
}

// Fetch downloads the blob for storageRef.
func (f *GatewayFetcher) Fetch(ctx context.Context, storageRef string) ([]byte, error) {
	if storageRef == "" {
		return nil, fmt.Errorf("%w: empty storage ref", errs.ErrFetch)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.base+"/"+storageRef, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrFetch, err)
	}

	start := time.Now()
	resp, err := f.http.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: blob fetch: %v", errs.ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", errs.ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d for %s", errs.ErrFetch, resp.StatusCode, storageRef)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", errs.ErrFetch, err)
	}

	f.log.Debug("blob fetched",
		zap.String("ref", storageRef),
		zap.Int("bytes", len(data)),
		zap.Duration("dur", time.Since(start)),
	)
	return data, nil
}

package vault

import (
	"context"
	"errors"
	"sync"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/roomvault/roomvault/internal/audit"
	"github.com/roomvault/roomvault/internal/blob"
	"github.com/roomvault/roomvault/internal/errs"
	"github.com/roomvault/roomvault/internal/model"
)

// Config assembles the vault read path. Pipeline.RoomKeyTTL is clamped to
// Cache.TTL so unwrapped room keys never outlive document plaintext.
type Config struct {
	Cache    CacheConfig
	Pipeline PipelineConfig
}

// Service is the read path: cache in front of the decrypt pipeline.
// Concurrent fetches of the same document collapse to a single pipeline run;
// fetches of different documents proceed independently.
type Service struct {
	cache *Cache
	pipe  *Pipeline
	rec   audit.Recorder
	log   *zap.Logger

	sf singleflight.Group

	mu  sync.Mutex
	gen map[uuid.UUID]uint64
}

// NewService wires a cache and pipeline. rec may be nil (events discarded).
func NewService(cfg Config, kms KeyUnwrapper, blobs blob.Fetcher, rec audit.Recorder, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if rec == nil {
		rec = audit.Nop{}
	}
	cfg.Cache = cfg.Cache.withDefaults()
	if cfg.Pipeline.RoomKeyTTL > cfg.Cache.TTL {
		cfg.Pipeline.RoomKeyTTL = cfg.Cache.TTL
	}
	return &Service{
		cache: NewCache(cfg.Cache, log),
		pipe:  NewPipeline(kms, blobs, cfg.Pipeline, log),
		rec:   rec,
		log:   log,
		gen:   make(map[uuid.UUID]uint64),
	}
}

// Fetch returns the document plaintext, serving from the cache when possible
// and running the decrypt pipeline on a miss. A failed decrypt writes
// nothing to the cache and returns the pipeline error unchanged.
//
// Concurrent fetches for the same document share one pipeline run. A caller
// whose context ends while waiting returns early without affecting other
// waiters; the in-flight run completes, and its result is cached only by a
// caller that is still live and whose request is the freshest for that
// document.
func (s *Service) Fetch(ctx context.Context, doc model.DocumentRecord, callerEmail string) (Document, error) {
	if d, ok := s.cache.Get(doc.ID); ok {
		return d, nil
	}

	myGen := s.nextGen(doc.ID)

	// The flight is detached from any single caller's context: a caller that
	// cancels only abandons its own wait. External calls stay bounded by the
	// KMS and blob clients' request timeouts.
	flightCtx := context.WithoutCancel(ctx)
	ch := s.sf.DoChan(doc.ID.String(), func() (any, error) {
		return s.pipe.Decrypt(flightCtx, doc)
	})

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Document{}, errs.ErrTimeout
		}
		return Document{}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			_ = s.rec.Record(ctx, audit.Event{
				DocumentID: doc.ID,
				Actor:      callerEmail,
				Action:     audit.ActionDecryptFail,
				Detail:     r.Err.Error(),
			})
			return Document{}, r.Err
		}
		d := r.Val.(Document)
		if ctx.Err() == nil && s.isCurrent(doc.ID, myGen) {
			s.cache.Set(doc.ID, d)
		}
		_ = s.rec.Record(ctx, audit.Event{
			DocumentID: doc.ID,
			Actor:      callerEmail,
			Action:     audit.ActionDecrypt,
			Detail:     doc.Filename,
		})
		return d, nil
	}
}

// Invalidate drops the cached entry for a document.
func (s *Service) Invalidate(id uuid.UUID) {
	s.cache.Invalidate(id)
}

// Cache exposes the underlying cache, e.g. for the signing orchestrator.
func (s *Service) Cache() *Cache { return s.cache }

// Close releases the cache and any cached room keys.
func (s *Service) Close() {
	s.cache.Close()
	s.pipe.Close()
}

func (s *Service) nextGen(id uuid.UUID) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen[id]++
	return s.gen[id]
}

func (s *Service) isCurrent(id uuid.UUID, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen[id] == gen
}

// Command roomvault fetches, stitches, and signs room documents from the
// command line. It is the composition root for the vault library: the same
// wiring an embedding UI would do.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/roomvault/roomvault/internal/audit"
	"github.com/roomvault/roomvault/internal/blob"
	"github.com/roomvault/roomvault/internal/kms"
	"github.com/roomvault/roomvault/internal/metadata"
	"github.com/roomvault/roomvault/internal/signing"
	"github.com/roomvault/roomvault/internal/stitch"
	"github.com/roomvault/roomvault/internal/vault"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	// Flags
	mode := flag.String("mode", "fetch", "fetch | sign")
	docIDStr := flag.String("doc", "", "document id (required)")
	email := flag.String("email", "", "caller email (required)")
	role := flag.String("role", "", "signer role (sign mode)")
	out := flag.String("out", "", "output file (fetch mode)")
	stitched := flag.Bool("stitched", false, "append signature certificate pages to the download")

	metadataURL := flag.String("metadata-url", "http://localhost:8080/api", "metadata API base URL")
	sessionToken := flag.String("session-token", "", "metadata API session token (required)")
	kmsURL := flag.String("kms-url", "http://localhost:8090", "KMS base URL")
	gatewayURL := flag.String("gateway-url", "https://arweave.net", "permanent storage gateway base URL")
	callTimeout := flag.Duration("call-timeout", 30*time.Second, "per-call timeout for KMS/storage/metadata")

	maxEntries := flag.Int("cache-entries", vault.DefaultMaxEntries, "max cached plaintexts")
	ttl := flag.Duration("cache-ttl", vault.DefaultTTL, "plaintext cache TTL")
	roomKeyTTL := flag.Duration("room-key-ttl", 0, "room key cache TTL (0 disables)")

	dsn := flag.String("audit-dsn", "", "PostgreSQL DSN for the audit ledger (optional)")

	s3Endpoint := flag.String("s3-endpoint", "", "S3-compatible blob mirror endpoint (optional; replaces the gateway)")
	s3Region := flag.String("s3-region", "us-east-1", "blob mirror region")
	s3Bucket := flag.String("s3-bucket", "", "blob mirror bucket")
	s3Key := flag.String("s3-access-key", "", "blob mirror access key id")
	s3Secret := flag.String("s3-secret-key", "", "blob mirror secret key")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("mode", *mode),
	)

	if *docIDStr == "" || *email == "" {
		logger.Fatal("missing required flags (--doc, --email)")
	}
	docID, err := uuid.FromString(*docIDStr)
	if err != nil {
		logger.Fatal("invalid document id", zap.Error(err))
	}
	if *sessionToken == "" {
		logger.Fatal("missing session token (--session-token)")
	}

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	session, err := metadata.NewSession(*sessionToken)
	if err != nil {
		logger.Fatal("bad session token", zap.Error(err))
	}
	meta := metadata.NewClient(*metadataURL, *callTimeout, session, logger)

	var fetcher blob.Fetcher
	if *s3Endpoint != "" || *s3Bucket != "" {
		fetcher, err = blob.NewS3Fetcher(ctx, blob.S3Options{
			Endpoint:        *s3Endpoint,
			Region:          *s3Region,
			Bucket:          *s3Bucket,
			AccessKeyID:     *s3Key,
			SecretAccessKey: *s3Secret,
		})
		if err != nil {
			logger.Fatal("s3 fetcher", zap.Error(err))
		}
	} else {
		fetcher = blob.NewGatewayFetcher(*gatewayURL, *callTimeout, logger)
	}

	var recorder audit.Recorder = audit.Nop{}
	if *dsn != "" {
		if err := audit.Migrate(ctx, *dsn); err != nil {
			logger.Fatal("migrate audit schema", zap.Error(err))
		}
		db, err := audit.New(ctx, *dsn)
		if err != nil {
			logger.Fatal("audit db", zap.Error(err))
		}
		defer db.Close()
		recorder = audit.NewPostgres(db)
	}

	unwrapper := kms.NewClient(*kmsURL, *callTimeout, logger)
	svc := vault.NewService(vault.Config{
		Cache:    vault.CacheConfig{MaxEntries: *maxEntries, TTL: *ttl},
		Pipeline: vault.PipelineConfig{RoomKeyTTL: *roomKeyTTL},
	}, unwrapper, fetcher, recorder, logger)
	defer svc.Close()

	switch *mode {
	case "fetch":
		runFetch(ctx, logger, meta, svc, docID, *email, *out, *stitched)
	case "sign":
		runSign(ctx, logger, meta, svc, recorder, docID, *email, *role)
	default:
		logger.Fatal("unknown mode", zap.String("mode", *mode))
	}
}

func runFetch(ctx context.Context, logger *zap.Logger, meta *metadata.Client, svc *vault.Service, docID uuid.UUID, email, out string, stitched bool) {
	doc, err := meta.Document(ctx, docID)
	if err != nil {
		logger.Fatal("load document metadata", zap.Error(err))
	}

	d, err := svc.Fetch(ctx, doc, email)
	if err != nil {
		logger.Fatal("decrypt", zap.Error(err))
	}

	data := d.Plaintext
	if stitched {
		signers, err := meta.Signers(ctx, docID)
		if err != nil {
			logger.Fatal("load signers", zap.Error(err))
		}
		if stitchedData, err := stitch.Stitch(d.Plaintext, signers, d.Filename); err != nil {
			// Unsupported formats fall back to the unmodified original.
			logger.Warn("stitch failed, offering original", zap.Error(err))
		} else {
			data = stitchedData
		}
	}

	if out == "" {
		out = d.Filename
	}
	if err := os.WriteFile(out, data, 0o600); err != nil {
		logger.Fatal("write output", zap.Error(err))
	}
	logger.Info("document written",
		zap.String("file", out),
		zap.Int("bytes", len(data)),
		zap.Bool("stitched", stitched),
	)
}

func runSign(ctx context.Context, logger *zap.Logger, meta *metadata.Client, svc *vault.Service, recorder audit.Recorder, docID uuid.UUID, email, role string) {
	if role == "" {
		logger.Fatal("missing signer role (--role)")
	}
	orch := signing.New(promptSigner{}, meta, svc, recorder, logger)
	receipt, err := orch.Sign(ctx, docID, email, role)
	if err != nil {
		logger.Fatal("sign", zap.Error(err))
	}
	logger.Info("signed",
		zap.String("doc", receipt.DocumentID.String()),
		zap.Time("signedAt", receipt.SignedAt),
	)
}

var errMissingSignature = errors.New("no signature provided (set SIGNATURE_HEX)")

// promptSigner reads a pre-produced signature from SIGNATURE_HEX. Real
// deployments inject a wallet-backed signing.Signer instead.
type promptSigner struct{}

func (promptSigner) Sign(_ context.Context, _ []byte) ([]byte, error) {
	if sig := os.Getenv("SIGNATURE_HEX"); sig != "" {
		return hex.DecodeString(sig)
	}
	return nil, errMissingSignature
}

// Package metadata is the client for the room/document metadata API.
//
// All operations are JSON request/response calls returning the API's uniform
// {success, data?, message?, error?} envelope. The client attaches a bearer
// session token and fails fast if the token has expired.
package metadata

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/roomvault/roomvault/internal/errs"
	"github.com/roomvault/roomvault/internal/model"
)

// Client calls the metadata API.
type Client struct {
	base    string
	http    *http.Client
	session *Session
	log     *zap.Logger
}

// NewClient constructs a Client. session may be nil for unauthenticated use
// in tests.
func NewClient(baseURL string, timeout time.Duration, session *Session, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		base:    strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		session: session,
		log:     log,
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
}

type documentDTO struct {
	ID             string `json:"id"`
	RoomID         string `json:"roomId"`
	UploaderEmail  string `json:"uploaderEmail"`
	Filename       string `json:"originalFilename"`
	ContentType    string `json:"contentType"`
	Size           int64  `json:"fileSize"`
	Category       string `json:"category"`
	WrappedDocKey  string `json:"wrappedDocumentKey"` // base64
	StorageRef     string `json:"storageRef"`
	RoomPublicKey  string `json:"roomPublicKey"`
	WrappedRoomKey string `json:"wrappedRoomKey"` // base64
}

type signerDTO struct {
	DocumentID string `json:"documentId"`
	Email      string `json:"emailToSign"`
	Role       string `json:"roleToSign"`
	Signed     bool   `json:"signed"`
	Signature  string `json:"signature,omitempty"` // base64
	SignedAt   string `json:"signedAt,omitempty"`  // RFC 3339
}

func (d documentDTO) toModel() (model.DocumentRecord, error) {
	id, err := uuid.FromString(d.ID)
	if err != nil {
		return model.DocumentRecord{}, fmt.Errorf("document id: %w", err)
	}
	roomID, err := uuid.FromString(d.RoomID)
	if err != nil {
		return model.DocumentRecord{}, fmt.Errorf("room id: %w", err)
	}
	docKey, err := base64.StdEncoding.DecodeString(d.WrappedDocKey)
	if err != nil {
		return model.DocumentRecord{}, fmt.Errorf("wrapped document key: %w", err)
	}
	roomKey, err := base64.StdEncoding.DecodeString(d.WrappedRoomKey)
	if err != nil {
		return model.DocumentRecord{}, fmt.Errorf("wrapped room key: %w", err)
	}
	return model.DocumentRecord{
		ID:            id,
		RoomID:        roomID,
		UploaderEmail: d.UploaderEmail,
		Filename:      d.Filename,
		ContentType:   d.ContentType,
		Size:          d.Size,
		Category:      d.Category,
		WrappedDocKey: docKey,
		StorageRef:    d.StorageRef,
		RoomKey: model.RoomKeyMaterial{
			PublicKey:         []byte(d.RoomPublicKey),
			WrappedPrivateKey: roomKey,
		},
	}, nil
}

func (s signerDTO) toModel() (model.SignerRecord, error) {
	id, err := uuid.FromString(s.DocumentID)
	if err != nil {
		return model.SignerRecord{}, fmt.Errorf("document id: %w", err)
	}
	rec := model.SignerRecord{
		DocumentID: id,
		Email:      s.Email,
		Role:       s.Role,
		Signed:     s.Signed,
	}
	if s.Signature != "" {
		sig, err := base64.StdEncoding.DecodeString(s.Signature)
		if err != nil {
			return model.SignerRecord{}, fmt.Errorf("signature: %w", err)
		}
		rec.Signature = sig
	}
	if s.SignedAt != "" {
		at, err := time.Parse(time.RFC3339, s.SignedAt)
		if err != nil {
			return model.SignerRecord{}, fmt.Errorf("signedAt: %w", err)
		}
		rec.SignedAt = at
	}
	return rec, nil
}

// do executes one envelope call. A nil in sends no body; a nil out discards
// data.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if c.session != nil {
		if err := c.session.Valid(); err != nil {
			return err
		}
	}

	var body *bytes.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.session != nil {
		req.Header.Set("Authorization", "Bearer "+c.session.Token())
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errs.ErrNotFound
	}
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("metadata %s %s: malformed response: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 || !env.Success {
		msg := env.Error
		if msg == "" {
			msg = env.Message
		}
		return fmt.Errorf("metadata %s %s: status %d: %s", method, path, resp.StatusCode, msg)
	}
	if out != nil && env.Data != nil {
		return json.Unmarshal(env.Data, out)
	}
	return nil
}

// Document fetches a single document record.
func (c *Client) Document(ctx context.Context, id uuid.UUID) (model.DocumentRecord, error) {
	var dto documentDTO
	if err := c.do(ctx, http.MethodGet, "/documents/"+id.String(), nil, &dto); err != nil {
		return model.DocumentRecord{}, err
	}
	return dto.toModel()
}

// ListDocuments fetches all document records for a room.
func (c *Client) ListDocuments(ctx context.Context, roomID uuid.UUID) ([]model.DocumentRecord, error) {
	var dtos []documentDTO
	if err := c.do(ctx, http.MethodGet, "/rooms/"+roomID.String()+"/documents", nil, &dtos); err != nil {
		return nil, err
	}
	docs := make([]model.DocumentRecord, 0, len(dtos))
	for _, d := range dtos {
		doc, err := d.toModel()
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Signers fetches the signer records for a document.
func (c *Client) Signers(ctx context.Context, docID uuid.UUID) ([]model.SignerRecord, error) {
	var dtos []signerDTO
	if err := c.do(ctx, http.MethodGet, "/documents/"+docID.String()+"/signers", nil, &dtos); err != nil {
		return nil, err
	}
	signers := make([]model.SignerRecord, 0, len(dtos))
	for _, s := range dtos {
		rec, err := s.toModel()
		if err != nil {
			return nil, err
		}
		signers = append(signers, rec)
	}
	return signers, nil
}

// SubmitSignature records a produced signature for (docID, email, role).
func (c *Client) SubmitSignature(ctx context.Context, docID uuid.UUID, email, role string, sig []byte) (model.SignatureReceipt, error) {
	in := signerDTO{
		DocumentID: docID.String(),
		Email:      email,
		Role:       role,
		Signature:  base64.StdEncoding.EncodeToString(sig),
	}
	var out signerDTO
	if err := c.do(ctx, http.MethodPost, "/documents/"+docID.String()+"/signatures", in, &out); err != nil {
		return model.SignatureReceipt{}, err
	}
	rec, err := out.toModel()
	if err != nil {
		return model.SignatureReceipt{}, err
	}
	return model.SignatureReceipt{
		DocumentID: rec.DocumentID,
		Email:      rec.Email,
		Role:       rec.Role,
		Signature:  rec.Signature,
		SignedAt:   rec.SignedAt,
	}, nil
}

// AddSigner registers an additional required signer on a document.
func (c *Client) AddSigner(ctx context.Context, docID uuid.UUID, email, role string) error {
	in := signerDTO{DocumentID: docID.String(), Email: email, Role: role}
	return c.do(ctx, http.MethodPost, "/documents/"+docID.String()+"/signers", in, nil)
}

// RemoveSigner removes a pending signer. The server enforces the rule that
// only unsigned, non-owner signers are removable; the check is replicated
// here against the fetched signer set to fail fast.
func (c *Client) RemoveSigner(ctx context.Context, docID uuid.UUID, email, ownerEmail string) error {
	if email == ownerEmail {
		return fmt.Errorf("cannot remove room owner %s", email)
	}
	signers, err := c.Signers(ctx, docID)
	if err != nil {
		return err
	}
	for _, s := range signers {
		if s.Email == email && s.Signed {
			return fmt.Errorf("cannot remove signer %s: already signed", email)
		}
	}
	return c.do(ctx, http.MethodDelete, "/documents/"+docID.String()+"/signers/"+email, nil, nil)
}

// Package connector manages third-party integrations. Credentials are sealed
// with ChaCha20-Poly1305 before they reach storage and are only opened when a
// sync needs them.
package connector

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/threatveil/threatveil/internal/model"
	"github.com/threatveil/threatveil/internal/storage"
)

// ErrInvalidType is returned for connector types the service does not know.
var ErrInvalidType = errors.New("connector: unknown connector type")

var validTypes = map[model.ConnectorType]bool{
	model.ConnectorGitHub:     true,
	model.ConnectorAWS:        true,
	model.ConnectorCloudflare: true,
	model.ConnectorSlack:      true,
}

// Service seals, stores, and retrieves connectors.
type Service struct {
	db     *storage.DB
	key    []byte
	logger *slog.Logger
}

// New creates the connector service. The sealing key is the 32-byte
// ENCRYPTION_KEY when set; otherwise it is derived from the JWT secret so a
// minimal deployment still never stores plaintext credentials.
func New(db *storage.DB, encryptionKey, jwtSecret string, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	key, err := sealingKey(encryptionKey, jwtSecret)
	if err != nil {
		return nil, err
	}
	return &Service{db: db, key: key, logger: logger}, nil
}

func sealingKey(encryptionKey, jwtSecret string) ([]byte, error) {
	if encryptionKey != "" {
		if len(encryptionKey) != chacha20poly1305.KeySize {
			return nil, fmt.Errorf("connector: encryption key must be %d bytes, got %d",
				chacha20poly1305.KeySize, len(encryptionKey))
		}
		return []byte(encryptionKey), nil
	}
	if jwtSecret == "" {
		return nil, errors.New("connector: no encryption key or JWT secret configured")
	}
	sum := sha256.Sum256([]byte(jwtSecret))
	return sum[:], nil
}

// seal encrypts the credential map. The nonce is prepended to the ciphertext.
func (s *Service) seal(creds map[string]any) ([]byte, error) {
	plain, err := json.Marshal(creds)
	if err != nil {
		return nil, fmt.Errorf("connector: marshal credentials: %w", err)
	}
	aead, err := chacha20poly1305.New(s.key)
	if err != nil {
		return nil, fmt.Errorf("connector: init cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("connector: nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plain, nil), nil
}

// open decrypts a sealed credential blob.
func (s *Service) open(sealed []byte) (map[string]any, error) {
	aead, err := chacha20poly1305.New(s.key)
	if err != nil {
		return nil, fmt.Errorf("connector: init cipher: %w", err)
	}
	if len(sealed) < aead.NonceSize() {
		return nil, errors.New("connector: sealed blob too short")
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("connector: open credentials: %w", err)
	}
	var creds map[string]any
	if err := json.Unmarshal(plain, &creds); err != nil {
		return nil, fmt.Errorf("connector: unmarshal credentials: %w", err)
	}
	return creds, nil
}

// Create validates, seals, and stores a new connector. The returned connector
// never carries plaintext credentials.
func (s *Service) Create(ctx context.Context, c model.Connector) (model.Connector, error) {
	if !validTypes[c.Type] {
		return model.Connector{}, fmt.Errorf("%w: %q", ErrInvalidType, c.Type)
	}
	if c.Name == "" {
		c.Name = string(c.Type)
	}
	creds := c.Credentials
	if creds == nil {
		creds = map[string]any{}
	}
	sealed, err := s.seal(creds)
	if err != nil {
		return model.Connector{}, err
	}
	c.Credentials = nil
	created, err := s.db.CreateConnector(ctx, c, sealed)
	if err != nil {
		return model.Connector{}, err
	}
	s.logger.Info("connector created", "connector_id", created.ID, "org_id", created.OrgID, "type", created.Type)
	return created, nil
}

// Get returns a connector without credentials.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (model.Connector, error) {
	c, _, err := s.db.GetConnector(ctx, id)
	return c, err
}

// List returns an org's connectors without credentials.
func (s *Service) List(ctx context.Context, orgID uuid.UUID) ([]model.Connector, error) {
	out, err := s.db.ListConnectorsByOrg(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []model.Connector{}
	}
	return out, nil
}

// Credentials opens the sealed blob for a connector. Only sync paths call
// this; the API surface never does.
func (s *Service) Credentials(ctx context.Context, id uuid.UUID) (map[string]any, error) {
	_, sealed, err := s.db.GetConnector(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.open(sealed)
}

// Update persists mutable fields. When c.Credentials is non-nil the blob is
// resealed; nil leaves the stored credentials untouched.
func (s *Service) Update(ctx context.Context, c model.Connector) (model.Connector, error) {
	existing, _, err := s.db.GetConnector(ctx, c.ID)
	if err != nil {
		return model.Connector{}, err
	}
	if c.Name != "" {
		existing.Name = c.Name
	}
	if c.Status != "" {
		existing.Status = c.Status
	}
	if c.Config != nil {
		existing.Config = c.Config
	}

	var sealed []byte
	if c.Credentials != nil {
		sealed, err = s.seal(c.Credentials)
		if err != nil {
			return model.Connector{}, err
		}
	}
	if err := s.db.UpdateConnector(ctx, existing, sealed); err != nil {
		return model.Connector{}, err
	}
	return s.Get(ctx, c.ID)
}

// Delete removes a connector and its sealed credentials.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.db.DeleteConnector(ctx, id); err != nil {
		return err
	}
	s.logger.Info("connector deleted", "connector_id", id)
	return nil
}

// MarkSynced stamps a successful sync on the connector.
func (s *Service) MarkSynced(ctx context.Context, id uuid.UUID) error {
	c, _, err := s.db.GetConnector(ctx, id)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	c.LastSyncAt = &now
	return s.db.UpdateConnector(ctx, c, nil)
}

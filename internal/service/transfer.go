package service

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/parityline/transfer/internal/chunker"
	"github.com/parityline/transfer/internal/crypto/identity"
	"github.com/parityline/transfer/internal/manager"
	"github.com/parityline/transfer/internal/transport"
	"github.com/parityline/transfer/internal/validation"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidToken    = errors.New("invalid transfer token")
)

const tokenPrefix = "parityline://xfer?t="

// TransferService manages file transfer operations: manifest negotiation,
// session bookkeeping, and token exchange. It owns the daemon's Ed25519
// identity, used to sign the manifest sent by SendManifestOverControl.
type TransferService struct {
	store          *manager.SessionStore
	eventPublisher *EventPublisher
	keysDir        string
	chunkSize      int64
	deviceClass    chunker.DeviceClass
	privateKey     ed25519.PrivateKey
	publicKey      ed25519.PublicKey
}

// NewTransferService creates a new transfer service, loading (or generating)
// the daemon's identity keys from keysDir and starting the DTN retry queue.
func NewTransferService(
	store *manager.SessionStore,
	eventPublisher *EventPublisher,
	keysDir string,
	chunkSize int64,
) (*TransferService, error) {
	privateKey, publicKey, err := loadIdentityKeys(keysDir)
	if err != nil {
		return nil, err
	}

	ts := &TransferService{
		store:          store,
		eventPublisher: eventPublisher,
		keysDir:        keysDir,
		chunkSize:      chunkSize,
		deviceClass:    chunker.DeviceDesktop,
		privateKey:     privateKey,
		publicKey:      publicKey,
	}
	if err := InitDTN(filepath.Join(keysDir, "dtn_queue.db")); err != nil {
		return nil, err
	}
	return ts, nil
}

// SetDeviceClass overrides the local endpoint's device class used to seed
// new manifests' proposed chunk size. Defaults to desktop.
func (s *TransferService) SetDeviceClass(device chunker.DeviceClass) {
	s.deviceClass = device
}

// CreateTransfer initiates a new file transfer: it hashes and chunks the
// file, builds a manifest proposing a chunk size per the local device
// class, registers a sending session, and mints a transfer token the
// recipient uses to accept.
func (s *TransferService) CreateTransfer(
	filePath string,
	recipientID string,
	chunkSizeOverride int64,
	metadata map[string]string,
) (sessionID string, token string, manifest *chunker.Manifest, err error) {
	if err := validation.ValidateFilePath(filePath, true); err != nil {
		return "", "", nil, err
	}
	fileInfo, err := os.Stat(filePath)
	if err != nil {
		return "", "", nil, err
	}

	sessionID = uuid.New().String()
	fileName := filepath.Base(filePath)
	fileType := filepath.Ext(fileName)

	manifest = chunker.NewManifest(sessionID, fileName, fileInfo.Size(), fileType, s.deviceClass)
	if chunkSizeOverride > 0 {
		manifest.ProposedChunkSize = int(chunkSizeOverride)
		manifest.ChunkSize = int(chunkSizeOverride)
		manifest.TotalChunks = chunker.TotalChunks(fileInfo.Size(), int(chunkSizeOverride))
	}

	chunks, fileHash, err := chunker.ComputeFileChunks(filePath, manifest.ChunkSize, nil)
	if err != nil {
		return "", "", nil, err
	}
	manifest.FileHash = hex.EncodeToString(fileHash[:])
	descriptors := make([]chunker.ChunkDescriptor, len(chunks))
	for i, c := range chunks {
		descriptors[i] = c.Descriptor()
	}
	manifest.Chunks = descriptors
	if root, err := chunker.ComputeManifestMerkleRoot(descriptors); err == nil {
		manifest.MerkleRoot = root
	}

	session := manager.NewSession(
		sessionID,
		filePath,
		fileName,
		fileInfo.Size(),
		int64(manifest.ChunkSize),
		manager.DirectionSend,
	)
	session.Metadata = metadata

	if err := s.store.Add(session); err != nil {
		return "", "", nil, err
	}

	token, err = s.generateToken(sessionID, manifest)
	if err != nil {
		return "", "", nil, err
	}

	s.eventPublisher.PublishStarted(sessionID, fileName, fileInfo.Size())

	return sessionID, token, manifest, nil
}

// AcceptTransfer accepts an incoming transfer: it decodes the sender's
// token, renegotiates the chunk size against the local device class,
// registers a receiving session rooted at outputPath, and returns the
// negotiated manifest for the caller to open a control stream against.
func (s *TransferService) AcceptTransfer(
	token string,
	outputPath string,
	resumeSessionID string,
) (sessionID string, manifest *chunker.Manifest, err error) {
	if err := validation.ValidateStringNonEmpty(token); err != nil {
		return "", nil, ErrInvalidToken
	}
	sessionID, manifest, err = s.parseToken(token)
	if err != nil {
		return "", nil, err
	}
	if resumeSessionID != "" {
		sessionID = resumeSessionID
	}

	manifest.Negotiate(chunker.SelectChunkSize(manifest.FileSize, s.deviceClass))

	session := manager.NewSession(
		sessionID,
		outputPath,
		filepath.Base(outputPath),
		manifest.FileSize,
		int64(manifest.ChunkSize),
		manager.DirectionReceive,
	)

	if err := s.store.Add(session); err != nil {
		return "", nil, err
	}

	return sessionID, manifest, nil
}

// SendManifestOverControl signs and sends the negotiated manifest on ctrl,
// the trigger the listening side waits on before it starts pushing chunks.
// Keeps the daemon's private key encapsulated inside TransferService.
func (s *TransferService) SendManifestOverControl(ctrl *transport.ControlStream, manifest *chunker.Manifest) error {
	manifestJSON, err := json.Marshal(manifest)
	if err != nil {
		return err
	}
	return ctrl.SendTransferManifest(manifestJSON, s.privateKey)
}

// GetTransferStatus retrieves transfer status
func (s *TransferService) GetTransferStatus(sessionID string) (*TransferStatus, error) {
	session, err := s.store.Get(sessionID)
	if err != nil {
		return nil, ErrSessionNotFound
	}

	status := &TransferStatus{
		State:                  session.State,
		ProgressPercent:        session.GetProgressPercent(),
		ChunksTransferred:      session.ChunksTransferred,
		TotalChunks:            session.TotalChunks,
		BytesTransferred:       session.BytesTransferred,
		TransferRateMbps:       session.GetTransferRate(),
		EstimatedTimeRemaining: session.GetEstimatedTimeRemaining(),
		ErrorMessage:           session.ErrorMessage,
	}

	return status, nil
}

// ListTransfers lists active transfers
func (s *TransferService) ListTransfers(filterState *manager.TransferState, limit, offset int) ([]*manager.Session, int) {
	return s.store.List(filterState, limit, offset)
}

// GetPublicKey returns the daemon's public key and its fingerprint.
func (s *TransferService) GetPublicKey() (string, string) {
	pubKeyB64 := base64.StdEncoding.EncodeToString(s.publicKey)
	fingerprint := identity.Fingerprint(s.publicKey)
	return pubKeyB64, fingerprint
}

// generateToken creates a transfer token
func (s *TransferService) generateToken(sessionID string, manifest *chunker.Manifest) (string, error) {
	tokenData := map[string]interface{}{
		"session_id": sessionID,
		"manifest":   manifest,
		"created_at": time.Now().Unix(),
	}

	data, err := json.Marshal(tokenData)
	if err != nil {
		return "", err
	}

	token := base64.URLEncoding.EncodeToString(data)
	return tokenPrefix + token, nil
}

// parseToken parses a transfer token
func (s *TransferService) parseToken(token string) (string, *chunker.Manifest, error) {
	if len(token) < len(tokenPrefix) {
		return "", nil, ErrInvalidToken
	}

	encoded := token[len(tokenPrefix):]
	data, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return "", nil, ErrInvalidToken
	}

	var tokenData map[string]interface{}
	if err := json.Unmarshal(data, &tokenData); err != nil {
		return "", nil, ErrInvalidToken
	}

	sessionID, ok := tokenData["session_id"].(string)
	if !ok {
		return "", nil, ErrInvalidToken
	}

	manifestData, err := json.Marshal(tokenData["manifest"])
	if err != nil {
		return "", nil, err
	}

	var manifest chunker.Manifest
	if err := json.Unmarshal(manifestData, &manifest); err != nil {
		return "", nil, err
	}

	return sessionID, &manifest, nil
}

// TransferStatus represents transfer status information
type TransferStatus struct {
	State                  manager.TransferState
	ProgressPercent        float64
	ChunksTransferred      int64
	TotalChunks            int64
	BytesTransferred       int64
	TransferRateMbps       float64
	EstimatedTimeRemaining int64
	ErrorMessage           string
}

// loadIdentityKeys loads the daemon's Ed25519 identity from keysDir,
// generating and persisting a new keypair on first run.
func loadIdentityKeys(keysDir string) (ed25519.PrivateKey, ed25519.PublicKey, error) {
	privPath := filepath.Join(keysDir, "id_ed25519")
	pubPath := filepath.Join(keysDir, "id_ed25519.pub")
	return identity.LoadOrCreate(privPath, pubPath)
}

package transport

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/quic-go/quic-go"
)

var (
	ErrInvalidSignature       = errors.New("invalid manifest signature")
	ErrInvalidProtocolVersion = errors.New("unsupported protocol version")
)

const (
	ProtocolVersion = 1
	ControlStreamID = 0
)

// ControlMessageType represents a control message carried on the control
// stream (stream 0). The base set maps directly onto the external
// interface's named messages: transfer-manifest, manifest-ack, chunk-ack,
// request-resend, transfer-pause, transfer-resume, transfer-end,
// transfer-complete, transfer-failed. FECUpdate and ChunkHave* are an
// additive FEC/CAS-dedup addendum, not part of the base exchange.
type ControlMessageType uint8

const (
	MessageTypeTransferManifest ControlMessageType = iota + 1
	MessageTypeManifestAck
	MessageTypeChunkAck
	MessageTypeRequestResend
	MessageTypeTransferPause
	MessageTypeTransferResume
	MessageTypeTransferEnd
	MessageTypeTransferComplete
	MessageTypeTransferFailed
	MessageTypeVerification
	MessageTypeFECUpdate
	MessageTypeChunkHaveRequest
	MessageTypeChunkHaveResponse
)

// SignedManifest carries the sender's transfer-manifest, signed so the
// receiver can attest to its origin before negotiating chunk size.
type SignedManifest struct {
	ManifestJSON    []byte
	Signature       []byte
	PublicKey       []byte
	ProtocolVersion int32
}

// ManifestAckMessage is the receiver's manifest-ack response, carrying the
// negotiated chunk size and durable-spool/ACK-batch policy.
type ManifestAckMessage struct {
	AckJSON []byte
}

// ChunkAckMessage is a chunk-ack: a batch of newly-accepted sequence
// numbers plus the contiguous-prefix cursor and the currently known gaps
// (range-compressed indices in [0, totalChunks) not yet received).
type ChunkAckMessage struct {
	SessionID      string
	ChunkRanges    string
	LastContiguous int64
	TotalReceived  int64
	Gaps           string
	Timestamp      int64
}

// RequestResendMessage is a request-resend: missing sequence numbers the
// receiver needs retransmitted.
type RequestResendMessage struct {
	SessionID     string
	MissingRanges string
	Reason        string
	Timestamp     int64
}

// TransferControlMessage is the payload for transfer-pause, transfer-resume,
// transfer-end, transfer-complete, and transfer-failed. Pause/resume/end
// carry little beyond the session identity; complete and failed also carry
// the terminal whole-file SHA-256 verification outcome.
type TransferControlMessage struct {
	SessionID           string
	Reason              string
	Timestamp           int64
	Verified            bool
	ExpectedHash        string
	CalculatedHash      string
	TotalChunksReceived int64
	DurationMS          int64
}

// VerificationMessage represents Merkle root verification result
type VerificationMessage struct {
	SessionID          string
	Status             string
	MerkleRootComputed []byte
	MerkleRootExpected []byte
	Timestamp          int64
	Signature          []byte
	PublicKey          []byte
}

// FECUpdateMessage updates FEC parameters during a session.
type FECUpdateMessage struct {
	SessionID string
	K         int
	R         int
	Reason    string
	Timestamp int64
}

// ChunkHaveRequest asks the receiver to provide a bitmap of chunks present in CAS.
type ChunkHaveRequest struct {
	SessionID  string
	ChunkCount int
}

// ChunkHaveResponse contains a range-compressed bitmap of chunks present.
type ChunkHaveResponse struct {
	SessionID  string
	HaveRanges string
	ChunkCount int
	Timestamp  int64
}

// ControlStream manages the control protocol stream
type ControlStream struct {
	stream *quic.Stream
}

// NewControlStream creates a new control stream wrapper
func NewControlStream(stream *quic.Stream) *ControlStream {
	return &ControlStream{
		stream: stream,
	}
}

// SendTransferManifest sends a signed transfer-manifest over the control stream
func (cs *ControlStream) SendTransferManifest(manifestJSON []byte, privateKey ed25519.PrivateKey) error {
	signature := ed25519.Sign(privateKey, manifestJSON)
	publicKey := privateKey.Public().(ed25519.PublicKey)

	sm := &SignedManifest{
		ManifestJSON:    manifestJSON,
		Signature:       signature,
		PublicKey:       publicKey,
		ProtocolVersion: ProtocolVersion,
	}

	return cs.sendControlMessage(MessageTypeTransferManifest, sm)
}

// ReceiveTransferManifest receives and verifies a signed transfer-manifest
func (cs *ControlStream) ReceiveTransferManifest() (*SignedManifest, error) {
	msgType, data, err := cs.receiveControlMessage()
	if err != nil {
		return nil, err
	}

	if msgType != MessageTypeTransferManifest {
		return nil, fmt.Errorf("expected transfer-manifest message, got %d", msgType)
	}

	var sm SignedManifest
	if err := json.Unmarshal(data, &sm); err != nil {
		return nil, err
	}

	if sm.ProtocolVersion != ProtocolVersion {
		return nil, ErrInvalidProtocolVersion
	}

	if !ed25519.Verify(sm.PublicKey, sm.ManifestJSON, sm.Signature) {
		return nil, ErrInvalidSignature
	}

	return &sm, nil
}

// SendManifestAck sends the receiver's manifest-ack
func (cs *ControlStream) SendManifestAck(ackJSON []byte) error {
	return cs.sendControlMessage(MessageTypeManifestAck, &ManifestAckMessage{AckJSON: ackJSON})
}

// ReceiveManifestAck receives the receiver's manifest-ack
func (cs *ControlStream) ReceiveManifestAck() (*ManifestAckMessage, error) {
	msgType, data, err := cs.receiveControlMessage()
	if err != nil {
		return nil, err
	}
	if msgType != MessageTypeManifestAck {
		return nil, fmt.Errorf("expected manifest-ack message, got %d", msgType)
	}
	var ack ManifestAckMessage
	if err := json.Unmarshal(data, &ack); err != nil {
		return nil, err
	}
	return &ack, nil
}

// SendChunkAck sends a chunk-ack message
func (cs *ControlStream) SendChunkAck(ack *ChunkAckMessage) error {
	return cs.sendControlMessage(MessageTypeChunkAck, ack)
}

// ReceiveChunkAck receives a chunk-ack message
func (cs *ControlStream) ReceiveChunkAck() (*ChunkAckMessage, error) {
	msgType, data, err := cs.receiveControlMessage()
	if err != nil {
		return nil, err
	}

	if msgType != MessageTypeChunkAck {
		return nil, fmt.Errorf("expected chunk-ack message, got %d", msgType)
	}

	var ack ChunkAckMessage
	if err := json.Unmarshal(data, &ack); err != nil {
		return nil, err
	}

	return &ack, nil
}

// SendRequestResend sends a request-resend message
func (cs *ControlStream) SendRequestResend(req *RequestResendMessage) error {
	return cs.sendControlMessage(MessageTypeRequestResend, req)
}

// ReceiveRequestResend receives a request-resend message
func (cs *ControlStream) ReceiveRequestResend() (*RequestResendMessage, error) {
	msgType, data, err := cs.receiveControlMessage()
	if err != nil {
		return nil, err
	}

	if msgType != MessageTypeRequestResend {
		return nil, fmt.Errorf("expected request-resend message, got %d", msgType)
	}

	var req RequestResendMessage
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}

	return &req, nil
}

// sendTransferControl sends one of the single-shot lifecycle messages
// (transfer-pause, transfer-resume, transfer-end, transfer-complete,
// transfer-failed).
func (cs *ControlStream) sendTransferControl(msgType ControlMessageType, sessionID, reason string, timestamp int64) error {
	return cs.sendControlMessage(msgType, &TransferControlMessage{
		SessionID: sessionID,
		Reason:    reason,
		Timestamp: timestamp,
	})
}

func (cs *ControlStream) SendTransferPause(sessionID string, timestamp int64) error {
	return cs.sendTransferControl(MessageTypeTransferPause, sessionID, "", timestamp)
}

func (cs *ControlStream) SendTransferResume(sessionID string, timestamp int64) error {
	return cs.sendTransferControl(MessageTypeTransferResume, sessionID, "", timestamp)
}

func (cs *ControlStream) SendTransferEnd(sessionID string, timestamp int64) error {
	return cs.sendTransferControl(MessageTypeTransferEnd, sessionID, "", timestamp)
}

// SendTransferComplete reports the terminal whole-file verification outcome
// on success: the assembled file's SHA-256 matched the manifest's fileHash.
func (cs *ControlStream) SendTransferComplete(sessionID string, calculatedHash string, totalChunksReceived, durationMS, timestamp int64) error {
	return cs.sendControlMessage(MessageTypeTransferComplete, &TransferControlMessage{
		SessionID:           sessionID,
		Timestamp:           timestamp,
		Verified:            true,
		CalculatedHash:      calculatedHash,
		TotalChunksReceived: totalChunksReceived,
		DurationMS:          durationMS,
	})
}

// SendTransferFailed reports a terminal failure: reason is one of
// "hash_mismatch" or "assembly-error" per the assembly/verification step.
func (cs *ControlStream) SendTransferFailed(sessionID, reason, expectedHash, calculatedHash string, timestamp int64) error {
	return cs.sendControlMessage(MessageTypeTransferFailed, &TransferControlMessage{
		SessionID:      sessionID,
		Reason:         reason,
		Timestamp:      timestamp,
		ExpectedHash:   expectedHash,
		CalculatedHash: calculatedHash,
	})
}

// ReceiveTransferControl receives any of the single-shot lifecycle messages
// and returns its type alongside the decoded payload.
func (cs *ControlStream) ReceiveTransferControl() (ControlMessageType, *TransferControlMessage, error) {
	msgType, data, err := cs.receiveControlMessage()
	if err != nil {
		return 0, nil, err
	}
	switch msgType {
	case MessageTypeTransferPause, MessageTypeTransferResume, MessageTypeTransferEnd,
		MessageTypeTransferComplete, MessageTypeTransferFailed:
	default:
		return 0, nil, fmt.Errorf("expected a transfer control message, got %d", msgType)
	}
	var msg TransferControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return 0, nil, err
	}
	return msgType, &msg, nil
}

// SendVerification sends a verification result message
func (cs *ControlStream) SendVerification(verification *VerificationMessage) error {
	return cs.sendControlMessage(MessageTypeVerification, verification)
}

// SendFECUpdate sends FEC update
func (cs *ControlStream) SendFECUpdate(msg *FECUpdateMessage) error {
	return cs.sendControlMessage(MessageTypeFECUpdate, msg)
}

// ReceiveFECUpdate receives FEC update
func (cs *ControlStream) ReceiveFECUpdate() (*FECUpdateMessage, error) {
	msgType, data, err := cs.receiveControlMessage()
	if err != nil {
		return nil, err
	}
	if msgType != MessageTypeFECUpdate {
		return nil, fmt.Errorf("expected FEC_UPDATE, got %d", msgType)
	}
	var m FECUpdateMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// SendChunkHaveRequest sends a request for receiver CAS bitmap
func (cs *ControlStream) SendChunkHaveRequest(req *ChunkHaveRequest) error {
	return cs.sendControlMessage(MessageTypeChunkHaveRequest, req)
}

// ReceiveChunkHaveRequest receives a request
func (cs *ControlStream) ReceiveChunkHaveRequest() (*ChunkHaveRequest, error) {
	msgType, data, err := cs.receiveControlMessage()
	if err != nil {
		return nil, err
	}
	if msgType != MessageTypeChunkHaveRequest {
		return nil, fmt.Errorf("expected CHUNK_HAVE_REQUEST, got %d", msgType)
	}
	var req ChunkHaveRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// SendChunkHaveResponse sends CAS bitmap response
func (cs *ControlStream) SendChunkHaveResponse(resp *ChunkHaveResponse) error {
	return cs.sendControlMessage(MessageTypeChunkHaveResponse, resp)
}

// ReceiveChunkHaveResponse receives CAS bitmap response
func (cs *ControlStream) ReceiveChunkHaveResponse() (*ChunkHaveResponse, error) {
	msgType, data, err := cs.receiveControlMessage()
	if err != nil {
		return nil, err
	}
	if msgType != MessageTypeChunkHaveResponse {
		return nil, fmt.Errorf("expected CHUNK_HAVE_RESPONSE, got %d", msgType)
	}
	var resp ChunkHaveResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ReceiveVerification receives a verification result message
func (cs *ControlStream) ReceiveVerification() (*VerificationMessage, error) {
	msgType, data, err := cs.receiveControlMessage()
	if err != nil {
		return nil, err
	}

	if msgType != MessageTypeVerification {
		return nil, fmt.Errorf("expected verification message, got %d", msgType)
	}

	var verification VerificationMessage
	if err := json.Unmarshal(data, &verification); err != nil {
		return nil, err
	}

	return &verification, nil
}

// sendControlMessage sends a control message with type and payload
func (cs *ControlStream) sendControlMessage(msgType ControlMessageType, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	if err := binary.Write(cs.stream, binary.BigEndian, msgType); err != nil {
		return err
	}

	length := uint32(len(data))
	if err := binary.Write(cs.stream, binary.BigEndian, length); err != nil {
		return err
	}

	_, err = cs.stream.Write(data)
	return err
}

// ReceiveAny receives any control message and returns its type and raw payload
func (cs *ControlStream) ReceiveAny() (ControlMessageType, []byte, error) {
	return cs.receiveControlMessage()
}

// receiveControlMessage receives a control message
func (cs *ControlStream) receiveControlMessage() (ControlMessageType, []byte, error) {
	var msgType ControlMessageType
	if err := binary.Read(cs.stream, binary.BigEndian, &msgType); err != nil {
		return 0, nil, err
	}

	var length uint32
	if err := binary.Read(cs.stream, binary.BigEndian, &length); err != nil {
		return 0, nil, err
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(cs.stream, data); err != nil {
		return 0, nil, err
	}

	return msgType, data, nil
}

// Close closes the control stream
func (cs *ControlStream) Close() error {
	return cs.stream.Close()
}

// ChunkRangeCompressor compresses chunk indices into range notation
type ChunkRangeCompressor struct{}

// Compress converts a slice of chunk indices to range string
func (c *ChunkRangeCompressor) Compress(chunks []int64) string {
	if len(chunks) == 0 {
		return ""
	}

	var buf bytes.Buffer
	start := chunks[0]
	prev := chunks[0]

	for i := 1; i < len(chunks); i++ {
		curr := chunks[i]

		if curr == prev+1 {
			prev = curr
		} else {
			if start == prev {
				fmt.Fprintf(&buf, "%d,", start)
			} else {
				fmt.Fprintf(&buf, "%d-%d,", start, prev)
			}
			start = curr
			prev = curr
		}
	}

	if start == prev {
		fmt.Fprintf(&buf, "%d", start)
	} else {
		fmt.Fprintf(&buf, "%d-%d", start, prev)
	}

	return buf.String()
}

// Decompress converts range string to slice of chunk indices
func (c *ChunkRangeCompressor) Decompress(rangeStr string) ([]int64, error) {
	if rangeStr == "" {
		return []int64{}, nil
	}

	var chunks []int64
	ranges := bytes.Split([]byte(rangeStr), []byte(","))

	for _, r := range ranges {
		parts := bytes.Split(r, []byte("-"))

		if len(parts) == 1 {
			var chunk int64
			if _, err := fmt.Sscanf(string(parts[0]), "%d", &chunk); err != nil {
				return nil, err
			}
			chunks = append(chunks, chunk)
		} else if len(parts) == 2 {
			var start, end int64
			if _, err := fmt.Sscanf(string(parts[0]), "%d", &start); err != nil {
				return nil, err
			}
			if _, err := fmt.Sscanf(string(parts[1]), "%d", &end); err != nil {
				return nil, err
			}
			for i := start; i <= end; i++ {
				chunks = append(chunks, i)
			}
		}
	}

	return chunks, nil
}

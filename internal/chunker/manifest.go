package chunker

import "time"

// DeviceClass identifies the class of device an endpoint runs on, which
// drives default chunk sizing and durable-spool policy.
type DeviceClass string

const (
	DeviceMobile  DeviceClass = "mobile"
	DeviceTablet  DeviceClass = "tablet"
	DeviceDesktop DeviceClass = "desktop"
)

// ProtocolVersion is the current control-message protocol major version.
// Receivers reject manifests carrying a different value.
const ProtocolVersion = 1

const (
	mib = 1 << 20

	chunkSizeMobileSmall = 8 * 1024
	chunkSizeMobileLarge = 16 * 1024
	chunkSizeDesktopTiny = 32 * 1024
	chunkSizeDesktopMid  = 64 * 1024
	chunkSizeDesktopBig  = 64 * 1024

	mobileSizeThreshold  = 50 * mib
	desktopTinyThreshold = 100 * mib
	desktopMidThreshold  = 500 * mib
)

// SelectChunkSize is the pure function of (fileSize, deviceClass) described
// in the chunk-size table: mobile/tablet devices use smaller chunks to
// reduce outbound-buffer occupancy and resend granularity under memory
// pressure; desktops trade that for throughput.
func SelectChunkSize(fileSize int64, device DeviceClass) int {
	switch device {
	case DeviceMobile, DeviceTablet:
		if fileSize < mobileSizeThreshold {
			return chunkSizeMobileSmall
		}
		return chunkSizeMobileLarge
	default: // DeviceDesktop and unknown classes fall back to desktop sizing
		switch {
		case fileSize < desktopTinyThreshold:
			return chunkSizeDesktopTiny
		case fileSize < desktopMidThreshold:
			return chunkSizeDesktopMid
		default:
			return chunkSizeDesktopBig
		}
	}
}

// ShouldUseDurableSpool decides whether the receiver should spool chunks to
// durable storage rather than holding them in memory: true iff the device
// is mobile/tablet, the file is at least 50 MiB, and a durable store is
// available.
func ShouldUseDurableSpool(device DeviceClass, fileSize int64, spoolAvailable bool) bool {
	if !spoolAvailable {
		return false
	}
	if device != DeviceMobile && device != DeviceTablet {
		return false
	}
	return fileSize >= mobileSizeThreshold
}

// SelectAckBatchSize returns the number of newly-accepted chunks between
// ACK emissions, scaled by the total chunk count: 5 for small transfers,
// 50 for very large ones, 10 otherwise.
func SelectAckBatchSize(totalChunks int) int {
	switch {
	case totalChunks < 20:
		return 5
	case totalChunks > 1000:
		return 50
	default:
		return 10
	}
}

// TotalChunks returns ceil(fileSize / chunkSize), the chunk count for a
// negotiated chunk size. A zero-byte file still counts as one (empty)
// chunk.
func TotalChunks(fileSize int64, chunkSize int) int {
	if chunkSize <= 0 {
		return 0
	}
	n := fileSize / int64(chunkSize)
	if fileSize%int64(chunkSize) != 0 {
		n++
	}
	if n == 0 {
		n = 1
	}
	return int(n)
}

// ChunkDescriptor describes a single chunk's position and hash within a
// manifest.
type ChunkDescriptor struct {
	Sequence int    `json:"sequence"`
	Offset   int64  `json:"offset"`
	Size     int    `json:"size"`
	Hash     string `json:"hash"` // lowercase hex SHA-256
}

// FECProfile carries optional parity-group parameters for the FEC recovery
// addendum. A nil *FECProfile on a Manifest means FEC is disabled.
type FECProfile struct {
	K int `json:"k"` // data shards per parity group
	R int `json:"r"` // parity shards per group
}

// Manifest is created by the Sender at session start and describes the
// file and the (initially proposed) chunking parameters.
type Manifest struct {
	TransferID        string            `json:"transferId"`
	FileName          string            `json:"fileName"`
	FileSize          int64             `json:"fileSize"`
	FileType          string            `json:"fileType"`
	FileHash          string            `json:"fileHash"`             // lowercase hex SHA-256 over the whole file
	MerkleRoot        string            `json:"merkleRoot,omitempty"` // base64, optional commitment addendum
	ProposedChunkSize int               `json:"proposedChunkSize"`
	ChunkSize         int               `json:"chunkSize"` // rewritten once on manifest-ack if negotiated down
	TotalChunks       int               `json:"totalChunks"`
	Chunks            []ChunkDescriptor `json:"chunks,omitempty"`
	SenderDeviceClass DeviceClass       `json:"senderDeviceClass"`
	ProtocolVersion   int               `json:"protocolVersion"`
	Timestamp         int64             `json:"timestamp"` // ms since Unix epoch
	FEC               *FECProfile       `json:"fecProfile,omitempty"`
}

// NewManifest builds a manifest for a file's metadata, proposing a chunk
// size selected per SelectChunkSize. It does not compute chunk hashes or
// the file hash; callers use the Chunking Engine (ComputeChunks /
// StreamChunker) and Hasher for that, then populate Chunks/FileHash/MerkleRoot.
func NewManifest(transferID, fileName string, fileSize int64, fileType string, device DeviceClass) *Manifest {
	chunkSize := SelectChunkSize(fileSize, device)
	return &Manifest{
		TransferID:        transferID,
		FileName:          fileName,
		FileSize:          fileSize,
		FileType:          fileType,
		ProposedChunkSize: chunkSize,
		ChunkSize:         chunkSize,
		TotalChunks:       TotalChunks(fileSize, chunkSize),
		SenderDeviceClass: device,
		ProtocolVersion:   ProtocolVersion,
		Timestamp:         nowMillis(),
	}
}

// Negotiate applies the receiver's preferred chunk size, rewriting
// ChunkSize and TotalChunks in place per §4.3: agreedChunkSize =
// min(senderProposed, receiverPreferred).
func (m *Manifest) Negotiate(receiverPreferred int) {
	agreed := m.ProposedChunkSize
	if receiverPreferred > 0 && receiverPreferred < agreed {
		agreed = receiverPreferred
	}
	m.ChunkSize = agreed
	m.TotalChunks = TotalChunks(m.FileSize, agreed)
}

// ManifestAck is the Receiver's response to a Manifest.
type ManifestAck struct {
	TransferID          string      `json:"transferId"`
	AgreedChunkSize     int         `json:"agreedChunkSize"`
	ReceiverDeviceClass DeviceClass `json:"receiverDeviceClass"`
	UseDurableSpool     bool        `json:"useDurableSpool"`
	AckBatchSize        int         `json:"ackBatchSize"`
	Timestamp           int64       `json:"timestamp"`
}

// NewManifestAck builds the receiver's ack for a negotiated manifest,
// computing UseDurableSpool and AckBatchSize from the policies in §4.3.
func NewManifestAck(m *Manifest, receiverDevice DeviceClass, spoolAvailable bool) *ManifestAck {
	return &ManifestAck{
		TransferID:          m.TransferID,
		AgreedChunkSize:     m.ChunkSize,
		ReceiverDeviceClass: receiverDevice,
		UseDurableSpool:     ShouldUseDurableSpool(receiverDevice, m.FileSize, spoolAvailable),
		AckBatchSize:        SelectAckBatchSize(m.TotalChunks),
		Timestamp:           nowMillis(),
	}
}

// nowMillis returns the current time in milliseconds since the Unix epoch.
// Exists so call sites don't repeat the unit conversion, and so tests can
// substitute it.
var nowMillis = func() int64 { return time.Now().UnixMilli() }

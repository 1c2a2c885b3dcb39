package transport

import "github.com/parityline/transfer/internal/chunker"

// ProfileForDevice returns transport class configs for a sender's device
// class: mobile/tablet endpoints get fewer parallel streams to keep
// outbound-buffer occupancy low under memory pressure, the same tradeoff
// chunker.SelectChunkSize encodes for the wire chunk size itself. P0 is
// reserved for control-priority sends, P1 for the early chunks that let a
// receiver start assembling sooner, P2 for the remaining bulk. Every class
// uses the manifest's chunk size.
func ProfileForDevice(device chunker.DeviceClass, manifest *chunker.Manifest) DomainTransportProfile {
	switch device {
	case chunker.DeviceMobile, chunker.DeviceTablet:
		return DomainTransportProfile{
			P0: ClassConfig{Ack: AckImmediate, Streams: 1, ChunkBytes: manifest.ChunkSize},
			P1: ClassConfig{Ack: AckDelayed10ms, Streams: 2, ChunkBytes: manifest.ChunkSize},
			P2: ClassConfig{Ack: AckDelayed25ms, Streams: 4, ChunkBytes: manifest.ChunkSize},
		}
	default: // chunker.DeviceDesktop and unrecognized classes
		return DomainTransportProfile{
			P0: ClassConfig{Ack: AckImmediate, Streams: 1, ChunkBytes: manifest.ChunkSize},
			P1: ClassConfig{Ack: AckDelayed10ms, Streams: 4, ChunkBytes: manifest.ChunkSize},
			P2: ClassConfig{Ack: AckDelayed25ms, Streams: 8, ChunkBytes: manifest.ChunkSize},
		}
	}
}

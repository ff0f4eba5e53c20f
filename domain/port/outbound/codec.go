package outbound

import "github.com/synapse-project/transport-core/domain/model"

// MessageCodec serializes and deserializes a SecureMessage to/from the
// bytes that travel on the wire. Per spec, the specific encoding is a
// concern of the embedding caller; the core only guarantees that the
// bytes round-trip unchanged through whichever transport is used.
type MessageCodec interface {
	Marshal(msg *model.SecureMessage) ([]byte, error)
	Unmarshal(data []byte) (*model.SecureMessage, error)
}

// Package codec provides a default wire encoding for SecureMessage.
// Transports accept any outbound.MessageCodec; this JSON codec is the
// one wired in by cmd/demo when the embedding application does not
// supply its own.
package codec

import (
	"encoding/json"
	"fmt"

	"github.com/synapse-project/transport-core/domain/model"
)

// JSON marshals a SecureMessage as JSON. It has no special performance
// characteristics; it exists so every transport test and the demo binary
// have a concrete codec to exercise without depending on a caller-defined
// wire format.
type JSON struct{}

func (JSON) Marshal(msg *model.SecureMessage) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal: %w", err)
	}
	return data, nil
}

func (JSON) Unmarshal(data []byte) (*model.SecureMessage, error) {
	var msg model.SecureMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("codec: unmarshal: %w", err)
	}
	return &msg, nil
}

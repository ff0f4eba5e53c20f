// Package nodeid derives a stable local node identifier, used as the
// default mDNS instance name and as a tag on Manager log lines.
package nodeid

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/denisbrodbeck/machineid"
)

// Local returns a short, stable, non-reversible identifier for this host.
// The same physical machine always derives the same identifier across
// restarts, which is what mDNS instance naming needs to stay consistent.
func Local() (string, error) {
	rawID, err := machineid.ID()
	if err != nil {
		return "", err
	}
	hash := sha256.Sum256([]byte(rawID + "synapse-transport-core"))
	return hex.EncodeToString(hash[:])[:16], nil
}

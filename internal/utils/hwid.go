package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"os"

	"github.com/denisbrodbeck/machineid"
)

// HWID is a stable identifier for this machine, keyed to the app so it
// cannot be correlated with other software's device ids.
var HWID = hwid()

func hwid() string {
	if id, err := machineid.ProtectedID("confsync"); err == nil {
		return id
	}

	// No readable machine id on this platform. Fall back to a hostname digest.
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	sum := sha256.Sum256([]byte("confsync/" + host))
	return hex.EncodeToString(sum[:])
}

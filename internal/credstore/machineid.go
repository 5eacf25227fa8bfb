package credstore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/kirorelay/kirorelay/internal/kirodispatch"
)

// Deriver implements kirodispatch.MachineIDDeriver. The original provider
// calls into a machine_id helper whose own source was not available to
// ground this against directly; its contract is fully specified by the
// call site, though: pure function of credential + config, empty string on
// failure. We derive a stable per-credential pseudo machine-id instead of
// reading real host identity, so the same credential always presents the
// same identity to Kiro regardless of which replica of this service holds
// the lease.
type Deriver struct{}

// Derive returns a 32-character hex identity seeded by the credential's
// stable key and the configured region, or "" if snapshot is nil.
func (Deriver) Derive(snapshot kirodispatch.CredentialSnapshot, cfg kirodispatch.Config) string {
	if snapshot == nil {
		return ""
	}
	key := snapshot.CredentialKey()
	if key == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s", cfg.Region, key)))
	return hex.EncodeToString(sum[:])[:32]
}

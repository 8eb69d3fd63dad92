package outbox

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/figsync/pkg/models"
)

// DefaultAgentIdentity scopes idempotency keys when no explicit agent
// identity is configured.
const DefaultAgentIdentity = "default"

// IdempotencyKey derives the deterministic fingerprint of an intended
// remote write:
//
//	sha256(fileKey | targetID | opType | normalize(content) | agentIdentity)
//
// Content is trimmed and lowercased so a retried reply that only
// differs in whitespace or casing still collapses onto the original
// operation.
func IdempotencyKey(fileKey, targetID string, opType models.OpType, content, agentIdentity string) string {
	if agentIdentity == "" {
		agentIdentity = DefaultAgentIdentity
	}
	normalized := strings.ToLower(strings.TrimSpace(content))
	input := fileKey + "|" + targetID + "|" + string(opType) + "|" + normalized + "|" + agentIdentity
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

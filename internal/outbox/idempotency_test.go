package outbox

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/figsync/pkg/models"
)

func TestIdempotencyKey(t *testing.T) {
	t.Run("deterministic", func(t *testing.T) {
		a := IdempotencyKey("file1", "c1", models.OpReply, "hello", "default")
		b := IdempotencyKey("file1", "c1", models.OpReply, "hello", "default")
		assert.Equal(t, a, b)
		assert.Len(t, a, 64) // sha256 hex
	})

	t.Run("whitespace and case are normalized", func(t *testing.T) {
		a := IdempotencyKey("file1", "c1", models.OpReply, "Hello World", "default")
		b := IdempotencyKey("file1", "c1", models.OpReply, "  hello world  \n", "default")
		assert.Equal(t, a, b)
	})

	t.Run("distinct inputs diverge", func(t *testing.T) {
		base := IdempotencyKey("file1", "c1", models.OpReply, "hello", "default")
		assert.NotEqual(t, base, IdempotencyKey("file2", "c1", models.OpReply, "hello", "default"))
		assert.NotEqual(t, base, IdempotencyKey("file1", "c2", models.OpReply, "hello", "default"))
		assert.NotEqual(t, base, IdempotencyKey("file1", "c1", models.OpAddReaction, "hello", "default"))
		assert.NotEqual(t, base, IdempotencyKey("file1", "c1", models.OpReply, "goodbye", "default"))
		assert.NotEqual(t, base, IdempotencyKey("file1", "c1", models.OpReply, "hello", "other-agent"))
	})

	t.Run("empty identity uses the default", func(t *testing.T) {
		a := IdempotencyKey("file1", "c1", models.OpReply, "hello", "")
		b := IdempotencyKey("file1", "c1", models.OpReply, "hello", DefaultAgentIdentity)
		assert.Equal(t, a, b)
	})
}

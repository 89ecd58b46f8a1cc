package docverify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerify_WellFormedMarkdown(t *testing.T) {
	v := New()
	err := v.Verify([]byte("# Title\n\nSome body text.\n\n```go\nfunc main() {}\n```\n"))
	assert.NoError(t, err)
}

func TestVerify_UnclosedFence(t *testing.T) {
	v := New()
	err := v.Verify([]byte("# Title\n\n```go\nfunc main() {}\n"))
	assert.Error(t, err)
}

func TestVerify_EmptyDocument(t *testing.T) {
	v := New()
	err := v.Verify([]byte(""))
	assert.NoError(t, err)
}

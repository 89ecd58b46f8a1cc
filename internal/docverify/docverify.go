// Package docverify verifies Markdown produced by documentation-type
// tasks, grounded in the teacher's parser.MarkdownParser use of goldmark.
// Rather than extracting a plan from Markdown (the teacher's use case),
// it renders the document and promotes parse-level problems goldmark
// would otherwise surface as silent best-effort output into errors, so
// the Judge can gate on them.
package docverify

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
)

// Verifier renders Markdown and reports whether it is well-formed.
type Verifier struct {
	markdown goldmark.Markdown
}

// New returns a ready-to-use Verifier.
func New() *Verifier {
	return &Verifier{markdown: goldmark.New()}
}

// Verify renders source and returns an error if rendering panics or the
// source contains an unclosed fenced code block — goldmark itself renders
// these permissively, so the check is done on the source directly.
func (v *Verifier) Verify(source []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("docverify: render panic: %v", r)
		}
	}()

	if unclosedFence := hasUnclosedFence(source); unclosedFence {
		return fmt.Errorf("docverify: unclosed fenced code block")
	}

	var buf bytes.Buffer
	if renderErr := v.markdown.Convert(source, &buf); renderErr != nil {
		return fmt.Errorf("docverify: render: %w", renderErr)
	}
	return nil
}

func hasUnclosedFence(source []byte) bool {
	fences := 0
	for _, line := range strings.Split(string(source), "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			fences++
		}
	}
	return fences%2 != 0
}

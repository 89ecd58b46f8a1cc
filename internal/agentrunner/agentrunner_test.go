package agentrunner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseResponse_StructuredOutput(t *testing.T) {
	raw := []byte(`{"session_id":"s1","structured_output":{"verdict":"pass"}}`)
	content, sessionID, err := ParseResponse(raw)
	assert.NoError(t, err)
	assert.Equal(t, "s1", sessionID)
	assert.JSONEq(t, `{"verdict":"pass"}`, content)
}

func TestParseResponse_ResultField(t *testing.T) {
	raw := []byte(`{"result":"{\"ok\":true}"}`)
	content, _, err := ParseResponse(raw)
	assert.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, content)
}

func TestParseResponse_ContentField(t *testing.T) {
	raw := []byte(`{"content":"hello"}`)
	content, _, err := ParseResponse(raw)
	assert.NoError(t, err)
	assert.Equal(t, "hello", content)
}

func TestParseResponse_MixedOutputFallback(t *testing.T) {
	raw := []byte("warning: ignore this\n{\"foo\":\"bar\"}\n")
	content, _, err := ParseResponse(raw)
	assert.NoError(t, err)
	assert.JSONEq(t, `{"foo":"bar"}`, content)
}

func TestParseResponse_NoJSON(t *testing.T) {
	content, sessionID, err := ParseResponse([]byte("not json at all"))
	assert.NoError(t, err)
	assert.Empty(t, content)
	assert.Empty(t, sessionID)
}

func TestParseRateLimitFromError_UnixTimestamp(t *testing.T) {
	info := ParseRateLimitFromError("Claude AI usage limit reached|1700000000")
	if assert.NotNil(t, info) {
		assert.Equal(t, int64(1700000000), info.ResetAt.Unix())
	}
}

func TestParseRateLimitFromError_RetrySeconds(t *testing.T) {
	info := ParseRateLimitFromError("rate limit hit, retry after 300 seconds")
	if assert.NotNil(t, info) {
		assert.Equal(t, int64(300), info.WaitSeconds)
	}
}

func TestParseRateLimitFromError_NoMatch(t *testing.T) {
	info := ParseRateLimitFromError("some unrelated failure")
	assert.Nil(t, info)
}

func TestFake_RunReturnsQueuedResponses(t *testing.T) {
	f := NewFake()
	f.Enqueue(RoleWorker, &Response{Content: "first"})
	f.Enqueue(RoleWorker, &Response{Content: "second"})

	r1, err := f.Run(context.Background(), Request{Role: RoleWorker, Prompt: "p"})
	assert.NoError(t, err)
	assert.Equal(t, "first", r1.Content)

	r2, err := f.Run(context.Background(), Request{Role: RoleWorker, Prompt: "p"})
	assert.NoError(t, err)
	assert.Equal(t, "second", r2.Content)
}

func TestFake_RunWithoutQueuedResponseErrors(t *testing.T) {
	f := NewFake()
	_, err := f.Run(context.Background(), Request{Role: RoleJudge, Prompt: "p"})
	assert.Error(t, err)
}

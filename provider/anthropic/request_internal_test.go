package anthropic

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conversant-ai/agentcore/model"
)

func TestSanitizeToolNameReplacesInvalidRunes(t *testing.T) {
	assert.Equal(t, "search_docs", sanitizeToolName("search.docs"))
	assert.Equal(t, "a_b_c", sanitizeToolName("a b/c"))
}

func TestSanitizeToolNameTruncatesAt64(t *testing.T) {
	name := ""
	for i := 0; i < 100; i++ {
		name += "x"
	}
	assert.Len(t, sanitizeToolName(name), 64)
}

func TestEncodeToolsDetectsSanitizationCollision(t *testing.T) {
	defs := []model.ToolDefinition{
		{Name: "search.docs"},
		{Name: "search/docs"},
	}
	_, _, err := encodeTools(defs)
	require.Error(t, err)
}

func TestEncodeToolsSkipsUnnamedDefinitions(t *testing.T) {
	defs := []model.ToolDefinition{{Name: ""}, {Name: "search"}}
	params, canon, err := encodeTools(defs)
	require.NoError(t, err)
	assert.Len(t, params, 1)
	assert.Equal(t, "search", canon["search"])
}

func TestEncodeRequestRejectsEmptyConversation(t *testing.T) {
	_, err := encodeRequest("claude-x", nil, nil, 0, false)
	assert.Error(t, err)
}

func TestEncodeRequestAppliesDefaultMaxTokens(t *testing.T) {
	params, err := encodeRequest("claude-x", []model.Message{model.NewUserText("hi")}, nil, 0, false)
	require.NoError(t, err)
	assert.EqualValues(t, 4096, params.MaxTokens)
}

func TestEncodeSystemPrependsSentinelUnderOAuth(t *testing.T) {
	blocks := encodeSystem("custom prompt", true)
	require.Len(t, blocks, 2)
	assert.Equal(t, claudeCodeSentinel, blocks[0].Text)
	assert.Equal(t, "custom prompt", blocks[1].Text)
}

func TestEncodeSystemOmitsSentinelWithoutOAuth(t *testing.T) {
	blocks := encodeSystem("custom prompt", false)
	require.Len(t, blocks, 1)
	assert.Equal(t, "custom prompt", blocks[0].Text)
}

func TestEncodeSystemEmptyWithoutOAuthOrText(t *testing.T) {
	assert.Empty(t, encodeSystem("", false))
}

func TestApplyHeadersOAuthPath(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "http://example.com", nil)
	applyHeaders(req, "tok", true)
	assert.Equal(t, "Bearer tok", req.Header.Get("Authorization"))
	assert.Equal(t, oauthBetas, req.Header.Get("anthropic-beta"))
	assert.Empty(t, req.Header.Get("x-api-key"))
}

func TestApplyHeadersAPIKeyPath(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "http://example.com", nil)
	applyHeaders(req, "sk-xxx", false)
	assert.Equal(t, "sk-xxx", req.Header.Get("x-api-key"))
	assert.Empty(t, req.Header.Get("anthropic-beta"))
	assert.Empty(t, req.Header.Get("Authorization"))
}

func TestEncodeMessagesFiltersCustomMessagesIntoSystem(t *testing.T) {
	messages := []model.Message{
		model.NewCustom("system_prompt", "be nice"),
		model.NewUserText("hello"),
	}
	conv, system, err := encodeMessages(messages, nil)
	require.NoError(t, err)
	assert.Equal(t, "be nice", system)
	assert.Len(t, conv, 1)
}

package generation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/fyrsmithlabs/genforge/internal/config"
	"github.com/fyrsmithlabs/genforge/internal/extract"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
)

// MockModel is a mock implementation of llms.Model.
type MockModel struct {
	mock.Mock
}

func (m *MockModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	args := m.Called(ctx, messages)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*llms.ContentResponse), args.Error(1)
}

func (m *MockModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

func textResponse(texts ...string) *llms.ContentResponse {
	resp := &llms.ContentResponse{}
	for _, t := range texts {
		resp.Choices = append(resp.Choices, &llms.ContentChoice{Content: t})
	}
	return resp
}

func newTestClient(model llms.Model, retries int) *Client {
	c := NewClientWithModel(model, Config{MaxRetries: retries}, nil)
	c.baseBackoff = time.Millisecond
	return c
}

func humanPrompt(messages []llms.MessageContent) string {
	for _, m := range messages {
		if m.Role == schema.ChatMessageTypeHuman {
			if tp, ok := m.Parts[0].(llms.TextContent); ok {
				return tp.Text
			}
		}
	}
	return ""
}

func TestNewClient_MissingCredential(t *testing.T) {
	_, err := NewClient(Config{Provider: "openai"}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingCredential))
}

func TestNewClient_UnsupportedProvider(t *testing.T) {
	_, err := NewClient(Config{Provider: "telepathy", APIKey: config.Secret("k")}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported")
}

func TestNewClient_WithKey(t *testing.T) {
	c, err := NewClient(Config{Provider: "openai", APIKey: config.Secret("sk-test"), Model: "gpt-4o-mini"}, nil)
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestClient_Generate(t *testing.T) {
	model := new(MockModel)
	model.On("GenerateContent", mock.Anything, mock.MatchedBy(func(msgs []llms.MessageContent) bool {
		return len(msgs) == 2 &&
			containsAll(humanPrompt(msgs), "Specification:", "add two numbers", "Interface definition:", "interface Calc")
	})).Return(textResponse("def add(a, b): return a + b", "ignored"), nil).Once()

	c := newTestClient(model, 0)
	resp, err := c.Generate(context.Background(), Request{
		Role:      RoleCode,
		Spec:      "The application must add two numbers.",
		Interface: "interface Calc {}",
	})
	require.NoError(t, err)

	assert.Equal(t, extract.List, resp.Kind())
	assert.Equal(t, 2, resp.Len())
	assert.Equal(t, "def add(a, b): return a + b", extract.String(resp))
	model.AssertExpectations(t)
}

func TestClient_Generate_NoChoices(t *testing.T) {
	model := new(MockModel)
	model.On("GenerateContent", mock.Anything, mock.Anything).Return(textResponse(), nil)

	resp, err := newTestClient(model, 0).Generate(context.Background(), Request{Role: RoleReview, Code: "x"})
	require.NoError(t, err)
	assert.Equal(t, "", extract.String(resp))
}

func TestClient_Generate_RetriesTransientErrors(t *testing.T) {
	model := new(MockModel)
	model.On("GenerateContent", mock.Anything, mock.Anything).
		Return(nil, errors.New("API returned unexpected status code: 503")).Twice()
	model.On("GenerateContent", mock.Anything, mock.Anything).
		Return(textResponse("Approved"), nil).Once()

	resp, err := newTestClient(model, 3).Generate(context.Background(), Request{Role: RoleReview, Code: "x"})
	require.NoError(t, err)
	assert.Equal(t, "Approved", extract.String(resp))
	model.AssertNumberOfCalls(t, "GenerateContent", 3)
}

func TestClient_Generate_GivesUpAfterMaxRetries(t *testing.T) {
	model := new(MockModel)
	model.On("GenerateContent", mock.Anything, mock.Anything).
		Return(nil, errors.New("429 rate limit exceeded"))

	_, err := newTestClient(model, 2).Generate(context.Background(), Request{Role: RoleDocs})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries exceeded")
	model.AssertNumberOfCalls(t, "GenerateContent", 3)
}

func TestClient_Generate_PermanentErrorNotRetried(t *testing.T) {
	model := new(MockModel)
	model.On("GenerateContent", mock.Anything, mock.Anything).
		Return(nil, errors.New("API returned unexpected status code: 401: invalid api key"))

	_, err := newTestClient(model, 3).Generate(context.Background(), Request{Role: RoleTest, Code: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "test generation")
	model.AssertNumberOfCalls(t, "GenerateContent", 1)
}

func TestClient_Generate_UnknownRole(t *testing.T) {
	model := new(MockModel)
	_, err := newTestClient(model, 0).Generate(context.Background(), Request{Role: "poem"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownRole))
	model.AssertNotCalled(t, "GenerateContent", mock.Anything, mock.Anything)
}

func TestClient_Generate_ContextCancelled(t *testing.T) {
	model := new(MockModel)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestClient(model, 0).Generate(ctx, Request{Role: RoleInterface, Spec: "s"})
	require.Error(t, err)
	model.AssertNotCalled(t, "GenerateContent", mock.Anything, mock.Anything)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, isRetryable(context.DeadlineExceeded))
	assert.True(t, isRetryable(errors.New("read: connection reset by peer")))
	assert.True(t, isRetryable(errors.New("API returned unexpected status code: 502")))
	assert.False(t, isRetryable(errors.New("API returned unexpected status code: 400")))
}

func containsAll(s string, parts ...string) bool {
	for _, p := range parts {
		if !strings.Contains(s, p) {
			return false
		}
	}
	return true
}

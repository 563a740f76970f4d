package router

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/novaadapt/novaadapt-core/pkg/models"
	"github.com/stretchr/testify/require"
)

type stubCaller struct {
	mu        sync.Mutex
	responses map[string]string
	errs      map[string]error
	calls     []string
}

func (s *stubCaller) Call(ctx context.Context, ep models.Endpoint, messages []models.ChatMessage, temperature float64, maxTokens int) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, ep.Name)
	s.mu.Unlock()
	if err, ok := s.errs[ep.Name]; ok {
		return "", err
	}
	return s.responses[ep.Name], nil
}

func endpoints(names ...string) []models.Endpoint {
	out := make([]models.Endpoint, 0, len(names))
	for _, n := range names {
		out = append(out, models.Endpoint{Name: n, Model: n + "-model", BaseURL: "http://localhost"})
	}
	return out
}

func TestSingleStrategyReturnsFirstSuccess(t *testing.T) {
	caller := &stubCaller{responses: map[string]string{"primary": "hello"}}
	r, err := New(endpoints("primary", "backup"), Config{DefaultModel: "primary"}, caller)
	require.NoError(t, err)

	result, err := r.Chat(context.Background(), models.ChatRequest{Messages: []models.ChatMessage{{Role: models.RoleUser, Content: "hi"}}})
	require.NoError(t, err)
	require.Equal(t, "hello", result.Reply)
	require.Equal(t, "primary", result.Endpoint)
	require.Equal(t, "single", result.Strategy)
}

func TestSingleStrategyFallsBackOnError(t *testing.T) {
	caller := &stubCaller{
		responses: map[string]string{"backup": "fallback reply"},
		errs:      map[string]error{"primary": fmt.Errorf("boom")},
	}
	r, err := New(endpoints("primary", "backup"), Config{DefaultModel: "primary"}, caller)
	require.NoError(t, err)

	result, err := r.Chat(context.Background(), models.ChatRequest{
		Endpoints: []string{"primary", "backup"},
		Messages:  []models.ChatMessage{{Role: models.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	require.Equal(t, "fallback reply", result.Reply)
	require.Equal(t, "backup", result.Endpoint)
}

func TestSingleStrategyAllFail(t *testing.T) {
	caller := &stubCaller{errs: map[string]error{"primary": fmt.Errorf("down")}}
	r, err := New(endpoints("primary"), Config{DefaultModel: "primary"}, caller)
	require.NoError(t, err)

	_, err = r.Chat(context.Background(), models.ChatRequest{Messages: []models.ChatMessage{{Role: models.RoleUser, Content: "hi"}}})
	require.Error(t, err)
}

func TestVoteStrategyMajorityWins(t *testing.T) {
	caller := &stubCaller{responses: map[string]string{
		"a": "yes", "b": "yes", "c": "no",
	}}
	r, err := New(endpoints("a", "b", "c"), Config{DefaultModel: "a", MinVoteAgreement: 2}, caller)
	require.NoError(t, err)

	result, err := r.Chat(context.Background(), models.ChatRequest{
		Strategy:  "vote",
		Endpoints: []string{"a", "b", "c"},
		Messages:  []models.ChatMessage{{Role: models.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	require.Equal(t, "yes", result.Reply)
	require.Equal(t, 2, result.VoteCount)
}

func TestVoteStrategyQuorumNotMet(t *testing.T) {
	caller := &stubCaller{responses: map[string]string{
		"a": "yes", "b": "no", "c": "maybe",
	}}
	r, err := New(endpoints("a", "b", "c"), Config{DefaultModel: "a", MinVoteAgreement: 2}, caller)
	require.NoError(t, err)

	_, err = r.Chat(context.Background(), models.ChatRequest{
		Strategy:  "vote",
		Endpoints: []string{"a", "b", "c"},
		Messages:  []models.ChatMessage{{Role: models.RoleUser, Content: "hi"}},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "quorum not met")
}

func TestVoteStrategyNormalizesJSONReplies(t *testing.T) {
	caller := &stubCaller{responses: map[string]string{
		"a": `{"actions": [{"type":"click"}]}`,
		"b": `{"actions":[{"type": "click"}]}`,
	}}
	r, err := New(endpoints("a", "b"), Config{DefaultModel: "a", MinVoteAgreement: 2}, caller)
	require.NoError(t, err)

	result, err := r.Chat(context.Background(), models.ChatRequest{
		Strategy:  "vote",
		Endpoints: []string{"a", "b"},
		Messages:  []models.ChatMessage{{Role: models.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	require.Equal(t, 2, result.VoteCount)
}

func TestHealthCheckReportsLatencyAndErrors(t *testing.T) {
	caller := &stubCaller{
		responses: map[string]string{"healthy": "OK"},
		errs:      map[string]error{"unhealthy": fmt.Errorf("connection refused")},
	}
	r, err := New(endpoints("healthy", "unhealthy"), Config{DefaultModel: "healthy"}, caller)
	require.NoError(t, err)

	report := r.HealthCheck(context.Background(), nil)
	require.Len(t, report, 2)
	byName := map[string]models.EndpointHealth{}
	for _, h := range report {
		byName[h.Endpoint] = h
	}
	require.True(t, byName["healthy"].Healthy)
	require.False(t, byName["unhealthy"].Healthy)
}

func TestNewRequiresKnownDefaultModel(t *testing.T) {
	_, err := New(endpoints("a"), Config{DefaultModel: "missing"}, &stubCaller{})
	require.Error(t, err)
}

// Package router routes chat requests to configured model endpoints,
// supporting an ordered-fallback "single" strategy and a bounded-parallel
// "vote" strategy with majority agreement, the way
// novaadapt_shared/model_router.py routes chat completions.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/novaadapt/novaadapt-core/pkg/models"
	"golang.org/x/sync/errgroup"
)

// Caller performs the actual network call to one endpoint. The default
// implementation speaks the OpenAI-compatible chat-completions protocol;
// tests substitute a stub.
type Caller interface {
	Call(ctx context.Context, endpoint models.Endpoint, messages []models.ChatMessage, temperature float64, maxTokens int) (string, error)
}

// Config controls router-wide defaults, mirroring ModelRouter's
// constructor arguments.
type Config struct {
	DefaultModel         string
	Temperature          float64
	MaxTokens            int
	TimeoutSeconds       int
	DefaultVoteCandidates int
	MinVoteAgreement     int
}

// Router dispatches ChatRequests across a fixed registry of endpoints.
type Router struct {
	endpoints map[string]models.Endpoint
	order     []string
	cfg       Config
	caller    Caller
}

// New builds a Router over endpoints. defaultModel must name one of them.
func New(endpoints []models.Endpoint, cfg Config, caller Caller) (*Router, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("router: at least one endpoint is required")
	}
	reg := make(map[string]models.Endpoint, len(endpoints))
	order := make([]string, 0, len(endpoints))
	for _, ep := range endpoints {
		reg[ep.Name] = ep
		order = append(order, ep.Name)
	}
	if _, ok := reg[cfg.DefaultModel]; !ok {
		return nil, fmt.Errorf("router: default model %q not found in endpoints", cfg.DefaultModel)
	}
	if cfg.DefaultVoteCandidates <= 0 {
		cfg.DefaultVoteCandidates = 3
	}
	if cfg.MinVoteAgreement <= 0 {
		cfg.MinVoteAgreement = 1
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 90
	}
	if caller == nil {
		caller = &httpCaller{}
	}
	return &Router{endpoints: reg, order: order, cfg: cfg, caller: caller}, nil
}

// List returns the configured endpoints in registration order.
func (r *Router) List() []models.Endpoint {
	out := make([]models.Endpoint, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.endpoints[name])
	}
	return out
}

// Chat dispatches req according to its strategy ("single" by default).
func (r *Router) Chat(ctx context.Context, req models.ChatRequest) (*models.RouterResult, error) {
	strategy := req.Strategy
	if strategy == "" {
		strategy = "single"
	}
	switch strategy {
	case "single":
		return r.chatSingle(ctx, req)
	case "vote":
		return r.chatVote(ctx, req)
	default:
		return nil, fmt.Errorf("router: strategy must be 'single' or 'vote', got %q", strategy)
	}
}

func (r *Router) chatSingle(ctx context.Context, req models.ChatRequest) (*models.RouterResult, error) {
	primary := req.Endpoints
	var names []string
	if len(primary) > 0 {
		names = dedupe(primary)
	} else {
		names = dedupe([]string{r.cfg.DefaultModel})
	}

	var attempts []models.EndpointAttempt
	for _, name := range names {
		ep, ok := r.endpoints[name]
		if !ok {
			attempts = append(attempts, models.EndpointAttempt{Endpoint: name, Error: fmt.Sprintf("unknown model endpoint %q", name)})
			continue
		}
		start := time.Now()
		content, err := r.invoke(ctx, ep, req)
		latency := time.Since(start)
		if err != nil {
			attempts = append(attempts, models.EndpointAttempt{Endpoint: name, Error: err.Error(), Latency: latency})
			continue
		}
		attempts = append(attempts, models.EndpointAttempt{Endpoint: name, Reply: content, Latency: latency})
		return &models.RouterResult{
			Reply:    content,
			Endpoint: name,
			Strategy: "single",
			Attempts: attempts,
		}, nil
	}

	return nil, fmt.Errorf("router: all model attempts failed: %s", joinErrors(attempts))
}

func (r *Router) chatVote(ctx context.Context, req models.ChatRequest) (*models.RouterResult, error) {
	names := req.Endpoints
	if len(names) == 0 {
		names = r.defaultVoteModels()
	}
	names = dedupe(names)
	if len(names) == 0 {
		return nil, fmt.Errorf("router: candidate endpoints must not be empty for strategy='vote'")
	}
	if r.cfg.MinVoteAgreement > len(names) {
		return nil, fmt.Errorf("router: min_vote_agreement=%d exceeds vote candidates=%d", r.cfg.MinVoteAgreement, len(names))
	}

	type outcome struct {
		name    string
		content string
		latency time.Duration
		err     error
	}
	results := make([]outcome, len(names))

	g, gctx := errgroup.WithContext(ctx)
	limit := len(names)
	if limit > 4 {
		limit = 4
	}
	g.SetLimit(limit)

	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			ep, ok := r.endpoints[name]
			if !ok {
				results[i] = outcome{name: name, err: fmt.Errorf("unknown model endpoint %q", name)}
				return nil
			}
			start := time.Now()
			content, err := r.invoke(gctx, ep, req)
			results[i] = outcome{name: name, content: content, latency: time.Since(start), err: err}
			return nil
		})
	}
	_ = g.Wait()

	attempts := make([]models.EndpointAttempt, 0, len(results))
	votes := make(map[string]string)
	var outputs []string
	for _, o := range results {
		if o.err != nil {
			attempts = append(attempts, models.EndpointAttempt{Endpoint: o.name, Error: o.err.Error(), Latency: o.latency})
			continue
		}
		attempts = append(attempts, models.EndpointAttempt{Endpoint: o.name, Reply: o.content, Latency: o.latency})
		votes[o.name] = o.content
		outputs = append(outputs, o.content)
	}
	if len(outputs) == 0 {
		return nil, fmt.Errorf("router: all vote candidates failed: %s", joinErrors(attempts))
	}

	chosen, winnerCount := majorityVote(outputs)
	if winnerCount < r.cfg.MinVoteAgreement {
		return nil, fmt.Errorf("router: vote quorum not met: winner_votes=%d, required_votes=%d", winnerCount, r.cfg.MinVoteAgreement)
	}

	winner := names[0]
	for _, name := range names {
		if v, ok := votes[name]; ok && normalize(v) == normalize(chosen) {
			winner = name
			break
		}
	}

	return &models.RouterResult{
		Reply:     chosen,
		Endpoint:  winner,
		Strategy:  "vote",
		Attempts:  attempts,
		VoteCount: winnerCount,
		Quorum:    r.cfg.MinVoteAgreement,
	}, nil
}

// HealthCheck probes each named endpoint (all endpoints if names is
// empty) with a cheap prompt and reports latency/reachability.
func (r *Router) HealthCheck(ctx context.Context, names []string) []models.EndpointHealth {
	if len(names) == 0 {
		names = append([]string(nil), r.order...)
	}
	names = dedupe(names)
	probe := []models.ChatMessage{{Role: models.RoleUser, Content: "Reply with: OK"}}

	report := make([]models.EndpointHealth, 0, len(names))
	for _, name := range names {
		ep, ok := r.endpoints[name]
		if !ok {
			report = append(report, models.EndpointHealth{Endpoint: name, Healthy: false, Error: fmt.Sprintf("unknown model endpoint %q", name)})
			continue
		}
		start := time.Now()
		_, err := r.invoke(ctx, ep, models.ChatRequest{Messages: probe})
		latency := time.Since(start)
		if err != nil {
			report = append(report, models.EndpointHealth{Endpoint: name, Healthy: false, Latency: latency, Error: err.Error()})
			continue
		}
		report = append(report, models.EndpointHealth{Endpoint: name, Healthy: true, Latency: latency})
	}
	return report
}

func (r *Router) invoke(ctx context.Context, ep models.Endpoint, req models.ChatRequest) (string, error) {
	if strings.EqualFold(ep.Provider, "litellm") {
		return "", fmt.Errorf("model endpoint %q: provider 'litellm' is not supported by this build", ep.Name)
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = r.cfg.Temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = r.cfg.MaxTokens
	}
	timeout := time.Duration(r.cfg.TimeoutSeconds) * time.Second
	if ep.TimeoutSecs > 0 {
		timeout = time.Duration(ep.TimeoutSecs) * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return r.caller.Call(callCtx, ep, req.Messages, temperature, maxTokens)
}

func (r *Router) defaultVoteModels() []string {
	ordered := []string{r.cfg.DefaultModel}
	for _, name := range r.order {
		if name != r.cfg.DefaultModel {
			ordered = append(ordered, name)
		}
	}
	if len(ordered) > r.cfg.DefaultVoteCandidates {
		ordered = ordered[:r.cfg.DefaultVoteCandidates]
	}
	return ordered
}

func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

func joinErrors(attempts []models.EndpointAttempt) string {
	parts := make([]string, 0, len(attempts))
	for _, a := range attempts {
		if a.Error != "" {
			parts = append(parts, fmt.Sprintf("%s: %s", a.Endpoint, a.Error))
		}
	}
	return strings.Join(parts, "; ")
}

// majorityVote returns the first output whose normalized form matches the
// most common normalized form, and that form's vote count.
func majorityVote(outputs []string) (string, int) {
	counts := make(map[string]int, len(outputs))
	norms := make([]string, len(outputs))
	for i, o := range outputs {
		n := normalize(o)
		norms[i] = n
		counts[n]++
	}
	var bestNorm string
	best := -1
	// Stable tie-break: first-seen normalized form wins among ties,
	// matching Counter.most_common's insertion-order stability.
	seenOrder := make([]string, 0, len(counts))
	seen := make(map[string]struct{}, len(counts))
	for _, n := range norms {
		if _, ok := seen[n]; !ok {
			seen[n] = struct{}{}
			seenOrder = append(seenOrder, n)
		}
	}
	sort.SliceStable(seenOrder, func(i, j int) bool {
		return counts[seenOrder[i]] > counts[seenOrder[j]]
	})
	if len(seenOrder) > 0 {
		bestNorm = seenOrder[0]
		best = counts[bestNorm]
	}
	for _, o := range outputs {
		if normalize(o) == bestNorm {
			return o, best
		}
	}
	return outputs[0], best
}

// normalize mirrors ModelRouter._normalize: JSON-parseable replies are
// canonicalized with sorted keys; everything else is lowercased and
// whitespace-collapsed.
func normalize(text string) string {
	var parsed interface{}
	if err := json.Unmarshal([]byte(text), &parsed); err == nil {
		canon, err := canonicalJSON(parsed)
		if err == nil {
			return "json:" + canon
		}
	}
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

func canonicalJSON(v interface{}) (string, error) {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			b.Write(kb)
			b.WriteByte(':')
			vs, err := canonicalJSON(val[k])
			if err != nil {
				return "", err
			}
			b.WriteString(vs)
		}
		b.WriteByte('}')
		return b.String(), nil
	case []interface{}:
		var b strings.Builder
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			vs, err := canonicalJSON(item)
			if err != nil {
				return "", err
			}
			b.WriteString(vs)
		}
		b.WriteByte(']')
		return b.String(), nil
	default:
		b, err := json.Marshal(val)
		return string(b), err
	}
}

// httpCaller is the default Caller, speaking the OpenAI-compatible
// chat-completions protocol over HTTP.
type httpCaller struct{}

func (c *httpCaller) Call(ctx context.Context, ep models.Endpoint, messages []models.ChatMessage, temperature float64, maxTokens int) (string, error) {
	return callOpenAICompatible(ctx, ep, messages, temperature, maxTokens)
}

func apiKeyFor(ep models.Endpoint) (string, error) {
	if ep.APIKeyEnv == "" {
		return "", nil
	}
	key := os.Getenv(ep.APIKeyEnv)
	if key == "" {
		return "", fmt.Errorf("missing API key env var %q for endpoint %q", ep.APIKeyEnv, ep.Name)
	}
	return key, nil
}

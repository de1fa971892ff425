package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ppiankov/sentineld/internal/model"
)

// OllamaConfig carries the tuning parameters for the concrete Ollama-style
// binding, taken from the llm section of the configuration file.
type OllamaConfig struct {
	BaseURL            string
	Model              string
	JudgeTimeout       time.Duration
	JudgeMaxTokens     int
	JudgeTemperature   float64
	LearnerMaxTokens   int
	LearnerTemperature float64
	ContextWindow      int
}

// learnTimeout bounds the Learner-path LLM call, which carries a much larger
// prompt and output budget than the sub-second judge path.
const learnTimeout = 30 * time.Second

// retryDelay is the fixed backoff between the first failure and the single retry.
const retryDelay = 100 * time.Millisecond

// OllamaProvider talks to a local Ollama-compatible inference service:
// POST /api/chat with a JSON-schema `format`, GET /api/tags for health.
type OllamaProvider struct {
	client *http.Client
	cfg    OllamaConfig
}

// NewOllamaProvider builds a provider bound to cfg. The HTTP client carries a
// generous overall timeout; the per-call deadline is applied via context.
func NewOllamaProvider(cfg OllamaConfig) *OllamaProvider {
	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = 2048
	}
	return &OllamaProvider{
		client: &http.Client{Timeout: 60 * time.Second},
		cfg:    cfg,
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Format   any           `json:"format"`
	Options  chatOptions   `json:"options"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
	NumCtx      int     `json:"num_ctx"`
}

type chatResponse struct {
	Message struct {
		Content  string `json:"content"`
		Thinking string `json:"thinking"`
	} `json:"message"`
	Done bool `json:"done"`
}

var judgeSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"decision":       map[string]any{"type": "string", "enum": []string{"allow", "flag", "block"}},
		"confidence":     map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
		"reason":         map[string]any{"type": "string"},
		"threat_level":   map[string]any{"type": "string", "enum": []string{"low", "medium", "high", "critical"}},
		"suggested_rule": map[string]any{"type": "string"},
	},
	"required": []string{"decision", "confidence", "reason", "threat_level"},
}

var learnerSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"new_rules": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"pattern":     map[string]any{"type": "string"},
					"threat_type": map[string]any{"type": "string"},
					"confidence":  map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
					"action":      map[string]any{"type": "string", "enum": []string{"block", "flag"}},
					"description": map[string]any{"type": "string"},
				},
				"required": []string{"pattern", "threat_type", "confidence", "action"},
			},
		},
		"weaken_rules": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"remove_rules": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"rationales":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
	},
	"required": []string{"new_rules", "weaken_rules", "remove_rules", "rationales"},
}

// generate POSTs a chat request and returns whichever of content/thinking is
// non-empty, preferring content, per the design note on reasoning-model
// output variance. On a first failure it retries once after retryDelay.
func (p *OllamaProvider) generate(ctx context.Context, prompt string, maxTokens int, temperature float64, deadline time.Duration, format any) (string, error) {
	req := chatRequest{
		Model:    p.cfg.Model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
		Stream:   false,
		Format:   format,
		Options: chatOptions{
			Temperature: temperature,
			NumPredict:  maxTokens,
			NumCtx:      p.cfg.ContextWindow,
		},
	}

	resp, err := p.callChat(ctx, req, deadline)
	if err != nil {
		time.Sleep(retryDelay)
		resp, err = p.callChat(ctx, req, deadline)
		if err != nil {
			return "", fmt.Errorf("llm: ollama retry failed: %w", err)
		}
	}

	if resp.Message.Content != "" {
		return resp.Message.Content, nil
	}
	return resp.Message.Thinking, nil
}

func (p *OllamaProvider) callChat(ctx context.Context, req chatRequest, deadline time.Duration) (chatResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return chatResponse{}, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, p.cfg.BaseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return chatResponse{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return chatResponse{}, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return chatResponse{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return chatResponse{}, fmt.Errorf("ollama returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var cr chatResponse
	if err := json.Unmarshal(respBody, &cr); err != nil {
		return chatResponse{}, fmt.Errorf("parse chat response: %w", err)
	}
	return cr, nil
}

type judgeResponseJSON struct {
	Decision      string  `json:"decision"`
	Confidence    float64 `json:"confidence"`
	Reason        *string `json:"reason"`
	ThreatLevel   *string `json:"threat_level"`
	SuggestedRule *string `json:"suggested_rule"`
}

// JudgeRequest implements Provider.
func (p *OllamaProvider) JudgeRequest(ctx context.Context, payload model.RequestPayload, rules model.Rulebook) (model.Decision, error) {
	prompt := judgePrompt(payload, rules)

	raw, err := p.generate(ctx, prompt, p.cfg.JudgeMaxTokens, p.cfg.JudgeTemperature, p.cfg.JudgeTimeout, judgeSchema)
	if err != nil {
		return model.Decision{}, err
	}

	var parsed judgeResponseJSON
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return model.Decision{}, fmt.Errorf("llm: parse judge response: %w (raw: %s)", err, raw)
	}

	reason := ""
	if parsed.Reason != nil {
		reason = *parsed.Reason
	}

	switch strings.ToLower(parsed.Decision) {
	case string(model.KindAllow):
		return model.Allow(parsed.Confidence), nil
	case string(model.KindFlag):
		if reason == "" {
			reason = "Flagged"
		}
		var suggested *model.RuleSuggestion
		if parsed.SuggestedRule != nil && *parsed.SuggestedRule != "" {
			suggested = &model.RuleSuggestion{Pattern: *parsed.SuggestedRule}
		}
		return model.Flag(parsed.Confidence, reason, suggested), nil
	case string(model.KindBlock):
		if reason == "" {
			reason = "Blocked"
		}
		threat := model.ThreatMedium
		if parsed.ThreatLevel != nil {
			if t, ok := parseThreatLevel(*parsed.ThreatLevel); ok {
				threat = t
			}
		}
		return model.Block(parsed.Confidence, reason, threat), nil
	default:
		return model.Decision{}, fmt.Errorf("llm: unknown decision type %q", parsed.Decision)
	}
}

func parseThreatLevel(s string) (model.ThreatLevel, bool) {
	switch model.ThreatLevel(strings.ToLower(s)) {
	case model.ThreatLow, model.ThreatMedium, model.ThreatHigh, model.ThreatCritical:
		return model.ThreatLevel(strings.ToLower(s)), true
	default:
		return "", false
	}
}

// LearnRules implements Provider.
func (p *OllamaProvider) LearnRules(ctx context.Context, flagged []model.LogEntry, rules model.Rulebook) (model.LearnerOutput, error) {
	prompt := learnerPrompt(flagged, rules)

	raw, err := p.generate(ctx, prompt, p.cfg.LearnerMaxTokens, p.cfg.LearnerTemperature, learnTimeout, learnerSchema)
	if err != nil {
		return model.LearnerOutput{}, err
	}

	var out model.LearnerOutput
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return model.LearnerOutput{}, fmt.Errorf("llm: parse learner response: %w (raw: %s)", err, raw)
	}
	return out, nil
}

// HealthCheck implements Provider.
func (p *OllamaProvider) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.BaseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("llm: build health check request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("llm: health check: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("llm: health check returned %d", resp.StatusCode)
	}
	return nil
}

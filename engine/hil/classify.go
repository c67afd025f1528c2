package hil

import (
	"context"
	"strings"

	"github.com/flowforge/engine/engine/provider"
)

// Classifications a human reply resolves to.
const (
	ClassConfirmed = "confirmed"
	ClassRejected  = "rejected"
	ClassUnrelated = "unrelated"
	ClassTimeout   = "timeout"
)

// Classifier decides which output key a HIL reply fires.
type Classifier interface {
	Classify(ctx context.Context, payload map[string]any) (classification, userResponse string, err error)
}

// payloadText extracts the human text from a resume payload.
func payloadText(payload map[string]any) string {
	for _, key := range []string{"text", "message", "response", "body"} {
		if s, ok := payload[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// AIClassifier asks the configured analysis model to label the reply, with a
// keyword fallback when the model output is unusable.
type AIClassifier struct {
	provider provider.Provider
	prompt   string
}

// NewAIClassifier builds a classifier over the given provider. The provider
// is expected to be configured with the node's ai_analysis_model.
func NewAIClassifier(p provider.Provider, requestContext string) *AIClassifier {
	return &AIClassifier{provider: p, prompt: requestContext}
}

// Classify implements Classifier.
func (c *AIClassifier) Classify(ctx context.Context, payload map[string]any) (string, string, error) {
	text := payloadText(payload)
	if text == "" {
		return ClassUnrelated, "", nil
	}
	system := "You classify a human reply to an approval request. " +
		"Answer with exactly one word: confirmed, rejected, or unrelated."
	if c.prompt != "" {
		system += "\nThe request was: " + c.prompt
	}
	resp, cerr := c.provider.Call(ctx, &provider.Request{
		SystemPrompt: system,
		Messages:     []provider.Message{{Role: provider.RoleUser, Content: text}},
	})
	if cerr != nil {
		// Classification degrades to keywords rather than stalling the
		// resume path on a provider outage.
		return keywordClassify(text), text, nil
	}
	label := strings.ToLower(strings.TrimSpace(resp.Content))
	switch {
	case strings.Contains(label, ClassConfirmed):
		return ClassConfirmed, text, nil
	case strings.Contains(label, ClassRejected):
		return ClassRejected, text, nil
	case strings.Contains(label, ClassUnrelated):
		return ClassUnrelated, text, nil
	default:
		return keywordClassify(text), text, nil
	}
}

// KeywordClassifier is the deterministic fallback used when no analysis
// model is configured.
type KeywordClassifier struct{}

// Classify implements Classifier.
func (KeywordClassifier) Classify(_ context.Context, payload map[string]any) (string, string, error) {
	text := payloadText(payload)
	if text == "" {
		return ClassUnrelated, "", nil
	}
	return keywordClassify(text), text, nil
}

func keywordClassify(text string) string {
	t := strings.ToLower(strings.TrimSpace(text))
	for _, word := range []string{"yes", "approve", "approved", "confirm", "confirmed", "ok", "lgtm", "go ahead", "ship it"} {
		if t == word || strings.HasPrefix(t, word+" ") || strings.HasPrefix(t, word+",") || strings.HasPrefix(t, word+".") || strings.HasPrefix(t, word+"!") {
			return ClassConfirmed
		}
	}
	for _, word := range []string{"no", "reject", "rejected", "deny", "denied", "stop", "cancel", "don't", "do not"} {
		if t == word || strings.HasPrefix(t, word+" ") || strings.HasPrefix(t, word+",") || strings.HasPrefix(t, word+".") || strings.HasPrefix(t, word+"!") {
			return ClassRejected
		}
	}
	return ClassUnrelated
}

// SyntheticTimeoutPayload is what the timer delivers when a HIL node expires
// without human input.
func SyntheticTimeoutPayload() map[string]any {
	return map[string]any{"synthetic": true, "classification": ClassTimeout}
}

package hil

import (
	"bytes"
	"context"
	"fmt"
	"text/template"
	"time"

	"github.com/flowforge/engine/engine/core"
	"github.com/flowforge/engine/engine/exec"
	"github.com/flowforge/engine/engine/nodes"
	"github.com/flowforge/engine/engine/workflow"
)

// channelProvider maps a HIL subtype to its delivery channel and the secret
// provider name credentials are resolved under.
var channelProvider = map[string]string{
	"SLACK_INTERACTION":    "slack",
	"GMAIL_INTERACTION":    "gmail",
	"OUTLOOK_INTERACTION":  "outlook",
	"DISCORD_INTERACTION":  "discord",
	"TELEGRAM_INTERACTION": "telegram",
	"MANUAL_REVIEW":        "manual",
}

// Executor implements HUMAN_IN_THE_LOOP nodes: render the request, deliver
// it, issue a single-use resume token, and suspend the node until the resume
// layer or the timeout timer completes it.
type Executor struct {
	channels map[string]Channel
}

// NewExecutor builds an executor with no channels; add them with AddChannel.
func NewExecutor() *Executor {
	return &Executor{channels: make(map[string]Channel)}
}

// AddChannel registers a delivery channel under its provider name.
func (e *Executor) AddChannel(providerName string, ch Channel) *Executor {
	e.channels[providerName] = ch
	return e
}

// Register installs the executor for all HIL subtypes.
func (e *Executor) Register(r *nodes.Registry) {
	r.Register(core.NodeHIL, "", e)
}

// Execute implements nodes.Executor.
func (e *Executor) Execute(ctx context.Context, req *nodes.Request) (*nodes.Result, *core.Error) {
	providerName, ok := channelProvider[req.Node.Subtype]
	if !ok {
		return nil, nodes.NodeError(exec.KindInvalidRequest,
			fmt.Errorf("no channel mapped for HIL subtype %q", req.Node.Subtype), nil)
	}
	ch, ok := e.channels[providerName]
	if !ok {
		return nil, nodes.NodeError(exec.KindInvalidRequest,
			fmt.Errorf("no channel registered for provider %q", providerName), nil)
	}

	payload := unwrapInput(req.Input)
	text, err := renderTemplate(req.ConfigString("template"), payload)
	if err != nil {
		return nil, nodes.NodeError(exec.KindConfigType, fmt.Errorf("render HIL template: %w", err), nil)
	}

	credential := ""
	if providerName != "manual" {
		workspace := req.ConfigString("workspace")
		credential, ok = req.Secrets.Lookup(providerName, workspace)
		if !ok {
			return nil, nodes.NodeError(exec.KindAuth,
				fmt.Errorf("no credential for %s", nodes.SecretKey(providerName, workspace)), nil)
		}
	}

	correlation, err := ch.Send(ctx, Message{
		Channel: req.ConfigString("channel"),
		Text:    text,
	}, credential)
	if err != nil {
		return nil, nodes.NodeError(exec.KindNetwork, fmt.Errorf("deliver HIL message: %w", err),
			map[string]any{"channel": providerName})
	}

	now := req.Clock()
	timeout := time.Duration(req.ConfigInt("timeout_minutes", 60)) * time.Minute
	token := &exec.ResumeToken{
		Token:       core.MustNewID().String(),
		ExecutionID: req.ExecutionID.String(),
		NodeID:      req.Node.ID,
		Channel:     ch.Name(),
		IssuedAt:    now,
		ExpiresAt:   now.Add(timeout),
		Correlation: correlation,
	}

	timeoutOutput := core.Output{
		workflow.FlowKeyTimeout: payload,
		"ai_classification":     ClassTimeout,
		"user_response":         "",
	}
	return &nodes.Result{Wait: &nodes.WaitState{
		Deadline:         token.ExpiresAt,
		Token:            token,
		TimeoutOutput:    timeoutOutput,
		TimeoutErrorKind: exec.KindHILTimeout,
	}}, nil
}

// unwrapInput removes the routing sentinel: HIL specs declare no input
// schema, so upstream payloads arrive under the "input" key.
func unwrapInput(in core.Input) map[string]any {
	payload := in.AsMap()
	if inner, ok := payload["input"].(map[string]any); ok && len(payload) == 1 {
		return inner
	}
	return payload
}

// renderTemplate expands {{.key}} references over the node input.
func renderTemplate(src string, data map[string]any) (string, error) {
	if src == "" {
		return "", fmt.Errorf("empty template")
	}
	tpl, err := template.New("hil").Option("missingkey=zero").Parse(src)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// ResumeOutput builds the node output fired when a human reply arrives:
// the input payload on the classification's output key plus the
// classification metadata fields.
func ResumeOutput(classification, userResponse string, nodeInput map[string]any) core.Output {
	return core.Output{
		classification:      nodeInput,
		"ai_classification": classification,
		"user_response":     userResponse,
	}
}

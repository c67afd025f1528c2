package aiagent

import (
	"context"
	"fmt"
	"time"

	"github.com/flowforge/engine/engine/core"
	"github.com/flowforge/engine/engine/exec"
	"github.com/flowforge/engine/engine/mcp"
	"github.com/flowforge/engine/engine/memory"
	"github.com/flowforge/engine/engine/nodes"
	"github.com/flowforge/engine/engine/provider"
	"github.com/flowforge/engine/engine/workflow"
)

// ExecutorDeps are the factories the AI_AGENT node executor builds its
// per-node sub-context from. Each is swappable so tests run against stubs.
type ExecutorDeps struct {
	// NewProvider builds the model provider for the node's configuration.
	NewProvider func(cfg *core.ProviderConfig) (provider.Provider, error)
	// NewMemory builds the store for one attached MEMORY node.
	NewMemory func(node *workflow.Node) (memory.Store, error)
	// NewTool builds the tool source for one attached TOOL node.
	NewTool func(ctx context.Context, node *workflow.Node) (mcp.ToolSource, error)
	Now     func() time.Time
}

// Executor adapts the orchestrator to the scheduler's node contract.
type Executor struct {
	deps ExecutorDeps
}

// NewExecutor builds the AI_AGENT executor. Missing factories default to
// the production implementations.
func NewExecutor(deps ExecutorDeps) *Executor {
	if deps.NewProvider == nil {
		deps.NewProvider = func(cfg *core.ProviderConfig) (provider.Provider, error) {
			return provider.NewLangchain(cfg)
		}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Executor{deps: deps}
}

// Register installs the executor for all AI_AGENT subtypes.
func (e *Executor) Register(r *nodes.Registry) {
	r.Register(core.NodeAIAgent, "", e)
}

// Execute implements nodes.Executor.
func (e *Executor) Execute(ctx context.Context, req *nodes.Request) (*nodes.Result, *core.Error) {
	providerName, _ := req.Config("provider").(string)
	model, _ := req.Config("model").(string)
	apiKey, _ := req.Config("api_key").(string)
	cfg := core.NewProviderConfig(core.ProviderName(providerName), model, apiKey)
	if temp, ok := req.Config("temperature").(float64); ok {
		cfg.Params.Temperature = temp
	}

	p, err := e.deps.NewProvider(cfg)
	if err != nil {
		return nil, nodes.NodeError(exec.KindInvalidRequest,
			fmt.Errorf("build provider for node %q: %w", req.Node.ID, err), nil)
	}

	memories, tools, cerr := e.buildAttached(ctx, req)
	if cerr != nil {
		return nil, cerr
	}
	defer func() {
		for _, t := range tools {
			_ = t.Source.Close()
		}
	}()

	systemPrompt, _ := req.Config("system_prompt").(string)
	orch := New(Config{
		NodeID:       req.Node.ID,
		SystemPrompt: systemPrompt,
		MaxToolTurns: req.ConfigInt("max_tool_turns", DefaultMaxToolTurns),
	}, p, memories, tools, e.deps.Now)

	res, runErr := orch.Run(ctx, req.Input)
	out := &nodes.Result{Attached: res.Attached}
	if runErr != nil {
		return out, runErr
	}
	out.Output = res.Output
	return out, nil
}

func (e *Executor) buildAttached(ctx context.Context, req *nodes.Request) ([]AttachedMemory, []AttachedTool, *core.Error) {
	var memories []AttachedMemory
	var tools []AttachedTool
	for _, attached := range req.Attached {
		switch attached.Type {
		case core.NodeMemory:
			if e.deps.NewMemory == nil {
				return nil, nil, nodes.NodeError(exec.KindInvalidRequest,
					fmt.Errorf("node %q attaches memory %q but no memory factory is wired", req.Node.ID, attached.ID), nil)
			}
			store, err := e.deps.NewMemory(attached)
			if err != nil {
				return nil, nil, nodes.NodeError(exec.KindInvalidRequest,
					fmt.Errorf("build memory %q: %w", attached.ID, err), nil)
			}
			memories = append(memories, AttachedMemory{
				NodeID:  attached.ID,
				Subtype: attached.Subtype,
				Store:   store,
			})
		case core.NodeTool:
			if e.deps.NewTool == nil {
				return nil, nil, nodes.NodeError(exec.KindInvalidRequest,
					fmt.Errorf("node %q attaches tool %q but no tool factory is wired", req.Node.ID, attached.ID), nil)
			}
			source, err := e.deps.NewTool(ctx, attached)
			if err != nil {
				return nil, nil, nodes.NodeError(exec.KindInvalidRequest,
					fmt.Errorf("build tool %q: %w", attached.ID, err), nil)
			}
			tools = append(tools, AttachedTool{NodeID: attached.ID, Source: source})
		default:
			return nil, nil, nodes.NodeError(exec.KindInvalidRequest,
				fmt.Errorf("node %q attaches %q of non-attachable type %s", req.Node.ID, attached.ID, attached.Type), nil)
		}
	}
	return memories, tools, nil
}

// NewDefaultToolFactory builds MCP clients from a TOOL node's
// configurations.
func NewDefaultToolFactory() func(ctx context.Context, node *workflow.Node) (mcp.ToolSource, error) {
	return func(ctx context.Context, node *workflow.Node) (mcp.ToolSource, error) {
		cfg := mcp.ClientConfig{
			Transport: stringConfig(node, "transport"),
			Command:   stringConfig(node, "command"),
			URL:       stringConfig(node, "url"),
		}
		return mcp.NewClient(ctx, cfg)
	}
}

func stringConfig(node *workflow.Node, key string) string {
	s, _ := node.Configurations[key].(string)
	return s
}

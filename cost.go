package groupchat

import (
	"context"
	"sync"

	"github.com/darkostanimirovic/groupchat/providers"
)

// ModelCostConfig defines the pricing for a specific model
type ModelCostConfig struct {
	InputCostPer1MTokens  float64 // Cost per 1M input tokens in USD
	OutputCostPer1MTokens float64 // Cost per 1M output tokens in USD
}

// CostInfo is an estimated USD cost.
type CostInfo struct {
	PromptCost     float64
	CompletionCost float64
	TotalCost      float64
}

func (c *CostInfo) add(other CostInfo) {
	c.PromptCost += other.PromptCost
	c.CompletionCost += other.CompletionCost
	c.TotalCost += other.TotalCost
}

// DefaultModelCosts holds list prices for the models the backends default to.
// Azure deployments are billed like their OpenAI counterparts.
var DefaultModelCosts = map[string]ModelCostConfig{
	"gpt-4":         {InputCostPer1MTokens: 30.00, OutputCostPer1MTokens: 60.00},
	"gpt-4-32k":     {InputCostPer1MTokens: 60.00, OutputCostPer1MTokens: 120.00},
	"gpt-4-turbo":   {InputCostPer1MTokens: 10.00, OutputCostPer1MTokens: 30.00},
	"gpt-4o":        {InputCostPer1MTokens: 2.50, OutputCostPer1MTokens: 10.00},
	"gpt-4o-mini":   {InputCostPer1MTokens: 0.150, OutputCostPer1MTokens: 0.600},
	"gpt-3.5-turbo": {InputCostPer1MTokens: 0.50, OutputCostPer1MTokens: 1.50},
	"gpt-35-turbo":  {InputCostPer1MTokens: 0.50, OutputCostPer1MTokens: 1.50},
}

var (
	customCosts = map[string]ModelCostConfig{}
	costsMutex  sync.RWMutex
)

// RegisterModelCost sets the pricing for model. It takes precedence over
// DefaultModelCosts.
func RegisterModelCost(model string, config ModelCostConfig) {
	costsMutex.Lock()
	defer costsMutex.Unlock()
	customCosts[model] = config
}

func getModelCost(model string) (ModelCostConfig, bool) {
	costsMutex.RLock()
	cost, ok := customCosts[model]
	costsMutex.RUnlock()
	if ok {
		return cost, true
	}
	cost, ok = DefaultModelCosts[model]
	return cost, ok
}

// CalculateCost estimates the cost of a call. It returns nil when no tokens
// were used or the model has no known pricing. Local models are free and
// therefore unknown.
func CalculateCost(model string, promptTokens, completionTokens int) *CostInfo {
	if promptTokens == 0 && completionTokens == 0 {
		return nil
	}
	cfg, ok := getModelCost(model)
	if !ok {
		return nil
	}
	prompt := float64(promptTokens) * cfg.InputCostPer1MTokens / 1_000_000.0
	completion := float64(completionTokens) * cfg.OutputCostPer1MTokens / 1_000_000.0
	return &CostInfo{
		PromptCost:     prompt,
		CompletionCost: completion,
		TotalCost:      prompt + completion,
	}
}

// usageMeter sums token usage and cost over one run.
type usageMeter struct {
	mu      sync.Mutex
	usage   providers.TokenUsage
	cost    *CostInfo
	byAgent map[string]providers.TokenUsage
}

func newUsageMeter() *usageMeter {
	return &usageMeter{byAgent: map[string]providers.TokenUsage{}}
}

func (m *usageMeter) add(agent, model string, usage providers.TokenUsage) *CostInfo {
	cost := CalculateCost(model, usage.PromptTokens, usage.CompletionTokens)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage.Add(usage)
	per := m.byAgent[agent]
	per.Add(usage)
	m.byAgent[agent] = per
	if cost != nil {
		if m.cost == nil {
			m.cost = &CostInfo{}
		}
		m.cost.add(*cost)
	}
	return cost
}

func (m *usageMeter) snapshot() (providers.TokenUsage, map[string]providers.TokenUsage, *CostInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byAgent := make(map[string]providers.TokenUsage, len(m.byAgent))
	for k, v := range m.byAgent {
		byAgent[k] = v
	}
	var cost *CostInfo
	if m.cost != nil {
		c := *m.cost
		cost = &c
	}
	return m.usage, byAgent, cost
}

type usageMeterKey struct{}

func withUsageMeter(ctx context.Context, m *usageMeter) context.Context {
	return context.WithValue(ctx, usageMeterKey{}, m)
}

// recordUsage adds usage to the run's meter, if any, and returns the call's cost.
func recordUsage(ctx context.Context, agent, model string, usage providers.TokenUsage) *CostInfo {
	if m, ok := ctx.Value(usageMeterKey{}).(*usageMeter); ok {
		return m.add(agent, model, usage)
	}
	return CalculateCost(model, usage.PromptTokens, usage.CompletionTokens)
}

package provider

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Model describes one backend model and its pricing per million tokens.
type Model struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Provider        string   `json:"provider"`
	ContextLength   int      `json:"contextLength"`
	PromptPrice     float64  `json:"promptPrice"`
	CompletionPrice float64  `json:"completionPrice"`
	Capabilities    []string `json:"capabilities"`
}

var models = []*Model{
	{
		ID: "anthropic/claude-3.5-sonnet", Name: "Claude 3.5 Sonnet", Provider: "Anthropic",
		ContextLength: 200000, PromptPrice: 3, CompletionPrice: 15,
		Capabilities: []string{"text", "vision", "code"},
	},
	{
		ID: "openai/gpt-4o", Name: "GPT-4o", Provider: "OpenAI",
		ContextLength: 128000, PromptPrice: 5, CompletionPrice: 15,
		Capabilities: []string{"text", "vision", "code"},
	},
	{
		ID: "openai/gpt-4o-mini", Name: "GPT-4o Mini", Provider: "OpenAI",
		ContextLength: 128000, PromptPrice: 0.15, CompletionPrice: 0.6,
		Capabilities: []string{"text", "vision", "code"},
	},
	{
		ID: "google/gemini-pro-1.5", Name: "Gemini Pro 1.5", Provider: "Google",
		ContextLength: 1000000, PromptPrice: 1.25, CompletionPrice: 5,
		Capabilities: []string{"text", "vision", "code"},
	},
	{
		ID: "meta-llama/llama-3.1-405b-instruct", Name: "Llama 3.1 405B", Provider: "Meta",
		ContextLength: 32000, PromptPrice: 2.7, CompletionPrice: 2.7,
		Capabilities: []string{"text", "code"},
	},
	{
		ID: "mistralai/mistral-large", Name: "Mistral Large", Provider: "Mistral",
		ContextLength: 32000, PromptPrice: 2, CompletionPrice: 6,
		Capabilities: []string{"text", "code"},
	},
}

// Models returns the model catalog.
func Models() []*Model {
	return models
}

// GetModel returns a model by id.
func GetModel(id string) (*Model, error) {
	for _, model := range models {
		if model.ID == id {
			return model, nil
		}
	}
	return nil, fmt.Errorf("unknown model (%s)", id)
}

// ModelsByCapability filters the catalog.
func ModelsByCapability(capability string) []*Model {
	var matched []*Model
	for _, model := range models {
		for _, c := range model.Capabilities {
			if c == capability {
				matched = append(matched, model)
				break
			}
		}
	}
	return matched
}

var thousand = decimal.NewFromInt(1000)

// CalculateCost prices a request from its usage.
func (m *Model) CalculateCost(promptTokens, completionTokens int) decimal.Decimal {
	promptCost := decimal.NewFromInt(int64(promptTokens)).Div(thousand).
		Mul(decimal.NewFromFloat(m.PromptPrice).Div(thousand))
	completionCost := decimal.NewFromInt(int64(completionTokens)).Div(thousand).
		Mul(decimal.NewFromFloat(m.CompletionPrice).Div(thousand))
	return promptCost.Add(completionCost)
}

// EstimateTokens gives a rough token count: one token per four characters.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// Package pricing implements the pricing optimizer agent: price
// recommendations produced by a generative model, cached per product, with
// a rule-based fallback when the model is unavailable.
package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/owulveryck/a2ahub/internal/a2a"
	"github.com/owulveryck/a2ahub/internal/llm"
	"github.com/owulveryck/a2ahub/internal/observability"
	"github.com/owulveryck/a2ahub/internal/store"
	"github.com/owulveryck/a2ahub/internal/subagent"
)

const (
	AgentID         = "pricing-optimizer-agent"
	DefaultCacheTTL = 15 * time.Minute
	DefaultStrategy = "dynamic"

	fallbackScore = 0.5
)

var errNoGenerator = errors.New("no text generator configured")

// Capabilities announced by the pricing agent at registration.
var Capabilities = []string{"pricing_optimization"}

// strategyAdjustments is the relative price change applied by the fallback.
var strategyAdjustments = map[string]float64{
	"competitive":  0.02,
	"demand_based": 0.0,
	"value_based":  0.05,
	"dynamic":      0.0,
	"promotional":  -0.10,
}

// Recommendation is the cached pricing advice for one product.
type Recommendation struct {
	ProductID            string   `json:"product_id"`
	CurrentPrice         *float64 `json:"current_price,omitempty"`
	RecommendedPrice     *float64 `json:"recommended_price,omitempty"`
	AdjustmentPercentage float64  `json:"adjustment_percentage"`
	Reasoning            string   `json:"reasoning"`
	Strategy             string   `json:"strategy"`
	Source               string   `json:"source"`
	GeneratedAt          string   `json:"generated_at"`
}

// Agent answers pricing requests.
type Agent struct {
	gen    llm.TextGenerator
	cache  store.Store
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

func New(gen llm.TextGenerator, cache store.Store, ttl time.Duration, tel *observability.Telemetry) *Agent {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Agent{
		gen:    gen,
		cache:  cache,
		ttl:    ttl,
		logger: tel.Logger.With("component", "pricing"),
		now:    time.Now,
	}
}

// RegisterSkills binds the pricing actions to agent.
func (a *Agent) RegisterSkills(agent *subagent.SubAgent) error {
	if err := agent.AddSkill("optimize_product_pricing", "Recommends product prices for a strategy", a.OptimizeProductPricing); err != nil {
		return err
	}
	if err := agent.AddSkill("optimize_inventory_pricing", "Recommends price changes from inventory levels", a.OptimizeInventoryPricing); err != nil {
		return err
	}
	if err := agent.AddSkill("analyze_price_elasticity", "Estimates price elasticity from sales history", a.AnalyzePriceElasticity); err != nil {
		return err
	}
	if err := agent.AddSkill("generate_pricing_strategy", "Drafts a pricing strategy and implementation plan", a.GeneratePricingStrategy); err != nil {
		return err
	}
	return agent.AddSkill("analyze_competitor_pricing", "Compares product prices with competitors", a.AnalyzeCompetitorPricing)
}

// cacheKey scopes recommendations by strategy: the same product priced
// under two strategies gets two entries.
func cacheKey(strategy, productID string) string {
	return "pricing:" + strategy + ":" + productID
}

// lookup finds key at the top of the payload, then in "parameters", then in
// "parameters.workflow_parameters", so the skill accepts direct requests as
// well as workflow steps.
func lookup(p a2a.Payload, key string) (any, bool) {
	if v, ok := p[key]; ok {
		return v, true
	}
	params, _ := p["parameters"].(map[string]any)
	if v, ok := params[key]; ok {
		return v, true
	}
	wp, _ := params["workflow_parameters"].(map[string]any)
	v, ok := wp[key]
	return v, ok
}

func lookupString(p a2a.Payload, key, def string) string {
	if v, ok := lookup(p, key); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return def
}

func lookupMap(p a2a.Payload, key string) map[string]any {
	v, _ := lookup(p, key)
	m, _ := v.(map[string]any)
	return m
}

// lookupStrings returns the non-empty strings of the list stored under key.
func lookupStrings(p a2a.Payload, key string) []string {
	var out []string
	v, _ := lookup(p, key)
	switch list := v.(type) {
	case []any:
		for _, item := range list {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
	case []string:
		for _, s := range list {
			if s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// productIDs accepts "products" as a list of ids, or a single "product_id".
func productIDs(p a2a.Payload) []string {
	ids := lookupStrings(p, "products")
	if len(ids) == 0 {
		if id := lookupString(p, "product_id", ""); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

// OptimizeProductPricing answers optimize_product_pricing. Cached
// recommendations are reused; the rest come from one model call, or from
// the fallback rules when the model fails or its output cannot be used.
func (a *Agent) OptimizeProductPricing(ctx context.Context, payload a2a.Payload) (a2a.Payload, error) {
	ids := productIDs(payload)
	strategy := lookupString(payload, "strategy", DefaultStrategy)
	if _, ok := strategyAdjustments[strategy]; !ok {
		strategy = DefaultStrategy
	}
	constraints := lookupMap(payload, "constraints")
	prices := lookupMap(payload, "prices")

	recommendations := make(map[string]Recommendation, len(ids))
	var cached, missing []string
	for _, id := range ids {
		var rec Recommendation
		err := store.GetJSON(ctx, a.cache, cacheKey(strategy, id), &rec)
		switch {
		case err == nil:
			rec.Source = "cache"
			recommendations[id] = rec
			cached = append(cached, id)
		case errors.Is(err, store.ErrNotFound):
			missing = append(missing, id)
		default:
			a.logger.WarnContext(ctx, "Pricing cache read failed", "product_id", id, "error", err)
			missing = append(missing, id)
		}
	}

	summary := "No products to price"
	score := 0.0
	if len(missing) > 0 {
		generated, genSummary, genScore, err := a.generate(ctx, missing, strategy, constraints, prices)
		if err != nil {
			a.logger.WarnContext(ctx, "Using fallback pricing", "products", missing, "error", err)
			generated = a.fallback(missing, strategy, prices)
			genSummary = fmt.Sprintf("Fallback %s pricing", strategy)
			genScore = fallbackScore
		} else {
			for id, rec := range generated {
				if err := store.SetJSON(ctx, a.cache, cacheKey(strategy, id), rec, a.ttl); err != nil {
					a.logger.WarnContext(ctx, "Pricing cache write failed", "product_id", id, "error", err)
				}
			}
		}
		for id, rec := range generated {
			recommendations[id] = rec
		}
		summary, score = genSummary, genScore
	} else if len(cached) > 0 {
		summary = "Served from cache"
		score = 1.0
	}

	a.logger.InfoContext(ctx, "Pricing optimized",
		"strategy", strategy,
		"products", len(ids),
		"cached", len(cached),
	)
	return a2a.Payload{
		"success": true,
		"pricing_results": map[string]any{
			"product_recommendations": recommendations,
			"strategy_summary":        summary,
			"optimization_score":      score,
		},
		"strategy_used":      strategy,
		"cached_products":    cached,
		"optimization_score": score,
	}, nil
}

func (a *Agent) pricingPrompt(ids []string, strategy string, constraints, prices map[string]any) string {
	var b strings.Builder
	b.WriteString("You are an e-commerce pricing specialist applying a ")
	b.WriteString(strategy)
	b.WriteString(" pricing strategy.\n")
	b.WriteString("Recommend a price for each product and explain the adjustment.\n\n")
	fmt.Fprintf(&b, "Current date: %s\n", a.now().Format("2006-01-02"))
	fmt.Fprintf(&b, "Products: %s\n", strings.Join(ids, ", "))
	if len(prices) > 0 {
		data, _ := json.Marshal(prices)
		fmt.Fprintf(&b, "Current prices: %s\n", data)
	}
	if len(constraints) > 0 {
		data, _ := json.Marshal(constraints)
		fmt.Fprintf(&b, "Constraints: %s\n", data)
	}
	b.WriteString(`
Return only JSON:
{
  "product_recommendations": {
    "<product_id>": {
      "current_price": float,
      "recommended_price": float,
      "adjustment_percentage": float,
      "reasoning": "string"
    }
  },
  "strategy_summary": "string",
  "optimization_score": float
}`)
	return b.String()
}

// askJSON sends prompt to the model and parses the JSON object of its reply.
func (a *Agent) askJSON(ctx context.Context, prompt string) (map[string]any, error) {
	if a.gen == nil {
		return nil, errNoGenerator
	}
	text, err := a.gen.GenerateText(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return llm.ExtractJSON(text)
}

// generate asks the model for recommendations. It fails unless every
// requested product gets a recommended price.
func (a *Agent) generate(ctx context.Context, ids []string, strategy string, constraints, prices map[string]any) (map[string]Recommendation, string, float64, error) {
	parsed, err := a.askJSON(ctx, a.pricingPrompt(ids, strategy, constraints, prices))
	if err != nil {
		return nil, "", 0, err
	}
	raw, _ := parsed["product_recommendations"].(map[string]any)

	generatedAt := a.now().UTC().Format(time.RFC3339)
	recs := make(map[string]Recommendation, len(ids))
	for _, id := range ids {
		entry, _ := raw[id].(map[string]any)
		recommended, ok := toFloat(entry["recommended_price"])
		if !ok {
			return nil, "", 0, fmt.Errorf("no recommended price for %s", id)
		}
		rec := Recommendation{
			ProductID:        id,
			RecommendedPrice: &recommended,
			Strategy:         strategy,
			Source:           "model",
			GeneratedAt:      generatedAt,
		}
		if current, ok := toFloat(entry["current_price"]); ok {
			rec.CurrentPrice = &current
		}
		rec.AdjustmentPercentage, _ = toFloat(entry["adjustment_percentage"])
		rec.Reasoning, _ = entry["reasoning"].(string)
		recs[id] = rec
	}

	summary, _ := parsed["strategy_summary"].(string)
	score, ok := toFloat(parsed["optimization_score"])
	if !ok {
		score = fallbackScore
	}
	return recs, summary, score, nil
}

// fallback applies the fixed strategy adjustment to the known current
// prices. Products without a price get the adjustment only.
func (a *Agent) fallback(ids []string, strategy string, prices map[string]any) map[string]Recommendation {
	adjustment := strategyAdjustments[strategy]
	generatedAt := a.now().UTC().Format(time.RFC3339)
	recs := make(map[string]Recommendation, len(ids))
	for _, id := range ids {
		rec := Recommendation{
			ProductID:            id,
			AdjustmentPercentage: adjustment * 100,
			Reasoning:            fmt.Sprintf("Standard %s adjustment, model unavailable", strategy),
			Strategy:             strategy,
			Source:               "fallback",
			GeneratedAt:          generatedAt,
		}
		if current, ok := toFloat(prices[id]); ok {
			recommended := roundCents(current * (1 + adjustment))
			rec.CurrentPrice = &current
			rec.RecommendedPrice = &recommended
		}
		recs[id] = rec
	}
	return recs
}

// OptimizeInventoryPricing answers optimize_inventory_pricing from
// inventory levels and a demand forecast. It is not cached.
func (a *Agent) OptimizeInventoryPricing(ctx context.Context, payload a2a.Payload) (a2a.Payload, error) {
	inventory := lookupMap(payload, "inventory_data")
	forecast := lookupMap(payload, "demand_forecast")
	objectives := []any{"maximize_revenue"}
	if v, ok := lookup(payload, "objectives"); ok {
		if list, ok := v.([]any); ok && len(list) > 0 {
			objectives = list
		}
	}

	inventoryJSON, _ := json.Marshal(inventory)
	forecastJSON, _ := json.Marshal(forecast)
	objectivesJSON, _ := json.Marshal(objectives)
	prompt := fmt.Sprintf(`You are an inventory pricing analyst.
Inventory: %s
Demand forecast: %s
Objectives: %s

Return only JSON:
{"recommendations": {"<product_id>": {"action": "markdown|hold|increase", "adjustment_percentage": float, "reasoning": "string"}}, "revenue_impact": float}`,
		inventoryJSON, forecastJSON, objectivesJSON)

	result := map[string]any{
		"recommendations": map[string]any{},
		"revenue_impact":  0.0,
		"source":          "fallback",
	}
	if parsed, err := a.askJSON(ctx, prompt); err == nil {
		result = parsed
		result["source"] = "model"
	} else {
		a.logger.WarnContext(ctx, "Using fallback inventory pricing", "error", err)
	}

	impact, _ := toFloat(result["revenue_impact"])
	return a2a.Payload{
		"success":                 true,
		"inventory_pricing":       result,
		"expected_revenue_impact": impact,
	}, nil
}

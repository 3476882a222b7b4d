package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/owulveryck/a2ahub/internal/a2a"
)

const defaultMarketPosition = "mid_market"

// AnalyzePriceElasticity answers analyze_price_elasticity from "products"
// and "historical_data".
func (a *Agent) AnalyzePriceElasticity(ctx context.Context, payload a2a.Payload) (a2a.Payload, error) {
	ids := lookupStrings(payload, "products")
	history := lookupMap(payload, "historical_data")
	historyJSON, _ := json.Marshal(history)

	prompt := fmt.Sprintf(`You are a pricing economist specializing in price elasticity analysis.
Analyze the historical sales and pricing data to determine price elasticity and give actionable recommendations.

Products: %s
Historical data: %s

Return only JSON:
{
  "elasticity_coefficients": {"<product_id>": float},
  "price_sensitivity_categories": {"elastic": [ids], "inelastic": [ids], "unit_elastic": [ids]},
  "recommendations": [{"product_id": "string", "recommendation": "increase|decrease|maintain", "suggested_change": float, "expected_demand_impact": "string"}],
  "confidence_level": float
}`, strings.Join(ids, ", "), historyJSON)

	analysis, err := a.askJSON(ctx, prompt)
	if err != nil {
		a.logger.WarnContext(ctx, "Using fallback elasticity analysis", "products", len(ids), "error", err)
		analysis = elasticityFallback(ids)
	} else {
		analysis["source"] = "model"
	}

	recommendations, ok := analysis["recommendations"]
	if !ok {
		recommendations = []any{}
	}
	return a2a.Payload{
		"success":             true,
		"elasticity_analysis": analysis,
		"recommendations":     recommendations,
	}, nil
}

// elasticityFallback assumes a mildly elastic demand and recommends no change.
func elasticityFallback(ids []string) map[string]any {
	coefficients := make(map[string]any, len(ids))
	recommendations := make([]any, 0, len(ids))
	for _, id := range ids {
		coefficients[id] = -0.8
		recommendations = append(recommendations, map[string]any{
			"product_id":             id,
			"recommendation":         "maintain",
			"suggested_change":       0.0,
			"expected_demand_impact": "No significant change expected",
		})
	}
	half := len(ids) / 2
	return map[string]any{
		"elasticity_coefficients": coefficients,
		"price_sensitivity_categories": map[string]any{
			"elastic":      append([]string{}, ids[:half]...),
			"inelastic":    append([]string{}, ids[half:]...),
			"unit_elastic": []string{},
		},
		"recommendations":  recommendations,
		"confidence_level": 0.6,
		"source":           "fallback",
	}
}

// GeneratePricingStrategy answers generate_pricing_strategy from
// "business_objectives", "market_position" and "competitive_landscape".
func (a *Agent) GeneratePricingStrategy(ctx context.Context, payload a2a.Payload) (a2a.Payload, error) {
	objectives := lookupStrings(payload, "business_objectives")
	position := lookupString(payload, "market_position", defaultMarketPosition)
	landscape := lookupMap(payload, "competitive_landscape")
	landscapeJSON, _ := json.Marshal(landscape)

	prompt := fmt.Sprintf(`You are a senior pricing strategist. Create a pricing strategy that aligns with the business objectives and market position.

Business objectives: %s
Market position: %s
Competitive landscape: %s

Return only JSON:
{
  "strategy_name": "string",
  "core_principles": ["string"],
  "pricing_models": {"primary": "competitive|value_based|cost_plus|dynamic", "secondary": "string"},
  "implementation_plan": [{"phase": "string", "timeline": "string", "actions": ["string"], "success_metrics": ["string"]}],
  "expected_outcomes": {"revenue_impact": "string", "margin_improvement": "string", "market_share_impact": "string"},
  "risk_mitigation": ["string"]
}`, strings.Join(objectives, ", "), position, landscapeJSON)

	strategy, err := a.askJSON(ctx, prompt)
	if err != nil {
		a.logger.WarnContext(ctx, "Using fallback pricing strategy", "market_position", position, "error", err)
		strategy = strategyFallback(position)
	} else {
		strategy["source"] = "model"
	}

	plan, ok := strategy["implementation_plan"]
	if !ok {
		plan = []any{}
	}
	return a2a.Payload{
		"success":             true,
		"pricing_strategy":    strategy,
		"implementation_plan": plan,
	}, nil
}

func strategyFallback(position string) map[string]any {
	return map[string]any{
		"strategy_name":   titleCase(position) + " Market Pricing Strategy",
		"core_principles": []any{"Customer value alignment", "Competitive positioning", "Profit optimization"},
		"pricing_models":  map[string]any{"primary": "competitive", "secondary": "value_based"},
		"implementation_plan": []any{
			map[string]any{
				"phase":           "Analysis and Setup",
				"timeline":        "Weeks 1-2",
				"actions":         []any{"Conduct market research", "Analyze competitor pricing", "Set up pricing tools"},
				"success_metrics": []any{"Research completion", "Tool deployment"},
			},
			map[string]any{
				"phase":           "Strategy Implementation",
				"timeline":        "Weeks 3-6",
				"actions":         []any{"Deploy new pricing", "Monitor market response", "Adjust based on feedback"},
				"success_metrics": []any{"Revenue growth", "Market share maintenance"},
			},
		},
		"expected_outcomes": map[string]any{
			"revenue_impact":      "3-7% increase",
			"margin_improvement":  "2-5% improvement",
			"market_share_impact": "Maintained or slight increase",
		},
		"risk_mitigation": []any{"Gradual price adjustments", "Customer communication strategy", "Competitive response monitoring"},
		"source":          "fallback",
	}
}

// titleCase upper-cases the first letter of every word, where any
// non-letter separates words: "mid_market" becomes "Mid_Market".
func titleCase(s string) string {
	out := []rune(s)
	start := true
	for i, r := range out {
		if unicode.IsLetter(r) {
			if start {
				out[i] = unicode.ToUpper(r)
			} else {
				out[i] = unicode.ToLower(r)
			}
			start = false
		} else {
			start = true
		}
	}
	return string(out)
}

// AnalyzeCompetitorPricing answers analyze_competitor_pricing from
// "products" and "competitors".
func (a *Agent) AnalyzeCompetitorPricing(ctx context.Context, payload a2a.Payload) (a2a.Payload, error) {
	ids := lookupStrings(payload, "products")
	competitors := lookupStrings(payload, "competitors")
	prices := lookupMap(payload, "prices")
	pricesJSON, _ := json.Marshal(prices)

	prompt := fmt.Sprintf(`You are a competitive pricing analyst for an e-commerce retailer.
Compare our products with the listed competitors.

Products: %s
Competitors: %s
Our prices: %s

Return only JSON:
{
  "competitive_positioning": {"<product_id>": {"market_position": "string", "price_rank": int, "price_premium": float, "competitive_advantage": "string"}},
  "price_gaps": {"<product_id>": {"gap_to_leader": float, "gap_to_average": float, "gap_to_budget": float}},
  "opportunities": ["string"],
  "threats": ["string"]
}`, strings.Join(ids, ", "), strings.Join(competitors, ", "), pricesJSON)

	analysis, err := a.askJSON(ctx, prompt)
	if err != nil {
		a.logger.WarnContext(ctx, "Using fallback competitor analysis", "products", len(ids), "error", err)
		analysis = competitorFallback(ids)
	} else {
		analysis["source"] = "model"
	}

	opportunities, ok := analysis["opportunities"]
	if !ok {
		opportunities = []any{}
	}
	return a2a.Payload{
		"success":               true,
		"competitor_analysis":   analysis,
		"pricing_opportunities": opportunities,
	}, nil
}

// competitorFallback places every product mid-market, slightly above the
// market average.
func competitorFallback(ids []string) map[string]any {
	positioning := make(map[string]any, len(ids))
	gaps := make(map[string]any, len(ids))
	for _, id := range ids {
		positioning[id] = map[string]any{
			"market_position":       defaultMarketPosition,
			"price_rank":            3,
			"price_premium":         5.0,
			"competitive_advantage": "product_quality",
		}
		gaps[id] = map[string]any{
			"gap_to_leader":  -15.0,
			"gap_to_average": 5.0,
			"gap_to_budget":  25.0,
		}
	}
	return map[string]any{
		"competitive_positioning": positioning,
		"price_gaps":              gaps,
		"opportunities": []any{
			"Premium positioning opportunity for high-quality products",
			"Value pricing advantage in competitive segments",
			"Bundle pricing to differentiate from competitors",
		},
		"threats": []any{
			"Price war risk in commoditized categories",
			"New entrant with aggressive pricing",
			"Market leader's promotional activities",
		},
		"source": "fallback",
	}
}

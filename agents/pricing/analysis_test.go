package pricing

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/owulveryck/a2ahub/internal/a2a"
	"github.com/owulveryck/a2ahub/internal/llm"
)

func TestAnalyzePriceElasticity(t *testing.T) {
	gen := llm.NewMockGenerator(`{"elasticity_coefficients": {"OLJCESPC7Z": -1.4}, "recommendations": [{"product_id": "OLJCESPC7Z", "recommendation": "decrease"}], "confidence_level": 0.9}`)
	a, _ := newTestAgent(gen)

	reply, err := a.AnalyzePriceElasticity(context.Background(), a2a.Payload{
		"products":        []any{"OLJCESPC7Z"},
		"historical_data": map[string]any{"OLJCESPC7Z": []any{map[string]any{"price": 19.99, "units": 120}}},
	})
	if err != nil {
		t.Fatalf("AnalyzePriceElasticity failed: %v", err)
	}
	analysis := reply["elasticity_analysis"].(map[string]any)
	if analysis["source"] != "model" || analysis["confidence_level"] != 0.9 {
		t.Errorf("Unexpected analysis %v", analysis)
	}
	if recs, _ := reply["recommendations"].([]any); len(recs) != 1 {
		t.Errorf("Expected 1 recommendation, got %v", reply["recommendations"])
	}
	if !strings.Contains(gen.LastPrompt(), `"units":120`) {
		t.Errorf("Prompt misses the history: %s", gen.LastPrompt())
	}
}

func TestAnalyzePriceElasticityFallback(t *testing.T) {
	a, _ := newTestAgent(llm.NewFailingGenerator(errors.New("offline")))

	reply, err := a.AnalyzePriceElasticity(context.Background(), a2a.Payload{
		"products": []any{"OLJCESPC7Z", "66VCHSJNUP", "1YMWWN1N4O"},
	})
	if err != nil || reply["success"] != true {
		t.Fatalf("Unexpected result %v, %v", reply, err)
	}
	analysis := reply["elasticity_analysis"].(map[string]any)
	if analysis["source"] != "fallback" || analysis["confidence_level"] != 0.6 {
		t.Errorf("Unexpected fallback %v", analysis)
	}
	if c := analysis["elasticity_coefficients"].(map[string]any); c["66VCHSJNUP"] != -0.8 {
		t.Errorf("Unexpected coefficients %v", c)
	}
	categories := analysis["price_sensitivity_categories"].(map[string]any)
	if elastic := categories["elastic"].([]string); len(elastic) != 1 || elastic[0] != "OLJCESPC7Z" {
		t.Errorf("Unexpected elastic products %v", elastic)
	}
	if inelastic := categories["inelastic"].([]string); len(inelastic) != 2 {
		t.Errorf("Unexpected inelastic products %v", inelastic)
	}
	if recs := reply["recommendations"].([]any); len(recs) != 3 {
		t.Errorf("Expected one recommendation per product, got %d", len(recs))
	}
}

func TestGeneratePricingStrategy(t *testing.T) {
	gen := llm.NewMockGenerator("```json\n" + `{"strategy_name": "Premium Growth", "implementation_plan": [{"phase": "Pilot"}]}` + "\n```")
	a, _ := newTestAgent(gen)

	reply, err := a.GeneratePricingStrategy(context.Background(), a2a.Payload{
		"business_objectives": []any{"grow_margin"},
		"market_position":     "premium",
	})
	if err != nil {
		t.Fatalf("GeneratePricingStrategy failed: %v", err)
	}
	if s := reply["pricing_strategy"].(map[string]any); s["strategy_name"] != "Premium Growth" || s["source"] != "model" {
		t.Errorf("Unexpected strategy %v", s)
	}
	if plan := reply["implementation_plan"].([]any); len(plan) != 1 {
		t.Errorf("Unexpected plan %v", plan)
	}
	if !strings.Contains(gen.LastPrompt(), "grow_margin") || !strings.Contains(gen.LastPrompt(), "premium") {
		t.Errorf("Prompt misses the request: %s", gen.LastPrompt())
	}
}

func TestGeneratePricingStrategyFallback(t *testing.T) {
	a, _ := newTestAgent(nil)

	reply, err := a.GeneratePricingStrategy(context.Background(), a2a.Payload{})
	if err != nil {
		t.Fatalf("GeneratePricingStrategy failed: %v", err)
	}
	s := reply["pricing_strategy"].(map[string]any)
	if s["strategy_name"] != "Mid_Market Market Pricing Strategy" || s["source"] != "fallback" {
		t.Errorf("Unexpected fallback strategy %v", s["strategy_name"])
	}
	if plan := reply["implementation_plan"].([]any); len(plan) != 2 {
		t.Errorf("Expected a two-phase plan, got %d phases", len(plan))
	}
}

func TestAnalyzeCompetitorPricing(t *testing.T) {
	gen := llm.NewMockGenerator(`{"competitive_positioning": {}, "opportunities": ["bundle accessories"], "threats": []}`)
	a, _ := newTestAgent(gen)

	reply, err := a.AnalyzeCompetitorPricing(context.Background(), a2a.Payload{
		"products":    []any{"OLJCESPC7Z"},
		"competitors": []any{"shop-a", "shop-b"},
	})
	if err != nil {
		t.Fatalf("AnalyzeCompetitorPricing failed: %v", err)
	}
	if opps := reply["pricing_opportunities"].([]any); len(opps) != 1 || opps[0] != "bundle accessories" {
		t.Errorf("Unexpected opportunities %v", opps)
	}
	if !strings.Contains(gen.LastPrompt(), "shop-a, shop-b") {
		t.Errorf("Prompt misses the competitors: %s", gen.LastPrompt())
	}

	a, _ = newTestAgent(llm.NewMockGenerator("no idea"))
	reply, _ = a.AnalyzeCompetitorPricing(context.Background(), a2a.Payload{"products": []any{"OLJCESPC7Z"}})
	analysis := reply["competitor_analysis"].(map[string]any)
	if analysis["source"] != "fallback" {
		t.Fatalf("Expected fallback analysis, got %v", analysis)
	}
	gap := analysis["price_gaps"].(map[string]any)["OLJCESPC7Z"].(map[string]any)
	if gap["gap_to_leader"] != -15.0 {
		t.Errorf("Unexpected price gap %v", gap)
	}
	if opps := reply["pricing_opportunities"].([]any); len(opps) != 3 {
		t.Errorf("Expected 3 fallback opportunities, got %d", len(opps))
	}
}

func TestTitleCase(t *testing.T) {
	for in, want := range map[string]string{
		"mid_market": "Mid_Market",
		"premium":    "Premium",
		"BUDGET":     "Budget",
		"":           "",
	} {
		if got := titleCase(in); got != want {
			t.Errorf("titleCase(%q) = %q, want %q", in, got, want)
		}
	}
}

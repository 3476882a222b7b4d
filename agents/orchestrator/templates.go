package orchestrator

import (
	"maps"
	"sort"
	"time"

	"github.com/owulveryck/a2ahub/internal/agenthub"
)

// Agent ids the templates address.
const (
	ShoppingAgent       = "gemini-shopping-agent"
	PricingAgent        = "pricing-optimizer-agent"
	RecommendationAgent = "recommendation-agent"
	JourneyAgent        = "journey-orchestrator-agent"
	SecurityAgent       = "security-guardian-agent"
	SupplyChainAgent    = "supply-chain-agent"
	PaymentAgent        = "payment-processor-agent"
	CommunicationAgent  = "communication-agent"
	AnalyticsAgent      = "analytics-agent"
	SupportAgent        = "support-agent"
	KnowledgeAgent      = "knowledge-agent"
)

// TemplateInfo summarizes a template for listings.
type TemplateInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Steps       int    `json:"steps"`
}

func step(name, agent, action string) agenthub.StepDefinition {
	return agenthub.StepDefinition{
		Name:       name,
		Agent:      agent,
		Action:     action,
		Parameters: map[string]any{},
	}
}

// DefaultTemplates returns a fresh copy of the built-in workflow templates
// keyed by workflow type.
func DefaultTemplates() map[string]agenthub.WorkflowDefinition {
	return map[string]agenthub.WorkflowDefinition{
		"intelligent_shopping": {
			Name:        "Intelligent Shopping Workflow",
			Description: "Complete shopping assistance with personalization and optimization",
			Steps: []agenthub.StepDefinition{
				step("analyze_intent", ShoppingAgent, "analyze_shopping_intent"),
				step("search_products", ShoppingAgent, "search_products"),
				step("optimize_pricing", PricingAgent, "optimize_product_pricing"),
				step("personalize_recommendations", RecommendationAgent, "generate_personalized_recommendations"),
				step("optimize_journey", JourneyAgent, "optimize_customer_experience"),
			},
		},
		"smart_checkout": {
			Name:        "Smart Checkout Workflow",
			Description: "Intelligent checkout process with fraud detection and optimization",
			Steps: []agenthub.StepDefinition{
				step("validate_cart", ShoppingAgent, "validate_cart_contents"),
				step("fraud_analysis", SecurityAgent, "analyze_transaction_risk"),
				step("optimize_shipping", SupplyChainAgent, "optimize_shipping_options"),
				step("process_payment", PaymentAgent, "process_secure_payment"),
				step("send_confirmation", CommunicationAgent, "send_order_confirmation"),
			},
		},
		"inventory_optimization": {
			Name:        "Inventory Optimization Workflow",
			Description: "AI-driven inventory management and forecasting",
			Steps: []agenthub.StepDefinition{
				step("analyze_demand", AnalyticsAgent, "analyze_demand_patterns"),
				step("forecast_inventory", SupplyChainAgent, "forecast_inventory_needs"),
				step("optimize_pricing", PricingAgent, "optimize_inventory_pricing"),
				step("plan_procurement", SupplyChainAgent, "plan_procurement_strategy"),
			},
		},
		"customer_support": {
			Name:        "Intelligent Customer Support Workflow",
			Description: "AI-powered customer support with escalation management",
			Steps: []agenthub.StepDefinition{
				step("analyze_inquiry", SupportAgent, "analyze_customer_inquiry"),
				step("search_knowledge_base", KnowledgeAgent, "search_solutions"),
				step("generate_response", CommunicationAgent, "generate_personalized_response"),
				step("determine_escalation", SupportAgent, "evaluate_escalation_need"),
			},
		},
	}
}

// ListTemplates returns the templates sorted by id.
func ListTemplates(templates map[string]agenthub.WorkflowDefinition) []TemplateInfo {
	infos := make([]TemplateInfo, 0, len(templates))
	for id, t := range templates {
		infos = append(infos, TemplateInfo{
			ID:          id,
			Name:        t.Name,
			Description: t.Description,
			Steps:       len(t.Steps),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// PrepareWorkflow copies template and adds the caller context to every step:
// user_id, user_context and workflow_parameters are merged into the step
// parameters, overriding template values with the same key. The template is
// left untouched.
func PrepareWorkflow(template agenthub.WorkflowDefinition, orchestratorID, userID string, parameters, userContext map[string]any, now time.Time) agenthub.WorkflowDefinition {
	if parameters == nil {
		parameters = map[string]any{}
	}
	stepContext := userContext
	if stepContext == nil {
		stepContext = map[string]any{}
	}

	def := agenthub.WorkflowDefinition{
		Name:        template.Name,
		Description: template.Description,
		Steps:       make([]agenthub.StepDefinition, len(template.Steps)),
	}
	for i, s := range template.Steps {
		params := maps.Clone(s.Parameters)
		if params == nil {
			params = map[string]any{}
		}
		params["user_id"] = userID
		params["user_context"] = stepContext
		params["workflow_parameters"] = parameters

		s.Parameters = params
		s.DependsOn = append([]string(nil), s.DependsOn...)
		def.Steps[i] = s
	}

	def.Metadata = maps.Clone(template.Metadata)
	if def.Metadata == nil {
		def.Metadata = map[string]any{}
	}
	def.Metadata["user_id"] = userID
	def.Metadata["created_at"] = float64(now.UnixNano()) / float64(time.Second)
	def.Metadata["orchestrator"] = orchestratorID
	def.Metadata["parameters"] = parameters
	def.Metadata["context"] = userContext
	return def
}

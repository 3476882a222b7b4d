// Package a2a defines the Agent2Agent message envelope and its JSON wire codec.
//
// Every frame exchanged between agents and the broker is a single JSON object:
//
//	{
//	  "id": "5f0c...",
//	  "type": "request",
//	  "source_agent": "orchestrator",
//	  "target_agent": "pricing_optimizer",
//	  "timestamp": 1700000000.123456,
//	  "payload": {"action": "optimize_product_pricing", "parameters": {...}},
//	  "correlation_id": "...",
//	  "workflow_id": "...",
//	  "priority": 5,
//	  "ttl": 30
//	}
//
// target_agent, correlation_id, workflow_id and ttl are optional and are omitted
// when unset. The type field is a closed enumeration; frames carrying any other
// value fail to decode. Priority and TTL are carried but not enforced.
package a2a

package graph

// ResponseMetadata keys shared between nodes and agents.
const (
	// MetaKeyHumanDecision holds the decision injected on resume.
	MetaKeyHumanDecision = "human_decision"
	// MetaKeyHumanApproved is set by the human gate after a decision.
	MetaKeyHumanApproved = "human_approved"
	// MetaKeyActions lists pending operations awaiting approval.
	MetaKeyActions = "actions"
	// MetaKeyRequiresHumanApproval gates the human gate interrupt.
	MetaKeyRequiresHumanApproval = "requires_human_approval"
	// MetaKeyRecommendedAgent is the reasoning node's pick.
	MetaKeyRecommendedAgent = "recommended_agent"
	// MetaKeyReactRecommendedAgent is the ReAct node's hint.
	MetaKeyReactRecommendedAgent = "react_recommended_agent"
	// MetaKeyParallelTargets requests fan-out to several agents.
	MetaKeyParallelTargets = "parallel_targets"
	// MetaKeySemanticResult carries the raw intent service output.
	MetaKeySemanticResult = "semantic_result"
	// MetaKeyResultSummary is the agent's one-line outcome summary.
	MetaKeyResultSummary = "result_summary"
	// MetaKeyDatabAlertsPending signals rows that warrant an alert scan.
	MetaKeyDatabAlertsPending = "datab_alerts_pending"
	// MetaKeyElCajasPending signals rows that warrant cash-box checks.
	MetaKeyElCajasPending = "el_cajas_pending"
	// MetaKeyDesktopInstruction carries a follow-up desktop operation.
	MetaKeyDesktopInstruction = "desktop_instruction"
	// MetaKeyReasoningPlan carries the serialized plan for downstream nodes.
	MetaKeyReasoningPlan = "reasoning_plan"
	// MetaKeyReplanRequested is set by the supervisor to force replanning.
	MetaKeyReplanRequested = "replan_requested"
)

// Processing metric keys.
const (
	MetricKeyLoopCount   = "loop_count"
	MetricKeyTurnStart   = "turn_start_unix_ms"
	MetricKeyNodeLatency = "node_latency_ms"
)

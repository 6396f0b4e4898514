package observability

const (
	AttrAgentID         = "agent.id"
	AttrAgentRemote     = "agent.remote"
	AttrAgentSuccess    = "agent.success"
	AttrAgentDurationMs = "agent.duration_ms"
	AttrModelName       = "llm.model"
	AttrToolName        = "tool.name"
	AttrToolServer      = "tool.server"
	AttrSessionID       = "session.id"
	AttrTaskID          = "task.id"
	AttrTaskType        = "task.type"
	AttrCacheNamespace  = "cache.namespace"
	AttrErrorType       = "error.type"

	SpanRoute         = "orchestrator.route"
	SpanDispatch      = "orchestrator.dispatch"
	SpanAgentInvoke   = "agent.invoke"
	SpanLLMRequest    = "agent.llm_request"
	SpanToolExecution = "agent.tool_execution"
	SpanTaskFire      = "scheduler.task_fire"

	DefaultServiceName = "lucia"
)

package middlewares

// Keys used with gin's context store.
const (
	CtxRequestID = "ctx.requestID"
	CtxTaskID    = "ctx.taskID"
)

package middlewares

// Keys for values stashed on the gin context.
const (
	CtxUserID    = "auth.userID"
	CtxRole      = "auth.role"
	CtxEmail     = "auth.email"
	CtxRequestID = "requestID"
	CtxJobID     = "jobID"
)

type ctxKey string

// KeyUserID is the request-scoped actor key for plain context.Context
// (worker and repos), where gin's keyspace is unavailable.
const KeyUserID ctxKey = "user_id"

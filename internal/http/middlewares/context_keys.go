package middlewares

const (
	CtxRequestID = "request_id"
	CtxClaims    = "auth.claims"
	CtxUserID    = "auth.userID"
	CtxSessionID = "auth.sessionID"
)

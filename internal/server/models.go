package server

// HTTPError is a generic error envelope returned by the server.
type HTTPError struct {
	Error string `json:"error"`
}

// AuthSignupRequest represents the signup payload.
type AuthSignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthLoginRequest represents the login payload.
type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse carries a bearer token.
type TokenResponse struct {
	Token string `json:"token"`
}

// IDResponse is a generic id response wrapper.
type IDResponse struct {
	ID string `json:"id"`
}

// MeResponse returns the current authenticated user id.
type MeResponse struct {
	UserID string `json:"user_id"`
}

// ChatRequest is one user message. An empty conversation_id starts a new
// conversation.
type ChatRequest struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

// ChatResponse is the assistant's reply, with plan details when the message
// triggered a multi-step plan.
type ChatResponse struct {
	ConversationID string  `json:"conversation_id"`
	Reply          string  `json:"reply"`
	UsedPlan       bool    `json:"used_plan"`
	PlanID         string  `json:"plan_id,omitempty"`
	PlanType       string  `json:"plan_type,omitempty"`
	Confidence     float64 `json:"confidence,omitempty"`
}

// CreateConversationRequest names a new conversation.
type CreateConversationRequest struct {
	Title string `json:"title"`
}

// ProgressResponse reports the running plan's progress for a conversation.
type ProgressResponse struct {
	PlanID     string `json:"plan_id"`
	Status     string `json:"status"`
	Current    int    `json:"current"`
	Total      int    `json:"total"`
	Percentage int    `json:"percentage"`
}

// CreateScheduleRequest registers a recurring query.
type CreateScheduleRequest struct {
	ConversationID string `json:"conversation_id"`
	Query          string `json:"query"`
	PlanType       string `json:"plan_type"`
	Cron           string `json:"cron"`
}

// UpdateScheduleRequest toggles a schedule.
type UpdateScheduleRequest struct {
	Enabled bool `json:"enabled"`
}

package dto

type AuthResponse struct {
	Token   string `json:"token"`
	User    any    `json:"user"`
	IsAdmin bool   `json:"is_admin"`
}

type ErrorResponse struct {
	Error     string         `json:"error"`
	Kind      string         `json:"kind,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Action    string         `json:"action,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

type AccessResponse struct {
	VideoID   string `json:"video_id"`
	HasAccess bool   `json:"has_access"`
}

type ExpireResponse struct {
	Expired int `json:"expired"`
}

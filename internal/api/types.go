package api

// SessionResponse is the API response for GET /api/session.
type SessionResponse struct {
	SessionID string `json:"session_id"`
	State     string `json:"state"`
	Handle    string `json:"handle,omitempty"`
	Final     bool   `json:"final"`
}

// ClusterResponse is the API response for GET /api/cluster.
type ClusterResponse struct {
	Handle  string `json:"handle"`
	State   string `json:"state"`
	Message string `json:"message,omitempty"`
	Ready   bool   `json:"ready"`
	Gone    bool   `json:"gone"`
}

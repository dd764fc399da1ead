package models

// BackendResponse describes one backend and its counters.
type BackendResponse struct {
	Name        string   `json:"name"`
	Address     string   `json:"address"`
	Pools       []string `json:"pools"`
	Weight      int      `json:"weight"`
	Order       int      `json:"order"`
	Mode        string   `json:"mode"`
	Available   bool     `json:"available"`
	Queries     uint64   `json:"queries"`
	Responses   uint64   `json:"responses"`
	Outstanding int64    `json:"outstanding"`
	Reuseds     uint64   `json:"reuseds"`
	Timeouts    uint64   `json:"timeouts"`
	SendErrors  uint64   `json:"send_errors"`
	LatencyMs   float64  `json:"latency_ms"`
}

// BackendModeRequest sets the administrative mode of a backend.
type BackendModeRequest struct {
	Mode string `json:"mode" binding:"required,oneof=auto up down"`
}

package client

// Status mirrors the JSON served at GET /.
type Status struct {
	Status     string `json:"status"`
	Players    int    `json:"players"`
	MaxPlayers int    `json:"maxPlayers"`
	Uptime     string `json:"uptime"`
}

// Online reports whether the server is accepting players.
func (s Status) Online() bool { return s.Status == "online" }

// Players mirrors GET /players.
type Players struct {
	Count      int      `json:"count"`
	MaxPlayers int      `json:"maxPlayers"`
	Players    []string `json:"players"`
}

// Health mirrors GET /healthz.
type Health struct {
	OK    bool   `json:"ok"`
	State string `json:"state"`
}

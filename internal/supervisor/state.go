package supervisor

import "time"

// State is the lifecycle state of the supervised server.
type State int32

const (
	StateOffline State = iota
	StateStarting
	StateOnline
	StateStopping
)

var allStates = []State{StateOffline, StateStarting, StateOnline, StateStopping}

func (s State) String() string {
	switch s {
	case StateOffline:
		return "offline"
	case StateStarting:
		return "starting"
	case StateOnline:
		return "online"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Snapshot is an immutable view of the supervisor at one instant.
type Snapshot struct {
	ServerName  string    `json:"server_name"`
	State       State     `json:"state"`
	PlayerCount int       `json:"player_count"`
	MaxPlayers  int       `json:"max_players"`
	Players     []string  `json:"players,omitempty"`
	StartTime   time.Time `json:"start_time,omitzero"` // zero unless online or stopping
	RunID       string    `json:"run_id,omitempty"`
	PID         int       `json:"pid,omitempty"`
	TakenAt     time.Time `json:"taken_at"`
}

// Online reports whether the server is accepting players.
func (s Snapshot) Online() bool { return s.State == StateOnline }

// Uptime is the time since the server became ready, measured at TakenAt.
// It is zero when no start time is recorded.
func (s Snapshot) Uptime() time.Duration {
	if s.StartTime.IsZero() {
		return 0
	}
	d := s.TakenAt.Sub(s.StartTime)
	if d < 0 {
		return 0
	}
	return d
}

package event

import (
	"encoding/json"
	"time"
)

// SessionState is the desktop session's current condition as reported by the
// host session notifier. Exactly one value is current at any time.
type SessionState int

const (
	Unlocked SessionState = iota
	Locked
	RemoteConnect
	RemoteDisconnect
	Logon
	Logoff
)

var sessionStateNames = map[SessionState]string{
	Unlocked:         "unlocked",
	Locked:           "locked",
	RemoteConnect:    "remote_connect",
	RemoteDisconnect: "remote_disconnect",
	Logon:            "logon",
	Logoff:           "logoff",
}

var sessionStateFromName = map[string]SessionState{
	"unlocked":          Unlocked,
	"locked":            Locked,
	"remote_connect":    RemoteConnect,
	"remote_disconnect": RemoteDisconnect,
	"logon":             Logon,
	"logoff":            Logoff,
}

func (s SessionState) String() string {
	if n, ok := sessionStateNames[s]; ok {
		return n
	}
	return "unknown"
}

func (s SessionState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *SessionState) UnmarshalJSON(data []byte) error {
	var n string
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if v, ok := sessionStateFromName[n]; ok {
		*s = v
	}
	return nil
}

// SessionChange is a single notification from the session notifier. Delivery
// order is not guaranteed; consumers compare timestamps.
type SessionChange struct {
	NewState  SessionState `json:"newState"`
	Timestamp time.Time    `json:"timestamp"`
	Context   string       `json:"context,omitempty"`
}

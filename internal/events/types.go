// Package events defines the event types published by the matchmaker and
// the bus that carries them to observers such as telemetry.
package events

import "time"

// EventType names a kind of event emitted through the EventBus.
type EventType string

const (
	// Rendezvous traffic
	EventServerPing      EventType = "server_ping"
	EventConnectArranged EventType = "connect_arranged"
	EventConnectDropped  EventType = "connect_dropped"

	// Address store maintenance
	EventServersExpired EventType = "servers_expired"
	EventServerRemoved  EventType = "server_removed"

	// System events
	EventRouterState EventType = "router_state"
	EventHealth      EventType = "health"
	EventHeartbeat   EventType = "heartbeat"
	EventShutdown    EventType = "shutdown"
)

// DropReason says why an arranged connect request produced no reply.
type DropReason string

const (
	DropInvalidToken  DropReason = "invalid_token"
	DropUnknownServer DropReason = "unknown_server"
	DropStoreError    DropReason = "store_error"
)

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Time    time.Time
	Payload interface{}
}

// New stamps an event with the current time.
func New(t EventType, source string, payload interface{}) Event {
	return Event{Type: t, Source: source, Time: time.Now(), Payload: payload}
}

// ServerPingPayload is emitted after a server's address set is replaced.
type ServerPingPayload struct {
	Server        string   `json:"server"`
	Addresses     []string `json:"addresses"`
	SecretMatches bool     `json:"secret_matches"`
}

// ConnectArrangedPayload is emitted once both notifies have been attempted.
type ConnectArrangedPayload struct {
	Client           string `json:"client"`
	Server           string `json:"server"`
	RequestID        uint16 `json:"request_id"`
	ClientCandidates int    `json:"client_candidates"`
	ServerAddresses  int    `json:"server_addresses"`
	SendFailures     int    `json:"send_failures"`
}

// ConnectDroppedPayload is emitted when a request is silently dropped.
type ConnectDroppedPayload struct {
	Client string     `json:"client"`
	Server string     `json:"server"`
	Reason DropReason `json:"reason"`
}

// ServersExpiredPayload reports one expiry sweep that removed something.
type ServersExpiredPayload struct {
	Count  int       `json:"count"`
	Cutoff time.Time `json:"cutoff"`
}

// ServerRemovedPayload reports an operator removing a server record.
type ServerRemovedPayload struct {
	Server string `json:"server"`
	Via    string `json:"via"`
}

// RouterStatePayload reports a packet router lifecycle transition.
type RouterStatePayload struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// HealthPayload reports a health check changing between passing and
// failing.
type HealthPayload struct {
	Check   string `json:"check"`
	Healthy bool   `json:"healthy"`
	Message string `json:"message"`
}

// HeartbeatPayload is the periodic liveness summary.
type HeartbeatPayload struct {
	RouterState    string `json:"router_state"`
	ServersTracked int    `json:"servers_tracked"`
	Healthy        bool   `json:"healthy"`
}

package models

// NetworkState is the monitor's view of connectivity.
type NetworkState struct {
	Online      bool   `json:"online"`
	Transitions uint64 `json:"transitions"`
}

package domain

// Distributor is a registry entry for an information distributor. Domains
// lists every host the distributor operates.
type Distributor struct {
	Domains            []string `json:"domains"`
	CooperationRefused bool     `json:"cooperationRefused"`
}

// LastSyncLayout formats registry sync times for display.
const LastSyncLayout = "02.01.2006 15:04"

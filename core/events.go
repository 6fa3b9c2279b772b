package core

import "time"

// PowerEventType names a stage of a power request.
type PowerEventType string

const (
	PowerUpRequested PowerEventType = "PowerUpRequested"
	PowerUpRaced     PowerEventType = "PowerUpRaced"
	PowerUpApplied   PowerEventType = "PowerUpApplied"
	PowerDownStarted PowerEventType = "PowerDownStarted"
	PowerDownDecided PowerEventType = "PowerDownDecided"
	TeardownComplete PowerEventType = "TeardownComplete"
	CoreDown         PowerEventType = "CoreDown"
	PowerRemoved     PowerEventType = "PowerRemoved"
	SuspendSkipped   PowerEventType = "SuspendSkipped"
	CoreEntered      PowerEventType = "CoreEntered"
	FatalViolation   PowerEventType = "FatalViolation"
)

// PowerEvent is one entry in a power request's timeline.
type PowerEvent struct {
	Sequence  int64             `json:"sequence"`
	RequestID string            `json:"requestID"`
	Core      CoreID            `json:"core"`
	EventType PowerEventType    `json:"eventType"`
	Time      time.Time         `json:"time"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// RequestTimeline groups the events of one power request.
type RequestTimeline struct {
	RequestID string        `json:"requestID"`
	Core      CoreID        `json:"core"`
	Events    []*PowerEvent `json:"events"`
}

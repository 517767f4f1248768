package websocket

import "time"

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// Machine state messages
	MessageTypeMachineState MessageType = "machine_state"

	// Sequencer and stage events
	MessageTypeSequenceStarted   MessageType = "sequence_started"
	MessageTypeSequenceCompleted MessageType = "sequence_completed"
	MessageTypeSequenceFailed    MessageType = "sequence_failed"
	MessageTypeStepStarted       MessageType = "step_started"
	MessageTypeStepCompleted     MessageType = "step_completed"
	MessageTypeStepFailed        MessageType = "step_failed"
	MessageTypeStageChanged      MessageType = "stage_changed"

	// System messages
	MessageTypeSystemStatus MessageType = "system_status"

	// Handshake
	MessageTypeAuth        MessageType = "auth"
	MessageTypeAuthSuccess MessageType = "auth_success"
	MessageTypeAuthFailed  MessageType = "auth_failed"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// MachineStateData represents machine state change data
type MachineStateData struct {
	State    string `json:"state"`
	Previous string `json:"previous_state"`
	Reason   string `json:"reason,omitempty"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data interface{}) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

func NewMachineStateMessage(newState, previousState, reason string) Message {
	return NewMessage(MessageTypeMachineState, MachineStateData{
		State:    newState,
		Previous: previousState,
		Reason:   reason,
	})
}

package protocol

// FEEDBACK (server -> operator)
//
// One per assembler run and one per failed spawn session. Code is empty on
// success.
type FeedbackMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AttemptID       string `json:"attempt_id,omitempty"`
	Channel         string `json:"channel,omitempty"`
	Code            string `json:"code,omitempty"`
	Text            string `json:"text"`
	SentAtUnixMs    int64  `json:"sent_at_unix_ms"`
}

// SPAWN (server -> operator)
//
// Sent when a spawn session finishes, successfully or not.
type SpawnMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	AttemptID       string   `json:"attempt_id"`
	Instances       []string `json:"instances"`
	Expected        int      `json:"expected"`
	Code            string   `json:"code,omitempty"`
	ElapsedMs       int64    `json:"elapsed_ms"`
}

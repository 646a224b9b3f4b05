package protocol

import (
	"encoding/json"
	"time"
)

// ToolInvocation is a command-surface call issued by the conversational layer.
type ToolInvocation struct {
	SessionID    string          `json:"session_id"`
	InvocationID string          `json:"invocation_id"`
	Tool         string          `json:"tool"`
	Args         json.RawMessage `json:"args,omitempty"`
	TraceID      string          `json:"trace_id,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}

// ToolResult carries a command's text outcome back to the conversational layer.
type ToolResult struct {
	SessionID    string    `json:"session_id"`
	InvocationID string    `json:"invocation_id"`
	Tool         string    `json:"tool"`
	Status       string    `json:"status"`
	Text         string    `json:"text"`
	TraceID      string    `json:"trace_id,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// SpeakRequest asks the synthesis service to voice a reply.
type SpeakRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
	Voice     string `json:"voice,omitempty"`
	Style     string `json:"style,omitempty"`
	Target    string `json:"target,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
}

// AudioChunk is PCM audio streamed to the playback pipeline.
type AudioChunk struct {
	SessionID  string `json:"session_id"`
	Target     string `json:"target,omitempty"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// SpeakStatus signals completion or failure of one utterance.
type SpeakStatus struct {
	SessionID string    `json:"session_id"`
	Target    string    `json:"target,omitempty"`
	Completed bool      `json:"completed"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionEnd announces that a conversational session has terminated.
type SessionEnd struct {
	SessionID string    `json:"session_id"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectToolInvoke   = "agent.tool.invoke"
	SubjectToolResult   = "agent.tool.result"
	SubjectSessionEnd   = "agent.session.end"
	SubjectSpeakRequest = "tts.speak.request"
	SubjectSpeakAudio   = "tts.speak.audio"
	SubjectSpeakDone    = "tts.speak.done"
)

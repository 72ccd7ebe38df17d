package tasks

import (
	"encoding/json"
	"os"
	"time"
)

// Metadata records who is running what. It is the content of the
// in-progress marker.
type Metadata struct {
	File      string `json:"file"`
	Engine    string `json:"engine"`
	Model     string `json:"model"`
	StartedAt string `json:"started_at"`
	PID       *int   `json:"pid"`
	WorkerID  string `json:"worker_id"`
	Attempt   int    `json:"attempt"`
}

// NewMetadata describes a first attempt started now by this process.
func NewMetadata(file, engine, model, workerID string) Metadata {
	pid := os.Getpid()
	return Metadata{
		File:      file,
		Engine:    engine,
		Model:     model,
		StartedAt: time.Now().Format(time.RFC3339Nano),
		PID:       &pid,
		WorkerID:  workerID,
		Attempt:   1,
	}
}

// Started parses StartedAt. ok is false when the field is empty or not RFC 3339.
func (m Metadata) Started() (t time.Time, ok bool) {
	t, err := time.Parse(time.RFC3339Nano, m.StartedAt)
	return t, err == nil
}

// Encode renders the metadata as JSON.
func (m Metadata) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeMetadata parses marker content. Missing fields are left zero except
// attempt, which defaults to 1.
func DecodeMetadata(data []byte) (*Metadata, error) {
	m := Metadata{Attempt: 1}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

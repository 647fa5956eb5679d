package controllers

import "time"

// Common response types for HTTP controllers

// deadLetterItem is one dead-lettered envelope.
type deadLetterItem struct {
	EntryID      string    `json:"entry_id"`
	ID           string    `json:"id"`
	GroupKey     string    `json:"group_key"`
	Kind         string    `json:"kind"`
	Reason       string    `json:"reason,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
	ReceiveCount int       `json:"receive_count"`
	EnqueueTime  time.Time `json:"enqueue_time"`
	EscalatedAt  time.Time `json:"escalated_at"`
	Payload      []byte    `json:"payload"`
}

type deadLetterList struct {
	Items []deadLetterItem `json:"items"`
}

type redriveResp struct {
	Redriven int `json:"redriven"`
}

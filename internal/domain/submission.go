package domain

import "time"

// Submission is one response as received by the collector, before it is stored.
type Submission struct {
	ID         string     `json:"id"`
	Tag        string     `json:"tag"`
	Mode       string     `json:"mode"`
	Client     string     `json:"client"`
	Session    string     `json:"session"`
	Data       *RawRecord `json:"data"`
	ReceivedAt time.Time  `json:"receivedAt"`
}

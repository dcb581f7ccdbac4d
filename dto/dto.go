package dto

import (
	"github.com/google/uuid"

	"github.com/aidevro/bugatube/constant"
)

// QueueItem is one ingest job as reported to its owner, both by the
// status query and inside queueUpdate pushes.
type QueueItem struct {
	VideoID  uuid.UUID          `json:"videoId"`
	URL      string             `json:"url,omitempty"`
	Title    string             `json:"title"`
	Status   constant.JobStatus `json:"status"`
	Progress float64            `json:"progress"`
	UserID   uuid.UUID          `json:"userId"`
	Stage    string             `json:"stage"`
}

// ClientMessage is what a websocket client may send. Only "auth" is
// defined; anything else is ignored.
type ClientMessage struct {
	Type  string `json:"type"`
	Token string `json:"token,omitempty"`
}

type QueueUpdate struct {
	Type  string      `json:"type"`
	Queue []QueueItem `json:"queue"`
}

type RemoteIngestRequest struct {
	URL string `json:"url"`
}

type CommentRequest struct {
	Text string `json:"text"`
}

// JobEvent is published to the message broker on every job state
// transition when an exchange is configured.
type JobEvent struct {
	JobID    uuid.UUID          `json:"jobId"`
	OwnerID  uuid.UUID          `json:"ownerId"`
	Status   constant.JobStatus `json:"status"`
	Stage    string             `json:"stage"`
	Progress float64            `json:"progress"`
}

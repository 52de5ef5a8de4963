package domain

// SubmitTaskRequest is the submission body. QC holds the serialized circuit;
// Shots optionally overrides the configured default repetition count.
type SubmitTaskRequest struct {
	QC    string `json:"qc"`
	Shots int    `json:"shots,omitempty"`
}

type SubmitTaskResponse struct {
	TaskID  string `json:"task_id"`
	Message string `json:"message"`
}

// TaskStatusResponse is the client-facing poll variant. Exactly one of
// Result/Message is populated for terminal states; PENDING and RUNNING both
// surface as status "pending".
type TaskStatusResponse struct {
	Status  string         `json:"status"`
	Message string         `json:"message,omitempty"`
	Result  map[string]int `json:"result,omitempty"`
}

// QueueDepthResponse is the admin view of queue occupancy, used to spot
// backlog and orphaned submissions.
type QueueDepthResponse struct {
	Pending    int64 `json:"pending"`
	Delayed    int64 `json:"delayed"`
	InProgress int64 `json:"inProgress"`
	Queued     int64 `json:"queued"`
}

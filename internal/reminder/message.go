package reminder

import (
	"time"
)

// Message is the wire payload for one overdue-task reminder, serialized as
// UTF-8 JSON. It is immutable once published: a task that changes after its
// reminder was queued does not alter the in-flight message.
type Message struct {
	TaskID   int64     `json:"TaskId"`
	Title    string    `json:"Title"`
	DueDate  time.Time `json:"DueDate"`
	FullName string    `json:"FullName"`
	Email    string    `json:"Email"`
}

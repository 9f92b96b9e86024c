package model

import "time"

type Sender string

const (
	SenderOperator Sender = "operator"
	SenderWorker   Sender = "worker"
)

// ChatMessage belongs to one worker's conversation. Only ReadAt ever changes
// after insert, and nothing deletes it.
type ChatMessage struct {
	ID          string     `json:"id" bson:"_id"`
	WorkerID    string     `json:"workerId" bson:"worker_id"`
	OperatorID  string     `json:"operatorId,omitempty" bson:"operator_id,omitempty"`
	Sender      Sender     `json:"sender" bson:"sender"`
	SenderName  string     `json:"senderName,omitempty" bson:"sender_name,omitempty"`
	Content     string     `json:"content" bson:"content"`
	Attachments []string   `json:"attachments" bson:"attachments"`
	CreatedAt   time.Time  `json:"createdAt" bson:"created_at"`
	ReadAt      *time.Time `json:"readAt,omitempty" bson:"read_at,omitempty"`

	// AttachmentURLs is filled at read time, never stored.
	AttachmentURLs []string `json:"attachmentUrls,omitempty" bson:"-"`
}

// ReadReceipt is broadcast after mark_read. Re-marking is harmless.
type ReadReceipt struct {
	WorkerID   string    `json:"workerId"`
	MessageIDs []string  `json:"messageIds"`
	ReadBy     string    `json:"readBy"`
	ReaderKind Kind      `json:"readerKind"`
	ReadAt     time.Time `json:"readAt"`
}

type Typing struct {
	WorkerID   string `json:"workerId"`
	IsTyping   bool   `json:"isTyping"`
	SenderKind Kind   `json:"senderKind"`
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName,omitempty"`
}

type ConversationLocked struct {
	WorkerID  string    `json:"workerId"`
	LockedBy  string    `json:"lockedBy"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type ForceLogout struct {
	Reason string `json:"reason"`
}

type ShiftUpdated struct {
	ShiftID string `json:"shiftId"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Code    int    `json:"code,omitempty"`
	Event   string `json:"event,omitempty"`
	Ack     string `json:"ack,omitempty"`
}

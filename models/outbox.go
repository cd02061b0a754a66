package models

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/mmretail/stockbook_backend/config"
	"github.com/mmretail/stockbook_backend/utils"
	"gorm.io/gorm"
)

// ActivityOutboxRecord is one activity-log event awaiting publish. The row is
// written inside the originating DB transaction; the dispatcher publishes it
// to Pub/Sub after commit and records the outcome here.
type ActivityOutboxRecord struct {
	ID            int                   `gorm:"primary_key;index:idx_outbox_dispatch,priority:3" json:"id"`
	BusinessId    string                `gorm:"size:64;not null;index" json:"business_id"`
	OccurredAt    time.Time             `gorm:"index;not null" json:"occurred_at"`
	ReferenceId   int                   `json:"reference_id"`
	ReferenceType ActivityReferenceType `gorm:"size:20" json:"reference_type"`
	Action        ActivityAction        `gorm:"size:30" json:"action"`
	Payload       []byte                `gorm:"type:blob" json:"payload"`
	CorrelationId string                `gorm:"size:64" json:"correlation_id"`

	PublishStatus    string     `gorm:"size:20;index;not null;default:'PENDING';index:idx_outbox_dispatch,priority:1" json:"publish_status"`
	PublishedAt      *time.Time `gorm:"index" json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index;index:idx_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time `gorm:"index" json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// PublishToActivity writes the outbox row inside the caller's transaction but
// does NOT publish to Pub/Sub. Publishing happens asynchronously after commit.
func PublishToActivity(ctx context.Context, tx *gorm.DB, businessId string, refId int, refType ActivityReferenceType, action ActivityAction, obj interface{}) error {
	payload, err := json.Marshal(obj)
	if err != nil {
		return err
	}

	record := ActivityOutboxRecord{
		BusinessId:    businessId,
		OccurredAt:    time.Now().UTC(),
		ReferenceId:   refId,
		ReferenceType: refType,
		Action:        action,
		Payload:       payload,
		CorrelationId: correlationIdFromContextOrNew(ctx),
		PublishStatus: OutboxPublishStatusPending,
	}
	return tx.Create(&record).Error
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}

// ConvertToActivityMessage maps an outbox row to its Pub/Sub wire form.
func ConvertToActivityMessage(rec ActivityOutboxRecord) config.ActivityMessage {
	return config.ActivityMessage{
		ID:            rec.ID,
		BusinessId:    rec.BusinessId,
		OccurredAt:    rec.OccurredAt,
		ReferenceId:   rec.ReferenceId,
		ReferenceType: string(rec.ReferenceType),
		Action:        string(rec.Action),
		Payload:       rec.Payload,
		CorrelationId: rec.CorrelationId,
	}
}

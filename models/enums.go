package models

// Reference types recorded on history and outbox rows.
type ActivityReferenceType string

const (
	ActivityReferenceTypeProduct  ActivityReferenceType = "product"
	ActivityReferenceTypeBatch    ActivityReferenceType = "batch"
	ActivityReferenceTypeSale     ActivityReferenceType = "sale"
	ActivityReferenceTypeLocation ActivityReferenceType = "location"
)

// Activity actions carried on outbox messages.
type ActivityAction string

const (
	ActivityActionProductCreated ActivityAction = "product_created"
	ActivityActionBatchCreated   ActivityAction = "batch_created"
	ActivityActionBatchUpdated   ActivityAction = "batch_updated"
	ActivityActionBatchDeleted   ActivityAction = "batch_deleted"
	ActivityActionSaleCreated    ActivityAction = "sale_created"
)

// Outbox publish lifecycle.
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

// History action types.
const (
	HistoryActionCreate = "CREATE"
	HistoryActionUpdate = "UPDATE"
	HistoryActionDelete = "DELETE"
)

package schema

import "time"

// ProcessorStatus represents the processor_status table - the durable
// checkpoint of the live processor
type ProcessorStatus struct {
	// Processor is the configured processor name
	Processor string `gorm:"column:processor;primaryKey;type:varchar(100)"`
	// LastSuccessVersion is the highest transaction version whose writes are durable
	LastSuccessVersion int64 `gorm:"column:last_success_version;not null"`
	// LastUpdated is when the checkpoint was last advanced
	LastUpdated time.Time `gorm:"column:last_updated;not null;autoUpdateTime;type:timestamptz"`
	// LastTransactionTimestamp is the chain timestamp of the checkpointed transaction
	LastTransactionTimestamp *time.Time `gorm:"column:last_transaction_timestamp;type:timestamptz"`
}

// TableName specifies the table name for the ProcessorStatus model
func (ProcessorStatus) TableName() string {
	return "processor_status"
}

// Backfill status values
const (
	BackfillStatusInProgress = "in_progress"
	BackfillStatusComplete   = "complete"
)

// BackfillProcessorStatus represents the backfill_processor_status table -
// progress of bounded backfill runs, tracked separately from the live row
type BackfillProcessorStatus struct {
	// BackfillAlias names the backfill run
	BackfillAlias string `gorm:"column:backfill_alias;primaryKey;type:varchar(100)"`
	// BackfillStatus is in_progress until the end version is reached
	BackfillStatus string `gorm:"column:backfill_status;not null;type:varchar(50)"`
	// LastSuccessVersion is the highest backfilled version whose writes are durable
	LastSuccessVersion int64 `gorm:"column:last_success_version;not null"`
	// LastUpdated is when the row was last advanced
	LastUpdated time.Time `gorm:"column:last_updated;not null;autoUpdateTime;type:timestamptz"`
	// LastTransactionTimestamp is the chain timestamp of the checkpointed transaction
	LastTransactionTimestamp *time.Time `gorm:"column:last_transaction_timestamp;type:timestamptz"`
	// BackfillStartVersion is the configured inclusive start of the run
	BackfillStartVersion int64 `gorm:"column:backfill_start_version;not null"`
	// BackfillEndVersion is the configured inclusive end of the run
	BackfillEndVersion int64 `gorm:"column:backfill_end_version;not null"`
}

// TableName specifies the table name for the BackfillProcessorStatus model
func (BackfillProcessorStatus) TableName() string {
	return "backfill_processor_status"
}

// Package models declares the persistence models for the baseline objects of
// every tenant schema, plus the mapping that tells the scoped gateway which
// tables are tenant-scoped and through which column.
package models

import (
	"time"

	"github.com/google/uuid"
)

// BaseModel provides common persistence fields for all models.
type BaseModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TenantModel extends BaseModel with the tenant owner column. The column is
// present even though rows already live in a tenant-private schema: it is the
// second fence the scoped gateway filters on, so a mis-routed query still
// cannot cross tenants.
type TenantModel struct {
	BaseModel
	TenantID uuid.UUID `gorm:"type:uuid;not null;index"`
}

// Campaign is an advertising campaign tracked for a tenant.
type Campaign struct {
	TenantModel
	Name       string     `gorm:"type:varchar(200);not null"`
	Platform   string     `gorm:"type:varchar(50);not null;default:'google_ads'"`
	ExternalID string     `gorm:"type:varchar(100);index"`
	Status     string     `gorm:"type:varchar(20);not null;default:'draft'"`
	Budget     int64      `gorm:"not null;default:0"` // minor currency units
	StartedAt  *time.Time `gorm:"index"`
}

// TableName returns the table name for GORM
func (Campaign) TableName() string {
	return "campaigns"
}

// UtmLink is a tracked UTM link owned by a campaign. It carries no tenant
// column of its own; ownership is transitive through the campaign.
type UtmLink struct {
	BaseModel
	CampaignID  uuid.UUID `gorm:"type:uuid;not null;index"`
	Slug        string    `gorm:"type:varchar(64);not null;uniqueIndex"`
	Destination string    `gorm:"type:text;not null"`
	Source      string    `gorm:"type:varchar(100)"`
	Medium      string    `gorm:"type:varchar(100)"`
	Clicks      int64     `gorm:"not null;default:0"`
}

// TableName returns the table name for GORM
func (UtmLink) TableName() string {
	return "utm_links"
}

// MessageLog records one outbound message (WhatsApp, email) sent on behalf of
// a tenant. Delivery itself is out of scope; the log is what messaging quota
// accounting and reporting read.
type MessageLog struct {
	TenantModel
	Channel     string     `gorm:"type:varchar(30);not null"`
	Recipient   string     `gorm:"type:varchar(200);not null"`
	Status      string     `gorm:"type:varchar(20);not null;default:'queued'"`
	DeliveredAt *time.Time
}

// TableName returns the table name for GORM
func (MessageLog) TableName() string {
	return "message_logs"
}

// ExportJob is an asynchronous report export requested by a tenant user.
type ExportJob struct {
	TenantModel
	Kind        string     `gorm:"type:varchar(50);not null"` // roas_report, metrics_history, ...
	Format      string     `gorm:"type:varchar(10);not null;default:'csv'"`
	Status      string     `gorm:"type:varchar(20);not null;default:'pending'"`
	ResultPath  string     `gorm:"type:varchar(500)"`
	CompletedAt *time.Time
}

// TableName returns the table name for GORM
func (ExportJob) TableName() string {
	return "export_jobs"
}

// TenantSchemaModels lists every model provisioned in each tenant schema.
// EnsureSchema migrates exactly this set.
func TenantSchemaModels() []any {
	return []any{
		&Campaign{},
		&UtmLink{},
		&MessageLog{},
		&ExportJob{},
	}
}

package application

import (
	"time"

	"gorm.io/datatypes"
)

type Application struct {
	ID                 string                      `gorm:"primaryKey;size:36"`
	ApplicationNo      string                      `gorm:"column:application_no;uniqueIndex;not null"`
	ApplicantID        string                      `gorm:"column:applicant_id;index;not null"`
	ParentID           *string                     `gorm:"column:parent_id"`
	Title              string                      `gorm:"column:title;not null"`
	Content            string                      `gorm:"column:content"`
	Amount             *float64                    `gorm:"column:amount"`
	Priority           string                      `gorm:"column:priority;not null;default:medium"`
	Status             string                      `gorm:"column:status;index;not null;default:DRAFT"`
	FactoryManagerIDs  datatypes.JSONSlice[string] `gorm:"column:factory_manager_ids;not null;default:'[]'"`
	SelectedManagerIDs datatypes.JSONSlice[string] `gorm:"column:selected_manager_ids;not null;default:'[]'"`
	SkipManager        bool                        `gorm:"column:skip_manager;not null;default:false"`
	Version            int64                       `gorm:"column:version;not null;default:1"`
	SubmittedAt        *time.Time                  `gorm:"column:submitted_at"`
	CompletedAt        *time.Time                  `gorm:"column:completed_at"`
	CreatedAt          time.Time                   `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time                   `gorm:"column:updated_at;autoUpdateTime"`
}

func (Application) TableName() string {
	return "applications"
}

// ApprovalRecord is one approver slot. Level-specific director fields stay empty on other levels.
type ApprovalRecord struct {
	ID                 string                      `gorm:"primaryKey;size:36"`
	ApplicationID      string                      `gorm:"column:application_id;index;not null"`
	Level              string                      `gorm:"column:level;not null"`
	Round              int                         `gorm:"column:round;not null;default:1"`
	ApproverID         string                      `gorm:"column:approver_id;index;not null"`
	Action             string                      `gorm:"column:action;not null;default:PENDING"`
	Comment            *string                     `gorm:"column:comment"`
	ApprovedAt         *time.Time                  `gorm:"column:approved_at"`
	SelectedManagerIDs datatypes.JSONSlice[string] `gorm:"column:selected_manager_ids;not null;default:'[]'"`
	SkipManager        *bool                       `gorm:"column:skip_manager"`
	FlowType           *string                     `gorm:"column:flow_type"`
	SupersededAt       *time.Time                  `gorm:"column:superseded_at"`
	CreatedAt          time.Time                   `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time                   `gorm:"column:updated_at;autoUpdateTime"`
}

func (ApprovalRecord) TableName() string {
	return "approval_records"
}

package application

import (
	"github.com/frahmantamala/approval-workflow/internal"
	"github.com/frahmantamala/approval-workflow/internal/core/common/validation"
	"github.com/frahmantamala/approval-workflow/internal/workflow"
)

const (
	maxTitleLength   = 200
	maxContentLength = 10000
)

var priorities = []string{
	string(workflow.PriorityLow),
	string(workflow.PriorityMedium),
	string(workflow.PriorityHigh),
	string(workflow.PriorityUrgent),
}

type CreateApplicationDTO struct {
	Title             string   `json:"title"`
	Content           string   `json:"content"`
	Amount            *float64 `json:"amount,omitempty"`
	Priority          string   `json:"priority,omitempty"`
	FactoryManagerIDs []string `json:"factory_manager_ids"`
}

func (dto CreateApplicationDTO) Validate() error {
	v := validation.NewValidator()
	v.Field("title", dto.Title).Required().MaxLength(maxTitleLength)
	v.Field("content", dto.Content).MaxLength(maxContentLength)
	v.Field("amount", dto.Amount).Positive(internal.ErrCodeInvalidAmount)
	v.Field("priority", dto.Priority).OneOf(priorities, internal.ErrCodeInvalidPriority)
	if err := v.Validate(); err != nil {
		return err
	}
	return nil
}

// UpdateApplicationDTO patches a draft. Nil fields are left unchanged.
type UpdateApplicationDTO struct {
	Title             *string  `json:"title,omitempty"`
	Content           *string  `json:"content,omitempty"`
	Amount            *float64 `json:"amount,omitempty"`
	Priority          *string  `json:"priority,omitempty"`
	FactoryManagerIDs []string `json:"factory_manager_ids,omitempty"`
}

func (dto UpdateApplicationDTO) Validate() error {
	v := validation.NewValidator()
	if dto.Title != nil {
		v.Field("title", dto.Title).Required().MaxLength(maxTitleLength)
	}
	v.Field("content", dto.Content).MaxLength(maxContentLength)
	v.Field("amount", dto.Amount).Positive(internal.ErrCodeInvalidAmount)
	v.Field("priority", dto.Priority).OneOf(priorities, internal.ErrCodeInvalidPriority)
	if err := v.Validate(); err != nil {
		return err
	}
	return nil
}

// ActRequestDTO is the body of POST /approvals/{level}/{id}.
type ActRequestDTO struct {
	Action             string   `json:"action"`
	Comment            string   `json:"comment,omitempty"`
	FlowType           string   `json:"flow_type,omitempty"`
	SelectedManagerIDs []string `json:"selected_manager_ids,omitempty"`
	SkipManager        bool     `json:"skip_manager,omitempty"`
}

func (dto ActRequestDTO) Validate() error {
	v := validation.NewValidator()
	v.Field("action", dto.Action).Required().OneOf(
		[]string{string(workflow.ActionApprove), string(workflow.ActionReject)}, internal.ErrCodeValidationFailed)
	v.Field("comment", dto.Comment).MaxLength(maxContentLength)
	if err := v.Validate(); err != nil {
		return err
	}
	return nil
}

func (dto ActRequestDTO) Selection() workflow.Selection {
	return workflow.Selection{
		FlowType:           workflow.FlowType(dto.FlowType),
		SelectedManagerIDs: dto.SelectedManagerIDs,
		SkipManager:        dto.SkipManager,
	}
}

type WithdrawRequestDTO struct {
	Level string `json:"level,omitempty"`
}

type ListResponse struct {
	Items  []*Application `json:"items"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

type HistoryResponse struct {
	ApplicationID string            `json:"application_id"`
	Records       []*ApprovalRecord `json:"records"`
}

type ApproversResponse struct {
	ApplicationID string   `json:"application_id"`
	Status        string   `json:"status"`
	ApproverIDs   []string `json:"approver_ids"`
}

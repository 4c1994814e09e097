package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypeApplicationTransition = "application.transition"
	EventTypeLargeAmountApproved   = "application.large_amount_approved"
)

// ApplicationTransitionEvent is published after a status change has been committed.
type ApplicationTransitionEvent struct {
	BaseEvent
	ApplicationID string   `json:"application_id"`
	ApplicationNo string   `json:"application_no"`
	ApplicantID   string   `json:"applicant_id"`
	FromStatus    string   `json:"from_status"`
	ToStatus      string   `json:"to_status"`
	ActingUserID  string   `json:"acting_user_id"`
	Level         string   `json:"level"`
	Amount        *float64 `json:"amount,omitempty"`
}

func NewApplicationTransitionEvent(applicationID, applicationNo, applicantID, from, to, actingUserID, level string, amount *float64) *ApplicationTransitionEvent {
	data := map[string]interface{}{
		"application_id": applicationID,
		"application_no": applicationNo,
		"applicant_id":   applicantID,
		"from_status":    from,
		"to_status":      to,
		"acting_user_id": actingUserID,
		"level":          level,
	}
	if amount != nil {
		data["amount"] = *amount
	}

	return &ApplicationTransitionEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeApplicationTransition,
			Timestamp: time.Now(),
			Data:      data,
		},
		ApplicationID: applicationID,
		ApplicationNo: applicationNo,
		ApplicantID:   applicantID,
		FromStatus:    from,
		ToStatus:      to,
		ActingUserID:  actingUserID,
		Level:         level,
		Amount:        amount,
	}
}

type LargeAmountApprovedEvent struct {
	BaseEvent
	ApplicationID string   `json:"application_id"`
	ApplicationNo string   `json:"application_no"`
	Amount        float64  `json:"amount"`
	Threshold     float64  `json:"threshold"`
	RecipientIDs  []string `json:"recipient_ids"`
}

func NewLargeAmountApprovedEvent(applicationID, applicationNo string, amount, threshold float64, recipients []string) *LargeAmountApprovedEvent {
	return &LargeAmountApprovedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeLargeAmountApproved,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"application_id": applicationID,
				"application_no": applicationNo,
				"amount":         amount,
				"threshold":      threshold,
				"recipient_ids":  recipients,
			},
		},
		ApplicationID: applicationID,
		ApplicationNo: applicationNo,
		Amount:        amount,
		Threshold:     threshold,
		RecipientIDs:  recipients,
	}
}

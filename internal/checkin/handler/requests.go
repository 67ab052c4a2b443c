package handler

import (
	"strings"

	"checkpoint/internal/checkin/models"
	"checkpoint/internal/checkin/service"
	id "checkpoint/pkg/domain"
	dErrors "checkpoint/pkg/domain-errors"
)

const maxIdempotencyTokenLength = 128

// ActionRequest is the body of POST /actions.
type ActionRequest struct {
	Action           string  `json:"action"`
	UserID           string  `json:"user_id"`
	IdempotencyToken string  `json:"idempotency_token"`
	ReferenceNumber  *string `json:"reference_number,omitempty"`
	VestNumber       *string `json:"vest_number,omitempty"`
	VestReturned     *bool   `json:"vest_returned,omitempty"`
	Limit            int     `json:"limit,omitempty"`

	parsedAction models.Action
	parsedUserID id.UserID
}

// Validate parses the action and user id. Mutating actions need a user and a token.
func (r *ActionRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}

	r.Action = strings.TrimSpace(r.Action)
	if r.Action == "" {
		return dErrors.New(dErrors.CodeValidation, "action is required")
	}
	action, err := models.ParseAction(r.Action)
	if err != nil {
		return err
	}
	r.parsedAction = action

	if r.Limit < 0 {
		return dErrors.New(dErrors.CodeValidation, "limit must not be negative")
	}
	if !action.IsMutating() {
		return nil
	}

	r.IdempotencyToken = strings.TrimSpace(r.IdempotencyToken)
	if r.IdempotencyToken == "" {
		return dErrors.New(dErrors.CodeValidation, "idempotency_token is required")
	}
	if len(r.IdempotencyToken) > maxIdempotencyTokenLength {
		return dErrors.New(dErrors.CodeValidation, "idempotency_token is too long")
	}
	userID, err := id.ParseUserID(strings.TrimSpace(r.UserID))
	if err != nil {
		return err
	}
	r.parsedUserID = userID
	return nil
}

// Command converts the validated request into a service command.
func (r *ActionRequest) Command() service.Command {
	return service.Command{
		Action:           r.parsedAction,
		UserID:           r.parsedUserID,
		IdempotencyToken: r.IdempotencyToken,
		ReferenceNumber:  r.ReferenceNumber,
		VestNumber:       r.VestNumber,
		VestReturned:     r.VestReturned,
		Limit:            r.Limit,
	}
}

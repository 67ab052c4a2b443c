package handler

import (
	"checkpoint/internal/checkin/models"
	"checkpoint/internal/checkin/service"
)

// LookupResponse is the HTTP response for GET /lookup.
type LookupResponse struct {
	Scenario       string               `json:"scenario"`
	User           *models.User         `json:"user,omitempty"`
	Registration   *models.Registration `json:"registration,omitempty"`
	AllowedActions []string             `json:"allowed_actions"`
}

func FromResolution(res *models.Resolution) *LookupResponse {
	actions := make([]string, 0, len(res.AllowedActions))
	for _, a := range res.AllowedActions {
		actions = append(actions, string(a))
	}
	return &LookupResponse{
		Scenario:       string(res.Scenario),
		User:           res.User,
		Registration:   res.Registration,
		AllowedActions: actions,
	}
}

// ActionResponse is the HTTP response for POST /actions. Replays of an applied
// token produce the same shape.
type ActionResponse struct {
	Status       string               `json:"status"`
	Message      string               `json:"message"`
	Stats        models.Stats         `json:"stats"`
	Registration *models.Registration `json:"registration,omitempty"`
	Attendees    []models.Attendee    `json:"attendees,omitempty"`
}

func FromResult(result *service.Result) *ActionResponse {
	return &ActionResponse{
		Status:       result.Status,
		Message:      result.Message,
		Stats:        result.Stats,
		Registration: result.Registration,
		Attendees:    result.Attendees,
	}
}

type StatsResponse struct {
	Stats models.Stats `json:"stats"`
}

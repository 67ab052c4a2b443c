package models

import (
	"time"

	id "checkpoint/pkg/domain"
)

// Event is the occasion attendees check into. Capacity 0 means unlimited.
type Event struct {
	ID             id.EventID `json:"id"`
	Slug           string     `json:"slug"`
	Name           string     `json:"name"`
	Capacity       int        `json:"capacity"`
	CredentialHash string     `json:"-"`
}

func (e *Event) Unlimited() bool {
	return e.Capacity <= 0
}

// HasRoomFor reports whether one more registration fits given the current count.
func (e *Event) HasRoomFor(count int) bool {
	return e.Unlimited() || count < e.Capacity
}

// User is the directory view of a volunteer.
type User struct {
	ID          id.UserID `json:"id"`
	Code        string    `json:"code"`
	DisplayName string    `json:"display_name"`
}

// Stats are the event aggregates returned after every mutation.
type Stats struct {
	Total      int `json:"total"`
	CheckedIn  int `json:"checked_in"`
	CheckedOut int `json:"checked_out"`
}

// Attendee is a row of the recent-attendees projection.
type Attendee struct {
	UserID       id.UserID  `json:"user_id"`
	Code         string     `json:"code"`
	DisplayName  string     `json:"display_name"`
	Status       Status     `json:"status"`
	CheckinTime  *time.Time `json:"checkin_time"`
	CheckoutTime *time.Time `json:"checkout_time"`
	VestNumber   *string    `json:"vest_number"`
	VestReturned *bool      `json:"vest_returned"`
}

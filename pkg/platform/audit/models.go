package audit

import (
	"time"

	id "checkpoint/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose.
type EventCategory string

const (
	// CategoryAttendance covers state changes on registrations made at the door.
	CategoryAttendance EventCategory = "attendance"

	// CategorySecurity covers console authentication and throttling.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine activity such as offline replays.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category       EventCategory
	Timestamp      time.Time
	EventID        id.EventID
	RegistrationID id.RegistrationID
	// Subject is the attendee user code or the throttle key involved.
	Subject   string
	Action    string
	Outcome   string
	Reason    string
	RequestID string
	SessionID string
	IP        string
	Device    string
}

type AuditEvent string

const (
	// Attendance events
	EventCheckinConfirmed  AuditEvent = "checkin_confirmed"
	EventCheckoutConfirmed AuditEvent = "checkout_confirmed"
	EventWalkInRegistered  AuditEvent = "walk_in_registered"
	EventReferenceUpdated  AuditEvent = "reference_updated"
	EventVestUpdated       AuditEvent = "vest_updated"
	EventVestReturned      AuditEvent = "vest_returned"

	// Console events
	EventConsoleLogin      AuditEvent = "console_login"
	EventConsoleLoginFail  AuditEvent = "console_login_failed"
	EventThrottleTriggered AuditEvent = "throttle_triggered"

	// Offline events
	EventOfflineReplayed AuditEvent = "offline_replayed"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventCheckinConfirmed:  CategoryAttendance,
	EventCheckoutConfirmed: CategoryAttendance,
	EventWalkInRegistered:  CategoryAttendance,
	EventReferenceUpdated:  CategoryAttendance,
	EventVestUpdated:       CategoryAttendance,
	EventVestReturned:      CategoryAttendance,

	EventConsoleLogin:      CategorySecurity,
	EventConsoleLoginFail:  CategorySecurity,
	EventThrottleTriggered: CategorySecurity,

	EventOfflineReplayed: CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

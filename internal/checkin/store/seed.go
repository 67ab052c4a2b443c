package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"checkpoint/internal/checkin/models"
	id "checkpoint/pkg/domain"
)

// DemoEventID is stable so a development console can be pointed at it.
var DemoEventID = id.EventID(uuid.MustParse("6f1c7a52-3a43-4c58-9d0e-2f4f1b6f9e01"))

// Seed is a self-contained data set for development backends.
type Seed struct {
	Event         *models.Event
	Users         []*models.User
	Registrations []*models.Registration
}

// Seeder is implemented by every registration backend.
type Seeder interface {
	SaveEvent(ctx context.Context, event *models.Event) error
	Save(ctx context.Context, reg *models.Registration) error
}

// DemoSeed builds one event with a user in each console scenario.
func DemoSeed(credentialHash string, now time.Time) Seed {
	event := &models.Event{
		ID:             DemoEventID,
		Slug:           "demo-day",
		Name:           "Demo Day",
		Capacity:       50,
		CredentialHash: credentialHash,
	}
	users := []*models.User{
		{ID: id.UserID(uuid.MustParse("0b6c3c8e-0001-4a4e-8f7c-6a2f1d2e0001")), Code: "DP001", DisplayName: "Ada Registered"},
		{ID: id.UserID(uuid.MustParse("0b6c3c8e-0002-4a4e-8f7c-6a2f1d2e0002")), Code: "DP002", DisplayName: "Ben Noref"},
		{ID: id.UserID(uuid.MustParse("0b6c3c8e-0003-4a4e-8f7c-6a2f1d2e0003")), Code: "DP003", DisplayName: "Cleo Inside"},
		{ID: id.UserID(uuid.MustParse("0b6c3c8e-0004-4a4e-8f7c-6a2f1d2e0004")), Code: "DP004", DisplayName: "Dev Gone"},
		{ID: id.UserID(uuid.MustParse("0b6c3c8e-0005-4a4e-8f7c-6a2f1d2e0005")), Code: "DP005", DisplayName: "Eve Walkin"},
	}

	ref := id.ReferenceNumber("100000000001")
	earlier := now.Add(-2 * time.Hour)
	out := now.Add(-30 * time.Minute)
	vest := "V-07"

	registration := func(u *models.User, status models.Status) *models.Registration {
		return &models.Registration{
			ID:        id.RegistrationID(uuid.NewSHA1(uuid.UUID(DemoEventID), []byte(u.Code))),
			EventID:   DemoEventID,
			UserID:    u.ID,
			Status:    status,
			Version:   1,
			CreatedAt: earlier,
			UpdatedAt: earlier,
		}
	}

	withRef := registration(users[0], models.StatusRegistered)
	withRef.ReferenceNumber = &ref

	inside := registration(users[2], models.StatusCheckedIn)
	inside.CheckinTime = &earlier
	inside.VestNumber = &vest

	gone := registration(users[3], models.StatusCheckedOut)
	gone.CheckinTime = &earlier
	gone.CheckoutTime = &out
	gone.UpdatedAt = out

	return Seed{
		Event: event,
		Users: users,
		Registrations: []*models.Registration{
			withRef,
			registration(users[1], models.StatusAbsent),
			inside,
			gone,
		},
	}
}

// Load writes the seed's event and registrations into a backend.
func (s Seed) Load(ctx context.Context, target Seeder) error {
	if err := target.SaveEvent(ctx, s.Event); err != nil {
		return err
	}
	for _, reg := range s.Registrations {
		if err := target.Save(ctx, reg); err != nil {
			return err
		}
	}
	return nil
}

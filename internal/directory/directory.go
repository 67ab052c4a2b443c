// Package directory reads volunteer identities. Profile management lives
// elsewhere; the console only needs lookups by DP code and by id.
package directory

import (
	"context"
	"strings"
	"sync"

	"checkpoint/internal/checkin/models"
	id "checkpoint/pkg/domain"
	"checkpoint/pkg/platform/sentinel"
)

// InMemoryDirectory indexes users by id and upper-cased code.
type InMemoryDirectory struct {
	mu     sync.RWMutex
	byID   map[id.UserID]*models.User
	byCode map[string]id.UserID
}

func NewMemory(users ...*models.User) *InMemoryDirectory {
	d := &InMemoryDirectory{
		byID:   make(map[id.UserID]*models.User),
		byCode: make(map[string]id.UserID),
	}
	for _, u := range users {
		_ = d.Save(context.Background(), u)
	}
	return d
}

func (d *InMemoryDirectory) Save(_ context.Context, user *models.User) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	u := *user
	d.byID[u.ID] = &u
	d.byCode[strings.ToUpper(u.Code)] = u.ID
	return nil
}

// FindByCode matches case-insensitively.
func (d *InMemoryDirectory) FindByCode(_ context.Context, code id.UserCode) (*models.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	userID, ok := d.byCode[strings.ToUpper(code.String())]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	u := *d.byID[userID]
	return &u, nil
}

func (d *InMemoryDirectory) FindByID(_ context.Context, userID id.UserID) (*models.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.byID[userID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	c := *u
	return &c, nil
}

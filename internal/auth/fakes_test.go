package auth

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/one-account/one-account-api/internal/db/models"
)

type fakeUsers struct {
	byID map[string]*models.User
	err  error
}

func newFakeUsers(users ...*models.User) *fakeUsers {
	f := &fakeUsers{byID: map[string]*models.User{}}
	for _, u := range users {
		f.byID[u.ID] = u
	}
	return f
}

func (f *fakeUsers) GetUserByID(_ context.Context, id string) (*models.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byID[id], nil
}

type fakeTokens struct {
	rows    map[string]*models.PersonalAccessToken
	touched []string
	// getErr stands in for the driver error Postgres raises on a malformed uuid
	getErr error
}

func newFakeTokens() *fakeTokens {
	return &fakeTokens{rows: map[string]*models.PersonalAccessToken{}}
}

func (f *fakeTokens) Create(_ context.Context, t *models.PersonalAccessToken) error {
	t.ID = uuid.New().String()
	t.CreatedAt = time.Now()
	cp := *t
	f.rows[t.ID] = &cp
	return nil
}

func (f *fakeTokens) GetByID(_ context.Context, id string) (*models.PersonalAccessToken, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.rows[id], nil
}

func (f *fakeTokens) ListActiveForUser(_ context.Context, userID string, now time.Time) ([]models.PersonalAccessToken, error) {
	var out []models.PersonalAccessToken
	for _, t := range f.rows {
		if t.UserID == userID && !t.IsExpired(now) {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeTokens) TouchLastUsed(_ context.Context, id string) error {
	f.touched = append(f.touched, id)
	return nil
}

func (f *fakeTokens) DeleteForUser(_ context.Context, userID string, ids []string) (int64, error) {
	var n int64
	for id, t := range f.rows {
		if t.UserID != userID {
			continue
		}
		if len(ids) > 0 && !contains(ids, id) {
			continue
		}
		delete(f.rows, id)
		n++
	}
	return n, nil
}

type fakeAPIKeys struct {
	rows     map[string]*models.APIKey
	lastUsed []string
	getErr   error
}

func newFakeAPIKeys() *fakeAPIKeys {
	return &fakeAPIKeys{rows: map[string]*models.APIKey{}}
}

func (f *fakeAPIKeys) CreateAPIKey(_ context.Context, k *models.APIKey) error {
	k.ID = uuid.New().String()
	cp := *k
	f.rows[k.ID] = &cp
	return nil
}

func (f *fakeAPIKeys) GetAPIKeyByID(_ context.Context, id string) (*models.APIKey, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	k, ok := f.rows[id]
	if !ok {
		return nil, nil
	}
	cp := *k
	return &cp, nil
}

func (f *fakeAPIKeys) ListAPIKeysByUser(_ context.Context, userID string) ([]*models.APIKey, error) {
	var out []*models.APIKey
	for _, k := range f.rows {
		if k.UserID == userID {
			out = append(out, k)
		}
	}
	return out, nil
}

func (f *fakeAPIKeys) ListAll(_ context.Context) ([]*models.APIKey, error) {
	var out []*models.APIKey
	for _, k := range f.rows {
		out = append(out, k)
	}
	return out, nil
}

func (f *fakeAPIKeys) UpdateDetails(_ context.Context, id, name string, description *string) (bool, error) {
	k, ok := f.rows[id]
	if !ok {
		return false, nil
	}
	k.Name, k.Description = name, description
	return true, nil
}

func (f *fakeAPIKeys) SetActive(_ context.Context, id string, active bool) (bool, error) {
	k, ok := f.rows[id]
	if !ok {
		return false, nil
	}
	k.Active = active
	return true, nil
}

func (f *fakeAPIKeys) Delete(_ context.Context, id string) (bool, error) {
	_, ok := f.rows[id]
	delete(f.rows, id)
	return ok, nil
}

func (f *fakeAPIKeys) UpdateLastUsed(_ context.Context, id string) error {
	f.lastUsed = append(f.lastUsed, id)
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

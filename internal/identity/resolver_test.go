// Streamwarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/streamwarden/internal/config"
	"github.com/tomtom215/streamwarden/internal/database"
	"github.com/tomtom215/streamwarden/internal/models"
)

// fakeStore is an in-memory Store that counts calls.
type fakeStore struct {
	mu    sync.Mutex
	users map[string]*models.User // key: serverID/externalID

	reads   int
	inserts int
	updates []string

	// racedBy, when set, is inserted by "another writer" just before InsertUsers runs.
	racedBy   *models.User
	readErr   error
	updateErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{users: make(map[string]*models.User)}
}

func key(serverID, extID string) string { return serverID + "/" + extID }

func (f *fakeStore) UsersByExternalIDs(_ context.Context, serverID string, ids []string) (map[string]*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.readErr != nil {
		return nil, f.readErr
	}
	out := make(map[string]*models.User)
	for _, id := range ids {
		if u, ok := f.users[key(serverID, id)]; ok {
			cp := *u
			out[id] = &cp
		}
	}
	return out, nil
}

func (f *fakeStore) InsertUsers(_ context.Context, users []*models.User) (map[string]struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts++
	if f.racedBy != nil {
		f.users[key(f.racedBy.ServerID, f.racedBy.ExternalID)] = f.racedBy
		f.racedBy = nil
	}
	inserted := make(map[string]struct{})
	for _, u := range users {
		k := key(u.ServerID, u.ExternalID)
		if _, exists := f.users[k]; exists {
			continue
		}
		cp := *u
		f.users[k] = &cp
		inserted[u.ID] = struct{}{}
	}
	return inserted, nil
}

func (f *fakeStore) UpdateUserProfile(_ context.Context, id, username, thumb string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates = append(f.updates, id)
	for _, u := range f.users {
		if u.ID == id {
			u.Username, u.ThumbURL, u.UpdatedAt = username, thumb, now
		}
	}
	return nil
}

func newTestResolver(store Store) *Resolver {
	r := NewResolver(store)
	n := 0
	r.newID = func() string {
		n++
		return fmt.Sprintf("user-%d", n)
	}
	r.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return r
}

func TestResolve_CreatesUsersInOneBatch(t *testing.T) {
	store := newFakeStore()
	r := newTestResolver(store)

	users, err := r.Resolve(context.Background(), "plex", []Observation{
		{ExternalID: "1", Username: "alice"},
		{ExternalID: "2", Username: "bob"},
		{ExternalID: "1", Username: "alice", ThumbURL: "http://thumb/a"},
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if len(users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(users))
	}
	if store.reads != 1 || store.inserts != 1 {
		t.Errorf("expected 1 read and 1 insert, got %d reads %d inserts", store.reads, store.inserts)
	}
	alice := users["1"]
	if alice.TrustScore != models.DefaultTrustScore {
		t.Errorf("TrustScore = %d, want %d", alice.TrustScore, models.DefaultTrustScore)
	}
	if alice.ThumbURL != "http://thumb/a" {
		t.Errorf("expected merged thumb, got %q", alice.ThumbURL)
	}
	if alice.ServerID != "plex" {
		t.Errorf("ServerID = %q, want plex", alice.ServerID)
	}
}

func TestResolve_IsIdempotent(t *testing.T) {
	store := newFakeStore()
	r := newTestResolver(store)
	obs := []Observation{{ExternalID: "1", Username: "alice"}}

	first, err := r.Resolve(context.Background(), "plex", obs)
	if err != nil {
		t.Fatalf("first Resolve failed: %v", err)
	}
	second, err := r.Resolve(context.Background(), "plex", obs)
	if err != nil {
		t.Fatalf("second Resolve failed: %v", err)
	}

	if first["1"].ID != second["1"].ID {
		t.Errorf("expected same user id, got %s and %s", first["1"].ID, second["1"].ID)
	}
	if store.inserts != 1 {
		t.Errorf("expected a single insert, got %d", store.inserts)
	}
	if len(store.updates) != 0 {
		t.Errorf("unchanged profile should not be updated, got %v", store.updates)
	}
}

func TestResolve_SameExternalIDOnDifferentServers(t *testing.T) {
	store := newFakeStore()
	r := newTestResolver(store)

	a, err := r.Resolve(context.Background(), "plex", []Observation{{ExternalID: "1", Username: "alice"}})
	if err != nil {
		t.Fatal(err)
	}
	b, err := r.Resolve(context.Background(), "jellyfin", []Observation{{ExternalID: "1", Username: "alice"}})
	if err != nil {
		t.Fatal(err)
	}
	if a["1"].ID == b["1"].ID {
		t.Error("users on different servers must be distinct")
	}
}

func TestResolve_ProfileDrift(t *testing.T) {
	tests := []struct {
		name         string
		obs          Observation
		wantUsername string
		wantThumb    string
		wantUpdate   bool
	}{
		{
			name:         "username change",
			obs:          Observation{ExternalID: "1", Username: "alice2", ThumbURL: "http://t/old"},
			wantUsername: "alice2", wantThumb: "http://t/old", wantUpdate: true,
		},
		{
			name:         "thumb change",
			obs:          Observation{ExternalID: "1", Username: "alice", ThumbURL: "http://t/new"},
			wantUsername: "alice", wantThumb: "http://t/new", wantUpdate: true,
		},
		{
			name:         "empty thumb keeps stored",
			obs:          Observation{ExternalID: "1", Username: "alice"},
			wantUsername: "alice", wantThumb: "http://t/old",
		},
		{
			name:         "empty username keeps stored",
			obs:          Observation{ExternalID: "1", ThumbURL: "http://t/old"},
			wantUsername: "alice", wantThumb: "http://t/old",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			store.users[key("plex", "1")] = &models.User{
				ID: "existing", ServerID: "plex", ExternalID: "1",
				Username: "alice", ThumbURL: "http://t/old", TrustScore: 60,
			}
			r := newTestResolver(store)

			users, err := r.Resolve(context.Background(), "plex", []Observation{tt.obs})
			if err != nil {
				t.Fatalf("Resolve failed: %v", err)
			}
			u := users["1"]
			if u.Username != tt.wantUsername || u.ThumbURL != tt.wantThumb {
				t.Errorf("got (%q, %q), want (%q, %q)", u.Username, u.ThumbURL, tt.wantUsername, tt.wantThumb)
			}
			if u.TrustScore != 60 {
				t.Errorf("trust score must be untouched, got %d", u.TrustScore)
			}
			if (len(store.updates) == 1) != tt.wantUpdate {
				t.Errorf("updates = %v, wantUpdate %v", store.updates, tt.wantUpdate)
			}
			if store.inserts != 0 {
				t.Errorf("existing user must not be inserted")
			}
		})
	}
}

func TestResolve_UpdateFailureIsNotFatal(t *testing.T) {
	store := newFakeStore()
	store.users[key("plex", "1")] = &models.User{ID: "existing", ServerID: "plex", ExternalID: "1", Username: "alice"}
	store.updateErr = errors.New("disk full")
	r := newTestResolver(store)

	users, err := r.Resolve(context.Background(), "plex", []Observation{{ExternalID: "1", Username: "renamed"}})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if users["1"].Username != "alice" {
		t.Errorf("expected stored username on failed refresh, got %q", users["1"].Username)
	}
}

func TestResolve_LostInsertRaceRereads(t *testing.T) {
	store := newFakeStore()
	store.racedBy = &models.User{ID: "winner", ServerID: "plex", ExternalID: "1", Username: "alice", TrustScore: 100}
	r := newTestResolver(store)

	users, err := r.Resolve(context.Background(), "plex", []Observation{
		{ExternalID: "1", Username: "alice"},
		{ExternalID: "2", Username: "bob"},
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if users["1"].ID != "winner" {
		t.Errorf("expected the concurrently inserted row, got %s", users["1"].ID)
	}
	if users["2"] == nil {
		t.Fatal("expected bob to be created")
	}
	if store.reads != 2 {
		t.Errorf("expected one re-read, got %d reads", store.reads)
	}
}

func TestResolve_Empty(t *testing.T) {
	store := newFakeStore()
	r := newTestResolver(store)

	users, err := r.Resolve(context.Background(), "plex", []Observation{{ExternalID: ""}})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(users) != 0 || store.reads != 0 {
		t.Errorf("expected no work for empty input, got %d users %d reads", len(users), store.reads)
	}
}

func TestResolve_ReadError(t *testing.T) {
	store := newFakeStore()
	store.readErr = errors.New("connection lost")
	r := newTestResolver(store)

	if _, err := r.Resolve(context.Background(), "plex", []Observation{{ExternalID: "1"}}); err == nil {
		t.Fatal("expected error")
	}
}

func TestObservationsFrom(t *testing.T) {
	obs := ObservationsFrom([]models.ProcessedSession{
		{ExternalUserID: "7", Username: "carol", UserThumb: "http://t/c"},
	})
	if len(obs) != 1 || obs[0] != (Observation{ExternalID: "7", Username: "carol", ThumbURL: "http://t/c"}) {
		t.Errorf("unexpected observations: %+v", obs)
	}
}

func TestResolve_DuckDB(t *testing.T) {
	ctx := context.Background()
	db, err := database.New(ctx, &config.DatabaseConfig{Path: database.MemoryPath, MaxMemory: "256MB", Threads: 1})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.UpsertServers(ctx, []models.Server{{ID: "plex", Name: "Plex", Type: models.ServerTypePlex, URL: "http://plex"}}); err != nil {
		t.Fatalf("UpsertServers failed: %v", err)
	}

	r := NewResolver(db)
	first, err := r.Resolve(ctx, "plex", []Observation{{ExternalID: "1", Username: "alice"}, {ExternalID: "2", Username: "bob"}})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	second, err := r.Resolve(ctx, "plex", []Observation{{ExternalID: "1", Username: "alice-renamed"}})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if first["1"].ID != second["1"].ID {
		t.Error("expected the same user on second resolve")
	}
	stored, err := db.GetUser(ctx, first["1"].ID)
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if stored.Username != "alice-renamed" {
		t.Errorf("expected persisted rename, got %q", stored.Username)
	}
	if stored.TrustScore != models.DefaultTrustScore {
		t.Errorf("TrustScore = %d", stored.TrustScore)
	}
}

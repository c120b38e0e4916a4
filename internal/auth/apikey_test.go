package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	vstepro "github.com/eugener/vstepro/internal"
)

// fakeKeyStore is a minimal in-memory APIKeyStore for auth tests.
type fakeKeyStore struct {
	mu      sync.RWMutex
	keys    map[string]*vstepro.APIKey // hash -> key
	touched map[string]int             // id -> touch count
	lookups int
}

func newFakeKeyStore() *fakeKeyStore {
	return &fakeKeyStore{
		keys:    make(map[string]*vstepro.APIKey),
		touched: make(map[string]int),
	}
}

func (s *fakeKeyStore) addKey(raw string, key *vstepro.APIKey) {
	key.KeyHash = vstepro.HashKey(raw)
	s.mu.Lock()
	s.keys[key.KeyHash] = key
	s.mu.Unlock()
}

func (s *fakeKeyStore) CreateKey(_ context.Context, key *vstepro.APIKey) error {
	s.mu.Lock()
	s.keys[key.KeyHash] = key
	s.mu.Unlock()
	return nil
}

func (s *fakeKeyStore) GetKeyByHash(_ context.Context, hash string) (*vstepro.APIKey, error) {
	s.mu.Lock()
	s.lookups++
	k, ok := s.keys[hash]
	s.mu.Unlock()
	if !ok {
		return nil, vstepro.ErrNotFound
	}
	return k, nil
}

func (s *fakeKeyStore) GetKey(context.Context, string) (*vstepro.APIKey, error) {
	return nil, vstepro.ErrNotFound
}
func (s *fakeKeyStore) ListKeys(context.Context, int, int) ([]*vstepro.APIKey, error) {
	return nil, nil
}
func (s *fakeKeyStore) UpdateKey(context.Context, *vstepro.APIKey) error { return nil }
func (s *fakeKeyStore) DeleteKey(context.Context, string) error          { return nil }

func (s *fakeKeyStore) TouchKeyUsed(_ context.Context, id string) error {
	s.mu.Lock()
	s.touched[id]++
	s.mu.Unlock()
	return nil
}

func (s *fakeKeyStore) touchCount(id string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.touched[id]
}

func (s *fakeKeyStore) lookupCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookups
}

const testKey = "vsp_test_key_12345678901234567890"

func newTestAuth(t *testing.T) (*APIKeyAuth, *fakeKeyStore) {
	t.Helper()
	store := newFakeKeyStore()
	auth, err := NewAPIKeyAuth(store)
	if err != nil {
		t.Fatal(err)
	}
	return auth, store
}

func makeRequest(key string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/v1/exam-sets", nil)
	if key != "" {
		r.Header.Set("Authorization", "Bearer "+key)
	}
	return r
}

func TestAuthenticate_ValidKey(t *testing.T) {
	t.Parallel()
	auth, store := newTestAuth(t)

	store.addKey(testKey, &vstepro.APIKey{
		ID:        "key-1",
		KeyPrefix: "vsp_test_key",
		UserID:    "user-1",
	})

	id, err := auth.Authenticate(context.Background(), makeRequest(testKey))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.UserID != "user-1" {
		t.Errorf("UserID = %q, want user-1", id.UserID)
	}
	if id.KeyID != "key-1" {
		t.Errorf("KeyID = %q, want key-1", id.KeyID)
	}
	if id.Subject != "vsp_test_key" {
		t.Errorf("Subject = %q, want vsp_test_key", id.Subject)
	}
	if id.Role != vstepro.DefaultRole {
		t.Errorf("Role = %q, want %s", id.Role, vstepro.DefaultRole)
	}
	if id.AuthMethod != "apikey" {
		t.Errorf("AuthMethod = %q, want apikey", id.AuthMethod)
	}
	if !id.Can(vstepro.PermTakeExams) {
		t.Error("student should have PermTakeExams")
	}
	if id.Can(vstepro.PermManageContent) {
		t.Error("student should not have PermManageContent")
	}
}

func TestAuthenticate_CacheHit(t *testing.T) {
	t.Parallel()
	auth, store := newTestAuth(t)

	store.addKey(testKey, &vstepro.APIKey{
		ID:        "key-1",
		KeyPrefix: "vsp_test_key",
		UserID:    "user-1",
	})

	if _, err := auth.Authenticate(context.Background(), makeRequest(testKey)); err != nil {
		t.Fatal(err)
	}

	// Remove from store -- second call should hit cache.
	store.mu.Lock()
	delete(store.keys, vstepro.HashKey(testKey))
	store.mu.Unlock()

	id, err := auth.Authenticate(context.Background(), makeRequest(testKey))
	if err != nil {
		t.Fatalf("cache miss: %v", err)
	}
	if id.UserID != "user-1" {
		t.Errorf("UserID = %q, want user-1", id.UserID)
	}
	if n := store.lookupCount(); n != 1 {
		t.Errorf("store lookups = %d, want 1", n)
	}
}

func TestAuthenticate_Rejected(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		header string
	}{
		{"no header", ""},
		{"basic auth", "Basic dXNlcjpwYXNz"},
		{"empty bearer", "Bearer "},
		{"foreign prefix", "Bearer sk-not-a-vstepro-key"},
		{"unknown key", "Bearer vsp_unknown_key_does_not_exist"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			auth, _ := newTestAuth(t)
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			if _, err := auth.Authenticate(context.Background(), r); err != vstepro.ErrUnauthorized {
				t.Errorf("err = %v, want ErrUnauthorized", err)
			}
		})
	}
}

func TestAuthenticate_BlockedKeyCached(t *testing.T) {
	t.Parallel()
	auth, store := newTestAuth(t)

	store.addKey(testKey, &vstepro.APIKey{
		ID:        "key-blocked",
		KeyPrefix: "vsp_test_key",
		Blocked:   true,
	})

	for range 2 {
		_, err := auth.Authenticate(context.Background(), makeRequest(testKey))
		if err != vstepro.ErrKeyBlocked {
			t.Errorf("err = %v, want ErrKeyBlocked", err)
		}
	}
	if n := store.lookupCount(); n != 1 {
		t.Errorf("store lookups = %d, want 1", n)
	}
}

func TestAuthenticate_ExpiredKey(t *testing.T) {
	t.Parallel()
	auth, store := newTestAuth(t)

	expired := time.Now().Add(-1 * time.Hour)
	store.addKey(testKey, &vstepro.APIKey{
		ID:        "key-expired",
		KeyPrefix: "vsp_test_key",
		ExpiresAt: &expired,
	})

	_, err := auth.Authenticate(context.Background(), makeRequest(testKey))
	if err != vstepro.ErrKeyExpired {
		t.Errorf("err = %v, want ErrKeyExpired", err)
	}
	if _, ok := auth.cache.GetIfPresent(vstepro.HashKey(testKey)); ok {
		t.Error("expired key should not stay cached")
	}
}

func TestAuthenticate_ExpiresWhileCached(t *testing.T) {
	t.Parallel()
	auth, store := newTestAuth(t)

	expiry := time.Now().Add(time.Hour)
	store.addKey(testKey, &vstepro.APIKey{
		ID:        "key-will-expire",
		KeyPrefix: "vsp_test_key",
		ExpiresAt: &expiry,
	})

	if _, err := auth.Authenticate(context.Background(), makeRequest(testKey)); err != nil {
		t.Fatal(err)
	}

	auth.now = func() time.Time { return expiry.Add(time.Second) }

	_, err := auth.Authenticate(context.Background(), makeRequest(testKey))
	if err != vstepro.ErrKeyExpired {
		t.Errorf("err = %v, want ErrKeyExpired", err)
	}
	if _, ok := auth.cache.GetIfPresent(vstepro.HashKey(testKey)); ok {
		t.Error("expired key should be evicted from cache")
	}
}

func TestAuthenticate_InvalidateByKeyID(t *testing.T) {
	t.Parallel()
	auth, store := newTestAuth(t)

	store.addKey(testKey, &vstepro.APIKey{ID: "key-1", KeyPrefix: "vsp_test_key"})
	if _, err := auth.Authenticate(context.Background(), makeRequest(testKey)); err != nil {
		t.Fatal(err)
	}

	store.mu.Lock()
	delete(store.keys, vstepro.HashKey(testKey))
	store.mu.Unlock()
	auth.InvalidateByKeyID("key-1")

	if _, err := auth.Authenticate(context.Background(), makeRequest(testKey)); err != vstepro.ErrUnauthorized {
		t.Errorf("err = %v, want ErrUnauthorized after revocation", err)
	}
}

func TestAuthenticate_TouchKeyUsed(t *testing.T) {
	t.Parallel()
	auth, store := newTestAuth(t)

	store.addKey(testKey, &vstepro.APIKey{
		ID:        "key-touch",
		KeyPrefix: "vsp_test_key",
	})

	if _, err := auth.Authenticate(context.Background(), makeRequest(testKey)); err != nil {
		t.Fatal(err)
	}

	// TouchKeyUsed runs in a goroutine; give it a moment.
	time.Sleep(50 * time.Millisecond)
	if n := store.touchCount("key-touch"); n != 1 {
		t.Errorf("touch count = %d, want 1", n)
	}
}

func TestBuildIdentity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		role     string
		wantRole string
		can      vstepro.Permission
		cannot   vstepro.Permission
	}{
		{"", "student", vstepro.PermTakeExams, vstepro.PermViewAllStats},
		{"student", "student", vstepro.PermViewOwnStats, vstepro.PermManageContent},
		{"teacher", "teacher", vstepro.PermManageContent, vstepro.PermManageCache},
		{"admin", "admin", vstepro.PermManageKeys | vstepro.PermManageCache, 0},
		{"superuser", "student", vstepro.PermTakeExams, vstepro.PermManageKeys},
	}

	for _, tt := range tests {
		t.Run(tt.wantRole+"/"+tt.role, func(t *testing.T) {
			t.Parallel()
			id := buildIdentity(&vstepro.APIKey{KeyPrefix: "vsp_abcd1234", UserID: "u", Role: tt.role})
			if id.Role != tt.wantRole {
				t.Errorf("Role = %q, want %q", id.Role, tt.wantRole)
			}
			if id.Perms != vstepro.RolePermissions[tt.wantRole] {
				t.Errorf("Perms = %v, want %s perms", id.Perms, tt.wantRole)
			}
			if !id.Can(tt.can) {
				t.Errorf("%s should have %v", tt.wantRole, tt.can)
			}
			if tt.cannot != 0 && id.Can(tt.cannot) {
				t.Errorf("%s should not have %v", tt.wantRole, tt.cannot)
			}
		})
	}
}

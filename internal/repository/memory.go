package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AtoyanMikhail/sessionauth/internal/repository/models"
)

// MemoryUserStore is a mutex-guarded UserStore for tests and local tooling.
// It hands out copies, so callers never alias stored records.
type MemoryUserStore struct {
	mu      sync.RWMutex
	byID    map[string]*models.User
	byEmail map[string]string
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		byID:    make(map[string]*models.User),
		byEmail: make(map[string]string),
	}
}

func (s *MemoryUserStore) GetByID(_ context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryUserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	id, ok := s.byEmail[normalizeEmail(email)]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s.GetByID(ctx, id)
}

func (s *MemoryUserStore) Create(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user.Email = normalizeEmail(user.Email)
	if _, exists := s.byEmail[user.Email]; exists {
		return ErrDuplicateEmail
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.Role == "" {
		user.Role = models.RoleUser
	}
	user.CreatedAt = time.Now().UTC()

	cp := *user
	s.byID[user.ID] = &cp
	s.byEmail[user.Email] = user.ID
	return nil
}

func (s *MemoryUserStore) UpdatePassword(_ context.Context, id, hashedPassword string) error {
	return s.update(id, func(u *models.User) {
		u.HashedPassword = hashedPassword
	})
}

func (s *MemoryUserStore) IncrementTokenVersion(_ context.Context, id string) (int, error) {
	var version int
	err := s.update(id, func(u *models.User) {
		u.TokenVersion++
		version = u.TokenVersion
	})
	return version, err
}

// SetActive toggles the active flag. There is no store method for this in
// production; admins do it out of band.
func (s *MemoryUserStore) SetActive(id string, active bool) error {
	return s.update(id, func(u *models.User) {
		u.IsActive = active
	})
}

func (s *MemoryUserStore) update(id string, fn func(u *models.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	fn(u)
	now := time.Now().UTC()
	u.UpdatedAt = &now
	return nil
}

// MemoryRefreshTokenStore is a mutex-guarded RefreshTokenStore. Rotate holds
// the lock across revoke and insert, giving the same single-winner outcome
// as the postgres row lock.
type MemoryRefreshTokenStore struct {
	mu     sync.Mutex
	byID   map[string]*models.RefreshToken
	byHash map[string]string
	now    func() time.Time
}

func NewMemoryRefreshTokenStore() *MemoryRefreshTokenStore {
	return &MemoryRefreshTokenStore{
		byID:   make(map[string]*models.RefreshToken),
		byHash: make(map[string]string),
		now:    time.Now,
	}
}

// SetClock overrides the clock used for expiry checks.
func (s *MemoryRefreshTokenStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryRefreshTokenStore) Create(_ context.Context, token *models.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(token)
}

func (s *MemoryRefreshTokenStore) insertLocked(token *models.RefreshToken) error {
	if _, exists := s.byHash[token.TokenHash]; exists {
		return ErrDuplicateHash
	}
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	token.CreatedAt = s.now().UTC()

	cp := *token
	s.byID[token.ID] = &cp
	s.byHash[token.TokenHash] = token.ID
	return nil
}

func (s *MemoryRefreshTokenStore) GetByHash(_ context.Context, tokenHash string) (*models.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byHash[tokenHash]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.byID[id]
	return &cp, nil
}

func (s *MemoryRefreshTokenStore) Revoke(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.byID[id]; ok {
		s.revokeLocked(t)
	}
	return nil
}

func (s *MemoryRefreshTokenStore) RevokeFamily(_ context.Context, familyID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, t := range s.byID {
		if t.FamilyID == familyID && s.revokeLocked(t) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryRefreshTokenStore) RevokeAllForUser(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var n int64
	for _, t := range s.byID {
		if t.UserID == userID && t.IsLive(now) && s.revokeLocked(t) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryRefreshTokenStore) Rotate(_ context.Context, oldID string, next *models.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.byID[oldID]
	if !ok || old.Revoked {
		return ErrAlreadyRevoked
	}
	if _, exists := s.byHash[next.TokenHash]; exists {
		return ErrDuplicateHash
	}

	s.revokeLocked(old)
	return s.insertLocked(next)
}

func (s *MemoryRefreshTokenStore) ListActiveForUser(_ context.Context, userID string) ([]*models.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var out []*models.RefreshToken
	for _, t := range s.byID {
		if t.UserID == userID && t.IsLive(now) {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryRefreshTokenStore) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, t := range s.byID {
		if t.ExpiresAt.Before(before) {
			delete(s.byHash, t.TokenHash)
			delete(s.byID, id)
			n++
		}
	}
	return n, nil
}

// Family returns copies of every record in familyID, oldest first.
func (s *MemoryRefreshTokenStore) Family(familyID string) []*models.RefreshToken {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.RefreshToken
	for _, t := range s.byID {
		if t.FamilyID == familyID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Expire moves a token's expiry into the past.
func (s *MemoryRefreshTokenStore) Expire(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.byID[id]; ok {
		t.ExpiresAt = s.now().Add(-time.Second)
	}
}

func (s *MemoryRefreshTokenStore) revokeLocked(t *models.RefreshToken) bool {
	if t.Revoked {
		return false
	}
	now := s.now().UTC()
	t.Revoked = true
	t.RevokedAt = &now
	return true
}

type memoryTransactor struct{}

// NewMemoryTransactor returns a Transactor for the memory stores. Each memory
// call is atomic on its own, so fn simply runs inline.
func NewMemoryTransactor() models.Transactor {
	return memoryTransactor{}
}

func (memoryTransactor) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

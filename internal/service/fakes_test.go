package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sakif/student-crm/internal/apperror"
	"github.com/sakif/student-crm/internal/auth"
	"github.com/sakif/student-crm/internal/email"
	"github.com/sakif/student-crm/internal/model"
	"github.com/sakif/student-crm/internal/repository"
	"github.com/sakif/student-crm/internal/storage"
)

// =========================================================================
// FAKES AND HELPERS
// =========================================================================

// fakeUserRepo is an in-memory repository.UserRepository. Stored users are
// copied in and out so the service cannot mutate them behind the fake's
// back.
type fakeUserRepo struct {
	mu     sync.Mutex
	users  map[string]*model.User
	nextID int

	createErr error
	getErr    error
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*model.User)}
}

func (f *fakeUserRepo) Create(_ context.Context, user *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	user.Email = strings.ToLower(user.Email)
	for _, u := range f.users {
		if u.Email == user.Email {
			return repository.ErrDuplicateEmail
		}
	}
	f.nextID++
	user.ID = fmt.Sprintf("user-%d", f.nextID)
	if user.Role == "" {
		user.Role = model.RoleUser
	}
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	stored := *user
	f.users[user.ID] = &stored
	return nil
}

func (f *fakeUserRepo) GetByID(_ context.Context, id string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	out := *u
	return &out, nil
}

func (f *fakeUserRepo) GetByEmail(_ context.Context, addr string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	addr = strings.ToLower(strings.TrimSpace(addr))
	for _, u := range f.users {
		if u.Email == addr {
			out := *u
			return &out, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (f *fakeUserRepo) List(_ context.Context) ([]model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.User, 0, len(f.users))
	for _, u := range f.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (f *fakeUserRepo) update(id string, fn func(u *model.User)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	fn(u)
	return nil
}

func (f *fakeUserRepo) LinkGoogle(_ context.Context, id, googleID string, image *string) error {
	return f.update(id, func(u *model.User) {
		u.GoogleID = &googleID
		if image != nil {
			u.Image = image
		}
	})
}

func (f *fakeUserRepo) MarkVerified(_ context.Context, id string, at time.Time) error {
	return f.update(id, func(u *model.User) { u.EmailVerified = &at })
}

func (f *fakeUserRepo) SetResetOTP(_ context.Context, id, otp string, expiry time.Time) error {
	return f.update(id, func(u *model.User) {
		u.ResetOTP = &otp
		u.ResetOTPExpiry = &expiry
	})
}

func (f *fakeUserRepo) ConsumeResetOTP(_ context.Context, id, otp, grant string, now, grantExpiry time.Time) (bool, error) {
	consumed := false
	err := f.update(id, func(u *model.User) {
		if u.ResetOTP == nil || *u.ResetOTP != otp || u.ResetOTPExpiry == nil || u.ResetOTPExpiry.Before(now) {
			return
		}
		u.ResetOTP, u.ResetOTPExpiry = nil, nil
		u.ResetToken, u.ResetTokenExpiry = &grant, &grantExpiry
		consumed = true
	})
	return consumed, err
}

func (f *fakeUserRepo) ConsumeResetToken(_ context.Context, id, token, passwordHash string, now time.Time) (bool, error) {
	consumed := false
	err := f.update(id, func(u *model.User) {
		if u.ResetToken == nil || *u.ResetToken != token || u.ResetTokenExpiry == nil || u.ResetTokenExpiry.Before(now) {
			return
		}
		u.Password = &passwordHash
		u.ResetOTP, u.ResetOTPExpiry = nil, nil
		u.ResetToken, u.ResetTokenExpiry = nil, nil
		consumed = true
	})
	return consumed, err
}

// stored returns the fake's own copy, for assertions.
func (f *fakeUserRepo) stored(t *testing.T, id string) *model.User {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		t.Fatalf("user %s not stored", id)
	}
	return u
}

// fakeApplicationRepo is an in-memory repository.ApplicationRepository.
type fakeApplicationRepo struct {
	mu     sync.Mutex
	apps   map[string]*model.Application
	order  []string
	nextID int

	createErr error
}

func newFakeApplicationRepo() *fakeApplicationRepo {
	return &fakeApplicationRepo{apps: make(map[string]*model.Application)}
}

func (f *fakeApplicationRepo) Create(_ context.Context, app *model.Application) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	for _, a := range f.apps {
		if a.Email == app.Email && a.Status.IsOpen() {
			return repository.ErrOpenApplication
		}
	}
	f.nextID++
	app.ID = fmt.Sprintf("app-%d", f.nextID)
	app.SubmittedAt = time.Now()
	app.UpdatedAt = app.SubmittedAt
	for i := range app.Documents {
		app.Documents[i].ID = fmt.Sprintf("%s-doc-%d", app.ID, i+1)
		app.Documents[i].ApplicationID = app.ID
	}
	stored := *app
	f.apps[app.ID] = &stored
	f.order = append(f.order, app.ID)
	return nil
}

func (f *fakeApplicationRepo) GetByID(_ context.Context, id string) (*model.Application, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.apps[id]
	if !ok {
		return nil, repository.ErrApplicationNotFound
	}
	out := *a
	return &out, nil
}

func (f *fakeApplicationRepo) ListByEmail(_ context.Context, addr string) ([]model.Application, error) {
	addr = strings.ToLower(strings.TrimSpace(addr))
	return f.collect(func(a *model.Application) bool { return a.Email == addr }), nil
}

func (f *fakeApplicationRepo) List(_ context.Context, filter repository.ApplicationFilter) ([]model.Application, error) {
	return f.collect(func(a *model.Application) bool {
		return filter.Status == "" || a.Status == filter.Status
	}), nil
}

// collect walks newest first.
func (f *fakeApplicationRepo) collect(keep func(*model.Application) bool) []model.Application {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.Application{}
	for i := len(f.order) - 1; i >= 0; i-- {
		if a := f.apps[f.order[i]]; keep(a) {
			out = append(out, *a)
		}
	}
	return out
}

func (f *fakeApplicationRepo) Decide(_ context.Context, id string, status model.ApplicationStatus, reason *string, at time.Time) (*model.Application, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.apps[id]
	if !ok {
		return nil, repository.ErrApplicationNotFound
	}
	a.Status = status
	a.DecisionReason = reason
	a.UpdatedAt = at
	out := *a
	return &out, nil
}

func (f *fakeApplicationRepo) Transition(_ context.Context, id string, from, to model.ApplicationStatus, at time.Time) (*model.Application, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.apps[id]
	if !ok {
		return nil, repository.ErrApplicationNotFound
	}
	if a.Status != from {
		return nil, apperror.ConflictMsg(fmt.Sprintf("Application is %s, expected %s", a.Status, from))
	}
	a.Status = to
	a.UpdatedAt = at
	out := *a
	return &out, nil
}

// fakeSender records every message. Set err to make delivery fail.
// fakeSender keeps delivered messages. attempts also counts the sends that
// failed with err.
type fakeSender struct {
	mu       sync.Mutex
	sent     []email.Message
	attempts int
	err      error
}

func (f *fakeSender) Send(_ context.Context, msg email.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSender) attemptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

func (f *fakeSender) messages() []email.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]email.Message(nil), f.sent...)
}

// fakeLimiter counts in memory. cooldownErr and lockErr simulate an
// unreachable Redis.
type fakeLimiter struct {
	mu          sync.Mutex
	held        map[string]bool
	failures    map[string]int64
	cooldownErr error
	lockErr     error
}

func newFakeLimiter() *fakeLimiter {
	return &fakeLimiter{held: make(map[string]bool), failures: make(map[string]int64)}
}

func (f *fakeLimiter) Cooldown(_ context.Context, key string, window time.Duration) (bool, time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cooldownErr != nil {
		return false, 0, f.cooldownErr
	}
	if f.held[key] {
		return false, window, nil
	}
	f.held[key] = true
	return true, 0, nil
}

func (f *fakeLimiter) Fail(_ context.Context, key string, max int64, window time.Duration) (bool, time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[key]++
	return f.failures[key] >= max, window, nil
}

func (f *fakeLimiter) Locked(_ context.Context, key string, max int64) (bool, time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lockErr != nil {
		return false, 0, f.lockErr
	}
	return f.failures[key] >= max, 90 * time.Second, nil
}

func (f *fakeLimiter) Reset(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.failures, key)
	return nil
}

// fakeVerifier returns identity for any credential except "bad".
type fakeVerifier struct {
	identity *auth.GoogleIdentity
}

func (f *fakeVerifier) Verify(_ context.Context, credential string) (*auth.GoogleIdentity, error) {
	if credential == "bad" {
		return nil, errors.New("token signature invalid")
	}
	return f.identity, nil
}

// fakeStore keeps objects in memory.
type fakeStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	putErr    error
	deleteErr error
	lastCtx   context.Context
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte)}
}

func (f *fakeStore) Put(ctx context.Context, key string, r io.Reader, _ int64, _ string) (*storage.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastCtx = ctx
	if f.putErr != nil {
		return nil, f.putErr
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	f.objects[key] = body
	return &storage.Object{
		Key:  key,
		Path: "applications/" + key,
		URL:  "https://files.example.com/applications/" + key,
	}, nil
}

func (f *fakeStore) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.objects, key)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestMailer(sender *fakeSender) Mailer {
	return Mailer{Composer: email.NewComposer("https://crm.example.com"), Sender: sender}
}

func newTestTokens(t *testing.T) *auth.TokenService {
	t.Helper()
	ts, err := auth.NewTokenService("test-secret-at-least-16-chars!!")
	if err != nil {
		t.Fatalf("NewTokenService() error = %v", err)
	}
	return ts
}

// seedUser stores a user with the given password ("" for a Google-only
// account). verified controls EmailVerified.
func seedUser(t *testing.T, repo *fakeUserRepo, addr, password string, verified bool) *model.User {
	t.Helper()
	name := "Test User"
	u := &model.User{Email: addr, Name: &name}
	if password != "" {
		hash, err := auth.NewPasswordServiceForTest(4).Hash(password)
		if err != nil {
			t.Fatalf("Hash() error = %v", err)
		}
		u.Password = &hash
	} else {
		gid := "google-" + addr
		u.GoogleID = &gid
	}
	if verified {
		now := time.Now()
		u.EmailVerified = &now
	}
	if err := repo.Create(context.Background(), u); err != nil {
		t.Fatalf("seed Create() error = %v", err)
	}
	return u
}

// appErr asserts err carries sentinel and returns its message.
func appErr(t *testing.T, err error, sentinel error) string {
	t.Helper()
	if err == nil {
		t.Fatalf("error = nil, want %v", sentinel)
	}
	if !errors.Is(err, sentinel) {
		t.Fatalf("error = %v, want errors.Is(%v)", err, sentinel)
	}
	var ae *apperror.AppError
	if !errors.As(err, &ae) {
		t.Fatalf("error %T is not an *apperror.AppError", err)
	}
	return ae.Message
}

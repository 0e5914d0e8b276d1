package bundb

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/student-crm/internal/apperror"
	"github.com/sakif/student-crm/internal/model"
	"github.com/sakif/student-crm/internal/repository"
)

// testClock hands out strictly increasing times so ordering by timestamp is
// deterministic.
type testClock struct {
	mu  sync.Mutex
	cur time.Time
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = c.cur.Add(time.Second)
	return c.cur
}

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	clock := &testClock{cur: time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)}
	db.now = clock.now
	t.Cleanup(func() { db.Close() })
	return db
}

func strPtr(s string) *string { return &s }

func TestOpen_MigrationsAreIdempotent(t *testing.T) {
	db := newTestDB(t)
	if err := db.migrate(context.Background()); err != nil {
		t.Fatalf("second migrate() error = %v", err)
	}
	if err := db.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
}

func TestIsPostgres(t *testing.T) {
	assert.True(t, isPostgres("postgres://u:p@localhost/crm"))
	assert.True(t, isPostgres("postgresql://u:p@localhost/crm"))
	assert.False(t, isPostgres("file:data/crm.db"))
	assert.False(t, isPostgres(":memory:"))
}

// =========================================================================
// USERS
// =========================================================================

func createTestUser(t *testing.T, users *UserRepo, email string) *model.User {
	t.Helper()
	u := &model.User{
		Email:    email,
		Password: strPtr("$2a$04$hash"),
		Name:     strPtr("Ada"),
	}
	if err := users.Create(context.Background(), u); err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}
	return u
}

func TestUserCreate(t *testing.T) {
	users := newTestDB(t).Users()

	u := &model.User{Email: "  Ada@Example.COM ", Password: strPtr("hash")}
	require.NoError(t, users.Create(context.Background(), u))

	assert.NotEmpty(t, u.ID)
	assert.Equal(t, "ada@example.com", u.Email)
	assert.Equal(t, model.RoleUser, u.Role)
	assert.False(t, u.CreatedAt.IsZero())

	got, err := users.GetByEmail(context.Background(), "ADA@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, "hash", *got.Password)
	assert.Nil(t, got.EmailVerified)
	assert.Nil(t, got.GoogleID)
}

func TestUserCreate_DuplicateEmail(t *testing.T) {
	users := newTestDB(t).Users()
	createTestUser(t, users, "ada@example.com")

	err := users.Create(context.Background(), &model.User{Email: "ADA@example.com"})
	if !errors.Is(err, apperror.ErrConflict) {
		t.Fatalf("Create() error = %v, want ErrConflict", err)
	}
	assert.Equal(t, "User with this email already exists", err.Error())
}

func TestUserCreate_DuplicateGoogleID(t *testing.T) {
	users := newTestDB(t).Users()
	ctx := context.Background()

	require.NoError(t, users.Create(ctx, &model.User{Email: "a@example.com", GoogleID: strPtr("g-1")}))
	err := users.Create(ctx, &model.User{Email: "b@example.com", GoogleID: strPtr("g-1")})
	assert.ErrorIs(t, err, apperror.ErrConflict)

	// Several users without a Google account are fine.
	require.NoError(t, users.Create(ctx, &model.User{Email: "c@example.com"}))
	require.NoError(t, users.Create(ctx, &model.User{Email: "d@example.com"}))
}

func TestUserGet_NotFound(t *testing.T) {
	users := newTestDB(t).Users()

	_, err := users.GetByID(context.Background(), "nope")
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	_, err = users.GetByEmail(context.Background(), "nope@example.com")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestUserList_NewestFirst(t *testing.T) {
	users := newTestDB(t).Users()
	first := createTestUser(t, users, "first@example.com")
	second := createTestUser(t, users, "second@example.com")

	list, err := users.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)
}

func TestUserLinkGoogle(t *testing.T) {
	users := newTestDB(t).Users()
	ctx := context.Background()
	u := createTestUser(t, users, "ada@example.com")

	require.NoError(t, users.LinkGoogle(ctx, u.ID, "google-123", strPtr("https://img/a.png")))
	got, err := users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "google-123", *got.GoogleID)
	assert.Equal(t, "https://img/a.png", *got.Image)

	// nil image keeps the existing one
	require.NoError(t, users.LinkGoogle(ctx, u.ID, "google-123", nil))
	got, err = users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://img/a.png", *got.Image)

	assert.ErrorIs(t, users.LinkGoogle(ctx, "missing", "g", nil), apperror.ErrNotFound)
}

func TestUserMarkVerified(t *testing.T) {
	users := newTestDB(t).Users()
	ctx := context.Background()
	u := createTestUser(t, users, "ada@example.com")

	at := time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC)
	require.NoError(t, users.MarkVerified(ctx, u.ID, at))

	got, err := users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, got.EmailVerified)
	assert.True(t, at.Equal(*got.EmailVerified))
}

func TestUserResetFlow(t *testing.T) {
	users := newTestDB(t).Users()
	ctx := context.Background()
	u := createTestUser(t, users, "ada@example.com")
	expiry := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	now := expiry.Add(-5 * time.Minute)

	require.NoError(t, users.SetResetOTP(ctx, u.ID, "123456", expiry))
	got, err := users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "123456", *got.ResetOTP)
	assert.True(t, expiry.Equal(*got.ResetOTPExpiry))

	ok, err := users.ConsumeResetOTP(ctx, u.ID, "000000", "grant", now, expiry)
	require.NoError(t, err)
	assert.False(t, ok, "wrong code must not be consumed")

	ok, err = users.ConsumeResetOTP(ctx, u.ID, "123456", "grant-1", now, expiry)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = users.ConsumeResetOTP(ctx, u.ID, "123456", "grant-2", now, expiry)
	require.NoError(t, err)
	assert.False(t, ok, "a code is single use")

	got, err = users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ResetOTP)
	assert.Nil(t, got.ResetOTPExpiry)
	assert.Equal(t, "grant-1", *got.ResetToken)

	ok, err = users.ConsumeResetToken(ctx, u.ID, "wrong", "newhash", now)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = users.ConsumeResetToken(ctx, u.ID, "grant-1", "newhash", now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = users.ConsumeResetToken(ctx, u.ID, "grant-1", "otherhash", now)
	require.NoError(t, err)
	assert.False(t, ok, "a grant is single use")

	got, err = users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "newhash", *got.Password)
	assert.Nil(t, got.ResetToken)
	assert.Nil(t, got.ResetTokenExpiry)
}

// Expiry is enforced by the update itself, so a code or grant that lapses
// after the service read it is still refused.
func TestUserReset_ExpiredCredentialsAreNotConsumed(t *testing.T) {
	users := newTestDB(t).Users()
	ctx := context.Background()
	u := createTestUser(t, users, "ada@example.com")
	expiry := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, users.SetResetOTP(ctx, u.ID, "123456", expiry))

	ok, err := users.ConsumeResetOTP(ctx, u.ID, "123456", "grant", expiry.Add(time.Second), expiry.Add(5*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "an expired code must not be consumed")

	got, err := users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ResetOTP)
	assert.Nil(t, got.ResetToken)

	// Valid at the expiry instant.
	ok, err = users.ConsumeResetOTP(ctx, u.ID, "123456", "grant", expiry, expiry.Add(5*time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = users.ConsumeResetToken(ctx, u.ID, "grant", "newhash", expiry.Add(6*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "an expired grant must not be consumed")

	got, err = users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "newhash", *got.Password)
	assert.Equal(t, "grant", *got.ResetToken)
}

func TestUserSetResetOTP_ReplacesPending(t *testing.T) {
	users := newTestDB(t).Users()
	ctx := context.Background()
	u := createTestUser(t, users, "ada@example.com")
	now := time.Now()
	expiry := now.Add(10 * time.Minute)

	require.NoError(t, users.SetResetOTP(ctx, u.ID, "111111", expiry))
	require.NoError(t, users.SetResetOTP(ctx, u.ID, "222222", expiry))

	ok, err := users.ConsumeResetOTP(ctx, u.ID, "111111", "g", now, expiry)
	require.NoError(t, err)
	assert.False(t, ok, "the replaced code is no longer valid")

	assert.ErrorIs(t, users.SetResetOTP(ctx, "missing", "1", expiry), apperror.ErrNotFound)
}

// =========================================================================
// APPLICATIONS
// =========================================================================

func testApplication(email string) *model.Application {
	return &model.Application{
		FirstName:          "Ada",
		LastName:           "Lovelace",
		Email:              email,
		Phone:              "+441234567890",
		DateOfBirth:        "1990-12-10",
		Nationality:        "British",
		HomeAddress:        "12 St James's Square, London",
		University:         "University of London",
		Course:             "Mathematics",
		CourseLevel:        "Undergraduate",
		PreferredIntake:    "September 2025",
		PreviousEducation:  "A-levels in Mathematics and Physics",
		EnglishProficiency: "Native",
		EnglishScore:       strPtr("9.0"),
		EmergencyContact:   "Charles Babbage",
		EmergencyPhone:     "+449876543210",
		Documents: []model.ApplicationDocument{
			{Type: model.DocPassport, FileName: "passport.pdf", FileURL: "https://files/p.pdf", FileSize: 2048, MimeType: "application/pdf"},
			{Type: model.DocTranscripts, FileName: "t.pdf", FileURL: "https://files/t.pdf", FileSize: 4096, MimeType: "application/pdf"},
		},
	}
}

func TestApplicationCreateAndGet(t *testing.T) {
	apps := newTestDB(t).Applications()
	ctx := context.Background()

	app := testApplication("Ada@Example.com")
	require.NoError(t, apps.Create(ctx, app))
	assert.NotEmpty(t, app.ID)
	assert.Equal(t, model.StatusPending, app.Status)
	assert.Equal(t, "ada@example.com", app.Email)

	got, err := apps.GetByID(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, "Lovelace", got.LastName)
	assert.Equal(t, "9.0", *got.EnglishScore)
	assert.Nil(t, got.Notes)
	require.Len(t, got.Documents, 2)
	for _, d := range got.Documents {
		assert.Equal(t, app.ID, d.ApplicationID)
		assert.NotEmpty(t, d.ID)
	}
}

func TestApplicationDocumentsNewestFirst(t *testing.T) {
	apps := newTestDB(t).Applications()
	ctx := context.Background()

	app := testApplication("ada@example.com")
	app.Documents[0].UploadedAt = time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)
	app.Documents[1].UploadedAt = time.Date(2025, 1, 1, 8, 30, 0, 0, time.UTC)
	require.NoError(t, apps.Create(ctx, app))

	got, err := apps.GetByID(ctx, app.ID)
	require.NoError(t, err)
	require.Len(t, got.Documents, 2)
	assert.Equal(t, "t.pdf", got.Documents[0].FileName)
	assert.Equal(t, "passport.pdf", got.Documents[1].FileName)
}

func TestApplicationCreate_NoDocuments(t *testing.T) {
	apps := newTestDB(t).Applications()
	app := testApplication("ada@example.com")
	app.Documents = nil

	require.NoError(t, apps.Create(context.Background(), app))
	got, err := apps.GetByID(context.Background(), app.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Documents)
}

func TestApplicationCreate_OpenDuplicate(t *testing.T) {
	db := newTestDB(t)
	apps := db.Applications()
	ctx := context.Background()

	first := testApplication("ada@example.com")
	require.NoError(t, apps.Create(ctx, first))

	err := apps.Create(ctx, testApplication("ADA@example.com"))
	if !errors.Is(err, repository.ErrOpenApplication) {
		t.Fatalf("Create() error = %v, want ErrOpenApplication", err)
	}

	list, err := apps.ListByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Len(t, list, 1, "the rejected submission must not leave a row")

	// Still blocked while under review.
	_, err = apps.Transition(ctx, first.ID, model.StatusPending, model.StatusUnderReview, time.Now())
	require.NoError(t, err)
	assert.ErrorIs(t, apps.Create(ctx, testApplication("ada@example.com")), repository.ErrOpenApplication)

	// A decided application frees the email.
	_, err = apps.Decide(ctx, first.ID, model.StatusRejected, nil, time.Now())
	require.NoError(t, err)
	assert.NoError(t, apps.Create(ctx, testApplication("ada@example.com")))
}

func TestApplicationUniqueIndexBacksTheCheck(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Applications().Create(ctx, testApplication("ada@example.com")))

	// Bypass the transactional check and insert directly.
	row := applicationToRow(testApplication("ada@example.com"))
	row.ID = "direct"
	row.Email = "ada@example.com"
	row.Status = string(model.StatusPending)
	row.SubmittedAt = time.Now().UTC()
	row.UpdatedAt = row.SubmittedAt

	_, err := db.bun.NewInsert().Model(row).Exec(ctx)
	require.Error(t, err)
	assert.True(t, isUniqueViolation(err), "got %v", err)
}

func TestApplicationListByEmail_NewestFirst(t *testing.T) {
	apps := newTestDB(t).Applications()
	ctx := context.Background()

	older := testApplication("ada@example.com")
	older.Status = model.StatusRejected
	require.NoError(t, apps.Create(ctx, older))
	newer := testApplication("ada@example.com")
	require.NoError(t, apps.Create(ctx, newer))
	require.NoError(t, apps.Create(ctx, testApplication("bob@example.com")))

	list, err := apps.ListByEmail(ctx, "ADA@example.com")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer.ID, list[0].ID)
	assert.Equal(t, older.ID, list[1].ID)
	assert.Len(t, list[0].Documents, 2)

	none, err := apps.ListByEmail(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestApplicationList_StatusFilter(t *testing.T) {
	apps := newTestDB(t).Applications()
	ctx := context.Background()

	a := testApplication("a@example.com")
	b := testApplication("b@example.com")
	require.NoError(t, apps.Create(ctx, a))
	require.NoError(t, apps.Create(ctx, b))
	_, err := apps.Decide(ctx, a.ID, model.StatusApproved, strPtr("Strong profile"), time.Now())
	require.NoError(t, err)

	all, err := apps.List(ctx, repository.ApplicationFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, b.ID, all[0].ID)

	approved, err := apps.List(ctx, repository.ApplicationFilter{Status: model.StatusApproved})
	require.NoError(t, err)
	require.Len(t, approved, 1)
	assert.Equal(t, a.ID, approved[0].ID)
	assert.Equal(t, "Strong profile", *approved[0].DecisionReason)
}

func TestApplicationDecide_NotFound(t *testing.T) {
	apps := newTestDB(t).Applications()

	_, err := apps.Decide(context.Background(), "missing", model.StatusApproved, nil, time.Now())
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	assert.Equal(t, "Application not found", err.Error())
}

func TestApplicationTransition_WrongStatus(t *testing.T) {
	apps := newTestDB(t).Applications()
	ctx := context.Background()

	app := testApplication("ada@example.com")
	require.NoError(t, apps.Create(ctx, app))
	_, err := apps.Decide(ctx, app.ID, model.StatusWaitlisted, nil, time.Now())
	require.NoError(t, err)

	_, err = apps.Transition(ctx, app.ID, model.StatusPending, model.StatusUnderReview, time.Now())
	assert.ErrorIs(t, err, apperror.ErrConflict)

	_, err = apps.Transition(ctx, "missing", model.StatusPending, model.StatusUnderReview, time.Now())
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

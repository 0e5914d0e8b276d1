package bundb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/uptrace/bun"

	"github.com/sakif/student-crm/internal/model"
	"github.com/sakif/student-crm/internal/repository"
)

var _ repository.UserRepository = (*UserRepo)(nil)

type UserRepo struct {
	db  bun.IDB
	now func() time.Time
}

func (r *UserRepo) Create(ctx context.Context, user *model.User) error {
	if user.ID == "" {
		user.ID = xid.New().String()
	}
	if user.Role == "" {
		user.Role = model.RoleUser
	}
	now := dbTime(r.now())
	user.Email = normalizeEmail(user.Email)
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := r.db.NewInsert().Model(userToRow(user)).Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrDuplicateEmail
		}
		return fmt.Errorf("bundb: creating user: %w", err)
	}
	return nil
}

func (r *UserRepo) GetByID(ctx context.Context, id string) (*model.User, error) {
	return r.getOne(ctx, "id = ?", id)
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.getOne(ctx, "email = ?", normalizeEmail(email))
}

func (r *UserRepo) getOne(ctx context.Context, where string, arg interface{}) (*model.User, error) {
	row := new(userRow)
	err := r.db.NewSelect().Model(row).Where(where, arg).Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrUserNotFound
		}
		return nil, fmt.Errorf("bundb: getting user: %w", err)
	}
	return rowToUser(row), nil
}

func (r *UserRepo) List(ctx context.Context) ([]model.User, error) {
	var rows []userRow
	err := r.db.NewSelect().
		Model(&rows).
		Order("created_at DESC", "id DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("bundb: listing users: %w", err)
	}

	users := make([]model.User, 0, len(rows))
	for i := range rows {
		users = append(users, *rowToUser(&rows[i]))
	}
	return users, nil
}

// LinkGoogle keeps the current image when image is nil.
func (r *UserRepo) LinkGoogle(ctx context.Context, id, googleID string, image *string) error {
	res, err := r.db.NewUpdate().
		Model((*userRow)(nil)).
		Set("google_id = ?", googleID).
		Set("image = COALESCE(?, image)", image).
		Set("updated_at = ?", dbTime(r.now())).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrDuplicateEmail
		}
		return fmt.Errorf("bundb: linking google account: %w", err)
	}
	return r.requireOne(res)
}

func (r *UserRepo) MarkVerified(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.NewUpdate().
		Model((*userRow)(nil)).
		Set("email_verified = ?", dbTime(at)).
		Set("updated_at = ?", dbTime(r.now())).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("bundb: marking email verified: %w", err)
	}
	return r.requireOne(res)
}

func (r *UserRepo) SetResetOTP(ctx context.Context, id, otp string, expiry time.Time) error {
	res, err := r.db.NewUpdate().
		Model((*userRow)(nil)).
		Set("reset_otp = ?", otp).
		Set("reset_otp_expiry = ?", dbTime(expiry)).
		Set("updated_at = ?", dbTime(r.now())).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("bundb: storing reset code: %w", err)
	}
	return r.requireOne(res)
}

func (r *UserRepo) ConsumeResetOTP(ctx context.Context, id, otp, grant string, now, grantExpiry time.Time) (bool, error) {
	res, err := r.db.NewUpdate().
		Model((*userRow)(nil)).
		Set("reset_otp = NULL").
		Set("reset_otp_expiry = NULL").
		Set("reset_token = ?", grant).
		Set("reset_token_expiry = ?", dbTime(grantExpiry)).
		Set("updated_at = ?", dbTime(r.now())).
		Where("id = ?", id).
		Where("reset_otp = ?", otp).
		Where("reset_otp_expiry >= ?", dbTime(now)).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("bundb: consuming reset code: %w", err)
	}
	return affectedOne(res)
}

func (r *UserRepo) ConsumeResetToken(ctx context.Context, id, token, passwordHash string, now time.Time) (bool, error) {
	res, err := r.db.NewUpdate().
		Model((*userRow)(nil)).
		Set("password = ?", passwordHash).
		Set("reset_otp = NULL").
		Set("reset_otp_expiry = NULL").
		Set("reset_token = NULL").
		Set("reset_token_expiry = NULL").
		Set("updated_at = ?", dbTime(r.now())).
		Where("id = ?", id).
		Where("reset_token = ?", token).
		Where("reset_token_expiry >= ?", dbTime(now)).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("bundb: consuming reset token: %w", err)
	}
	return affectedOne(res)
}

func (r *UserRepo) requireOne(res sql.Result) error {
	ok, err := affectedOne(res)
	if err != nil {
		return fmt.Errorf("bundb: %w", err)
	}
	if !ok {
		return repository.ErrUserNotFound
	}
	return nil
}

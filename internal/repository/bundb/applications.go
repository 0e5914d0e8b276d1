package bundb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/uptrace/bun"

	"github.com/sakif/student-crm/internal/apperror"
	"github.com/sakif/student-crm/internal/model"
	"github.com/sakif/student-crm/internal/repository"
)

var _ repository.ApplicationRepository = (*ApplicationRepo)(nil)

var openStatuses = []string{string(model.StatusPending), string(model.StatusUnderReview)}

type ApplicationRepo struct {
	db  *bun.DB
	now func() time.Time
}

// Create checks for an open application and inserts the new one with its
// documents in a single transaction. A concurrent submission that slips
// past the check hits the partial unique index and gets the same error.
func (r *ApplicationRepo) Create(ctx context.Context, app *model.Application) error {
	if app.ID == "" {
		app.ID = xid.New().String()
	}
	if app.Status == "" {
		app.Status = model.StatusPending
	}
	now := dbTime(r.now())
	app.Email = normalizeEmail(app.Email)
	app.SubmittedAt = now
	app.UpdatedAt = now

	docs := make([]*documentRow, 0, len(app.Documents))
	for i := range app.Documents {
		d := &app.Documents[i]
		if d.ID == "" {
			d.ID = xid.New().String()
		}
		d.ApplicationID = app.ID
		if d.UploadedAt.IsZero() {
			d.UploadedAt = now
		}
		d.UploadedAt = dbTime(d.UploadedAt)
		docs = append(docs, documentToRow(d))
	}

	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if app.Status.IsOpen() {
			open, err := tx.NewSelect().
				Model((*applicationRow)(nil)).
				Where("email = ?", app.Email).
				Where("status IN (?)", bun.In(openStatuses)).
				Count(ctx)
			if err != nil {
				return fmt.Errorf("checking open applications: %w", err)
			}
			if open > 0 {
				return repository.ErrOpenApplication
			}
		}

		if _, err := tx.NewInsert().Model(applicationToRow(app)).Exec(ctx); err != nil {
			return err
		}
		if len(docs) > 0 {
			if _, err := tx.NewInsert().Model(&docs).Exec(ctx); err != nil {
				return fmt.Errorf("inserting documents: %w", err)
			}
		}
		return nil
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrOpenApplication), isUniqueViolation(err):
		return repository.ErrOpenApplication
	default:
		return fmt.Errorf("bundb: creating application: %w", err)
	}
}

func (r *ApplicationRepo) GetByID(ctx context.Context, id string) (*model.Application, error) {
	row := new(applicationRow)
	err := r.selectWithDocuments(row).
		Where("a.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrApplicationNotFound
		}
		return nil, fmt.Errorf("bundb: getting application: %w", err)
	}
	return rowToApplication(row), nil
}

func (r *ApplicationRepo) ListByEmail(ctx context.Context, email string) ([]model.Application, error) {
	var rows []*applicationRow
	err := r.selectWithDocuments(&rows).
		Where("a.email = ?", normalizeEmail(email)).
		Order("a.submitted_at DESC", "a.id DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("bundb: listing applications by email: %w", err)
	}
	return rowsToApplications(rows), nil
}

func (r *ApplicationRepo) List(ctx context.Context, filter repository.ApplicationFilter) ([]model.Application, error) {
	var rows []*applicationRow
	q := r.selectWithDocuments(&rows).Order("a.submitted_at DESC", "a.id DESC")
	if filter.Status != "" {
		q = q.Where("a.status = ?", string(filter.Status))
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("bundb: listing applications: %w", err)
	}
	return rowsToApplications(rows), nil
}

func (r *ApplicationRepo) Decide(ctx context.Context, id string, status model.ApplicationStatus, reason *string, at time.Time) (*model.Application, error) {
	res, err := r.db.NewUpdate().
		Model((*applicationRow)(nil)).
		Set("status = ?", string(status)).
		Set("decision_reason = ?", reason).
		Set("updated_at = ?", dbTime(at)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, repository.ErrOpenApplication
		}
		return nil, fmt.Errorf("bundb: recording decision: %w", err)
	}
	ok, err := affectedOne(res)
	if err != nil {
		return nil, fmt.Errorf("bundb: %w", err)
	}
	if !ok {
		return nil, repository.ErrApplicationNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *ApplicationRepo) Transition(ctx context.Context, id string, from, to model.ApplicationStatus, at time.Time) (*model.Application, error) {
	res, err := r.db.NewUpdate().
		Model((*applicationRow)(nil)).
		Set("status = ?", string(to)).
		Set("updated_at = ?", dbTime(at)).
		Where("id = ?", id).
		Where("status = ?", string(from)).
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("bundb: changing application status: %w", err)
	}
	ok, err := affectedOne(res)
	if err != nil {
		return nil, fmt.Errorf("bundb: %w", err)
	}

	app, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperror.ConflictMsg(fmt.Sprintf("Application is %s, expected %s", app.Status, from))
	}
	return app, nil
}

// selectWithDocuments loads documents newest first alongside each row.
func (r *ApplicationRepo) selectWithDocuments(dest interface{}) *bun.SelectQuery {
	return r.db.NewSelect().
		Model(dest).
		Relation("Documents", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("uploaded_at DESC", "id DESC")
		})
}

func rowsToApplications(rows []*applicationRow) []model.Application {
	apps := make([]model.Application, 0, len(rows))
	for _, row := range rows {
		apps = append(apps, *rowToApplication(row))
	}
	return apps
}

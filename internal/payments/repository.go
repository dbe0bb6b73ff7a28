package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrPaymentNotFound indicates no payment exists for the lookup key.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrDuplicateTrip indicates a payment already exists for the trip.
	ErrDuplicateTrip = errors.New("payment already exists for trip")
)

const paymentColumns = `id, trip_id, rider_id, tenant_id, amount, currency, status,
	psp_reference, failure_reason, retry_count, created_at, updated_at`

// Repository is the Postgres persistence layer for payments and the
// transactional outbox.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new payments repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// CreatePaymentWithOutbox inserts the payment and its initiation event in a
// single transaction. A concurrent insert for the same trip surfaces as
// ErrDuplicateTrip and must be treated as success by the caller.
func (r *Repository) CreatePaymentWithOutbox(ctx context.Context, p *Payment, subject string, payload []byte) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO payments (id, trip_id, rider_id, tenant_id, amount, currency, status, retry_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0)
		RETURNING created_at, updated_at`,
		p.ID, p.TripID, p.RiderID, p.TenantID, p.Amount, p.Currency, p.Status,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateTrip
		}
		return fmt.Errorf("failed to insert payment: %w", err)
	}

	if err := insertOutbox(ctx, tx, p.ID, p.TenantID, subject, payload); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// MarkCaptured flips the payment to CAPTURED and records the capture event,
// atomically.
func (r *Repository) MarkCaptured(ctx context.Context, paymentID uuid.UUID, pspReference, subject string, payload []byte) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var tenantID string
	err = tx.QueryRow(ctx, `
		UPDATE payments
		SET status = $2, psp_reference = $3, failure_reason = NULL, updated_at = NOW()
		WHERE id = $1
		RETURNING tenant_id`,
		paymentID, PaymentCaptured, pspReference,
	).Scan(&tenantID)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrPaymentNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to mark payment captured: %w", err)
	}

	if err := insertOutbox(ctx, tx, paymentID, tenantID, subject, payload); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// MarkFailed flips the payment to FAILED, bumps the retry counter and records
// the failure event, atomically.
func (r *Repository) MarkFailed(ctx context.Context, paymentID uuid.UUID, reason, subject string, payload []byte) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var tenantID string
	err = tx.QueryRow(ctx, `
		UPDATE payments
		SET status = $2, failure_reason = $3, retry_count = retry_count + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING tenant_id`,
		paymentID, PaymentFailed, reason,
	).Scan(&tenantID)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrPaymentNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to mark payment failed: %w", err)
	}

	if err := insertOutbox(ctx, tx, paymentID, tenantID, subject, payload); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func insertOutbox(ctx context.Context, tx pgx.Tx, paymentID uuid.UUID, tenantID, subject string, payload []byte) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO payment_outbox (id, payment_id, tenant_id, subject, payload, status, retry_count)
		VALUES ($1, $2, $3, $4, $5, $6, 0)`,
		uuid.New(), paymentID, tenantID, subject, payload, OutboxPending,
	)
	if err != nil {
		return fmt.Errorf("failed to insert outbox entry: %w", err)
	}
	return nil
}

// GetByID returns the payment with the given id.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Payment, error) {
	row := r.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
	return scanPayment(row)
}

// GetByTripID returns the payment for the trip, or (nil, nil) when none exists.
func (r *Repository) GetByTripID(ctx context.Context, tripID uuid.UUID) (*Payment, error) {
	row := r.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE trip_id = $1`, tripID)
	p, err := scanPayment(row)
	if errors.Is(err, ErrPaymentNotFound) {
		return nil, nil
	}
	return p, err
}

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	err := row.Scan(
		&p.ID, &p.TripID, &p.RiderID, &p.TenantID, &p.Amount, &p.Currency, &p.Status,
		&p.PSPReference, &p.FailureReason, &p.RetryCount, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan payment: %w", err)
	}
	return &p, nil
}

// PendingOutbox returns up to limit unpublished entries in insertion order.
func (r *Repository) PendingOutbox(ctx context.Context, limit int) ([]OutboxEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, payment_id, tenant_id, subject, payload, status, retry_count, created_at, published_at
		FROM payment_outbox
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2`,
		OutboxPending, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query outbox: %w", err)
	}
	defer rows.Close()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.ID, &e.PaymentID, &e.TenantID, &e.Subject, &e.Payload, &e.Status, &e.RetryCount, &e.CreatedAt, &e.PublishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MarkOutboxPublished stamps the entry as delivered to the broker.
func (r *Repository) MarkOutboxPublished(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `
		UPDATE payment_outbox
		SET status = $2, published_at = NOW()
		WHERE id = $1`,
		id, OutboxPublished,
	)
	if err != nil {
		return fmt.Errorf("failed to mark outbox entry published: %w", err)
	}
	return nil
}

// BumpOutboxRetry increments the retry counter and parks the entry as FAILED
// once maxRetries is reached.
func (r *Repository) BumpOutboxRetry(ctx context.Context, id uuid.UUID, maxRetries int) error {
	_, err := r.db.Exec(ctx, `
		UPDATE payment_outbox
		SET retry_count = retry_count + 1,
		    status = CASE WHEN retry_count + 1 >= $2 THEN 'FAILED' ELSE status END
		WHERE id = $1`,
		id, maxRetries,
	)
	if err != nil {
		return fmt.Errorf("failed to bump outbox retry: %w", err)
	}
	return nil
}

// FailedPayments returns FAILED payments still under the retry ceiling,
// oldest first.
func (r *Repository) FailedPayments(ctx context.Context, maxRetries, limit int) ([]Payment, error) {
	return r.queryPayments(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE status = $1 AND retry_count < $2
		ORDER BY updated_at ASC
		LIMIT $3`,
		PaymentFailed, maxRetries, limit,
	)
}

// StalePending returns PENDING payments untouched for longer than threshold.
func (r *Repository) StalePending(ctx context.Context, threshold time.Duration, limit int) ([]Payment, error) {
	return r.queryPayments(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE status = $1 AND updated_at <= NOW() - make_interval(secs => $2)
		ORDER BY updated_at ASC
		LIMIT $3`,
		PaymentPending, threshold.Seconds(), limit,
	)
}

func (r *Repository) queryPayments(ctx context.Context, query string, args ...interface{}) ([]Payment, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var out []Payment
	for rows.Next() {
		var p Payment
		err := rows.Scan(
			&p.ID, &p.TripID, &p.RiderID, &p.TenantID, &p.Amount, &p.Currency, &p.Status,
			&p.PSPReference, &p.FailureReason, &p.RetryCount, &p.CreatedAt, &p.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"echopush/internal/domain"
	"echopush/internal/store"
)

type Store struct {
	DB *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

func (s *Store) InsertEcho(ctx context.Context, in store.EchoInsert) error {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO echoes (id, user_id, deliver_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$4)
	`, in.ID, in.UserID, in.DeliverAt, in.Now)
	if err != nil {
		return err
	}
	for _, p := range in.Parts {
		_, err = tx.Exec(ctx, `
			INSERT INTO echo_parts (id, echo_id, type, content, order_index, created_at)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, p.ID, in.ID, p.Type, p.Content, p.OrderIndex, in.Now)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// DeleteEcho removes the echo and its parts. Returns false when no echo with
// that id belongs to the user.
func (s *Store) DeleteEcho(ctx context.Context, echoID, userID string) (bool, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `DELETE FROM echo_parts WHERE echo_id=$1`, echoID)
	if err != nil {
		return false, err
	}
	ct, err := tx.Exec(ctx, `DELETE FROM echoes WHERE id=$1 AND user_id=$2`, echoID, userID)
	if err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (s *Store) GetEchoWithParts(ctx context.Context, echoID string) (domain.Echo, error) {
	var e domain.Echo
	row := s.DB.QueryRow(ctx, `
		SELECT id, user_id, deliver_at, created_at FROM echoes WHERE id=$1
	`, echoID)
	if err := row.Scan(&e.ID, &e.UserID, &e.DeliverAt, &e.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Echo{}, domain.ErrEchoNotFound
		}
		return domain.Echo{}, fmt.Errorf("get echo %s: %w", echoID, err)
	}

	rows, err := s.DB.Query(ctx, `
		SELECT id, type, content, order_index
		FROM echo_parts WHERE echo_id=$1
		ORDER BY order_index ASC, id ASC
	`, echoID)
	if err != nil {
		return domain.Echo{}, fmt.Errorf("get echo parts %s: %w", echoID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.EchoPart
		if err := rows.Scan(&p.ID, &p.Type, &p.Content, &p.OrderIndex); err != nil {
			return domain.Echo{}, err
		}
		e.Parts = append(e.Parts, p)
	}
	if err := rows.Err(); err != nil {
		return domain.Echo{}, err
	}
	return e, nil
}

func (s *Store) ListEchoes(ctx context.Context, userID string) ([]store.EchoSummary, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT e.id, e.user_id, e.deliver_at, e.created_at,
		       (SELECT COUNT(*) FROM echo_parts p WHERE p.echo_id = e.id)
		FROM echoes e WHERE e.user_id=$1
		ORDER BY e.deliver_at ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.EchoSummary
	for rows.Next() {
		var es store.EchoSummary
		if err := rows.Scan(&es.ID, &es.UserID, &es.DeliverAt, &es.CreatedAt, &es.PartsCount); err != nil {
			return nil, err
		}
		out = append(out, es)
	}
	return out, rows.Err()
}

func (s *Store) GetActiveDevices(ctx context.Context, userID string) ([]domain.DeviceRegistration, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT user_id, fcm_token, COALESCE(device_id,''), device_type, is_active
		FROM user_tokens WHERE user_id=$1 AND is_active=true
		ORDER BY created_at ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DeviceRegistration
	for rows.Next() {
		var d domain.DeviceRegistration
		if err := rows.Scan(&d.UserID, &d.DeviceToken, &d.DeviceID, &d.DeviceType, &d.IsActive); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Deactivate is key-scoped to one token; concurrent deactivation of different
// tokens for the same user does not conflict.
func (s *Store) Deactivate(ctx context.Context, deviceToken string) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE user_tokens SET is_active=false, updated_at=$2 WHERE fcm_token=$1
	`, deviceToken, time.Now().UTC())
	return err
}

// UpsertDevice registers a device token. Re-registering a known token
// reactivates and updates it rather than inserting a duplicate row.
func (s *Store) UpsertDevice(ctx context.Context, in store.DeviceUpsert) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO user_tokens (user_id, fcm_token, device_id, device_type, is_active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,true,$5,$5)
		ON CONFLICT (fcm_token)
		DO UPDATE SET user_id=$1, device_id=$3, device_type=$4, is_active=true, updated_at=$5
	`, in.UserID, in.DeviceToken, nullIfEmpty(in.DeviceID), in.DeviceType, in.Now)
	return err
}

func (s *Store) AppendAuditRecord(ctx context.Context, rec store.AuditRecord) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO notification_logs (echo_id, user_id, notification_type, status, tokens_targeted, tokens_successful, error_details, sent_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, rec.EchoID, rec.UserID, rec.NotificationType, rec.Status,
		rec.TokensTargeted, rec.TokensSuccessful, nullIfEmpty(rec.ErrorDetails), rec.SentAt)
	return err
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

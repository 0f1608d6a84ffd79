package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"call-platform/pkg/utils"

	"github.com/google/uuid"
)

// PGStore is the Postgres Store implementation.
//
// NOTE: This repository assumes the following tables exist:
// - accounts
// - active_calls (call_id PRIMARY KEY, direction)
// - usage_records (UNIQUE (call_id))
// - notifications (append-only)
// - campaigns (contacts/call_results as JSONB)
//
// Concurrency strategy: admission and finalize lock the account row
// (SELECT ... FOR UPDATE) to serialize count-then-insert and
// check-then-deduct against racing webhooks and sweeps.
type PGStore struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db, clock: time.Now}
}

const accountColumns = `
id, role, parent_id, phone_number, connect_target, balance_minutes, rate_per_minute,
subscription_expires_at, line_limit, low_balance_threshold,
last_low_balance_alert_at, last_expiry_alert_at, created_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (Account, error) {
	var a Account
	var parentID, phone, target sql.NullString
	var lowAt, expAt sql.NullTime
	err := row.Scan(
		&a.ID,
		&a.Role,
		&parentID,
		&phone,
		&target,
		&a.BalanceMinutes,
		&a.RatePerMinute,
		&a.SubscriptionExpiresAt,
		&a.LineLimit,
		&a.LowBalanceThreshold,
		&lowAt,
		&expAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, err
	}
	a.ParentID = parentID.String
	a.PhoneNumber = phone.String
	a.ConnectTarget = target.String
	if lowAt.Valid {
		t := lowAt.Time
		a.LastLowBalanceAlertAt = &t
	}
	if expAt.Valid {
		t := expAt.Time
		a.LastExpiryAlertAt = &t
	}
	return a, nil
}

func (s *PGStore) GetAccount(ctx context.Context, id string) (Account, error) {
	const q = `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccount(s.db.QueryRowContext(ctx, q, id))
}

func (s *PGStore) FindAccountByNumber(ctx context.Context, number string) (Account, error) {
	const q = `SELECT ` + accountColumns + ` FROM accounts WHERE phone_number = $1`
	return scanAccount(s.db.QueryRowContext(ctx, q, number))
}

func (s *PGStore) BillableAccount(ctx context.Context, id string) (Account, error) {
	a, err := s.GetAccount(ctx, id)
	if err != nil {
		return Account{}, err
	}
	if a.BillingExempt() || a.ParentID == "" {
		return a, nil
	}
	return s.GetAccount(ctx, a.ParentID)
}

func (s *PGStore) ListAccounts(ctx context.Context) ([]Account, error) {
	const q = `SELECT ` + accountColumns + ` FROM accounts ORDER BY id`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PGStore) AdjustBalance(ctx context.Context, id string, delta float64) (float64, error) {
	const q = `
UPDATE accounts
SET balance_minutes = balance_minutes + $2, updated_at = $3
WHERE id = $1
RETURNING balance_minutes
`
	var bal float64
	err := s.db.QueryRowContext(ctx, q, id, delta, s.clock().UTC()).Scan(&bal)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return bal, err
}

func (s *PGStore) StampAlert(ctx context.Context, accountID string, kind AlertKind, at time.Time) error {
	var col string
	switch kind {
	case AlertLowBalance:
		col = "last_low_balance_alert_at"
	case AlertExpiry:
		col = "last_expiry_alert_at"
	default:
		return ErrInvalidArgument
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET `+col+` = $2, updated_at = $3 WHERE id = $1`,
		accountID, at, s.clock().UTC())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) CountActiveCalls(ctx context.Context, accountID string) (int, error) {
	const q = `SELECT COUNT(*) FROM active_calls WHERE account_id = $1`
	var n int
	err := s.db.QueryRowContext(ctx, q, accountID).Scan(&n)
	return n, err
}

func lockAccount(ctx context.Context, tx *sql.Tx, id string) error {
	// Serialize concurrent admission/finalize per account.
	const q = `SELECT id FROM accounts WHERE id = $1 FOR UPDATE`
	var got string
	if err := tx.QueryRowContext(ctx, q, id).Scan(&got); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

func (s *PGStore) AdmitActiveCall(ctx context.Context, callID, accountID string, limit int, startedAt time.Time) (bool, error) {
	if callID == "" || accountID == "" || limit <= 0 {
		return false, ErrInvalidArgument
	}

	admitted := false
	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		if err := lockAccount(ctx, tx, accountID); err != nil {
			return err
		}

		var existing int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM active_calls WHERE call_id = $1`, callID).Scan(&existing); err != nil {
			return err
		}
		if existing > 0 {
			// Duplicate webhook delivery; already admitted.
			admitted = true
			return nil
		}

		var count int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM active_calls WHERE account_id = $1`, accountID).Scan(&count); err != nil {
			return err
		}
		if count >= limit {
			return nil
		}

		_, err := tx.ExecContext(ctx, `
INSERT INTO active_calls (call_id, account_id, direction, started_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (call_id) DO NOTHING
`, callID, accountID, DirectionInbound, startedAt)
		if err != nil {
			return err
		}
		admitted = true
		return nil
	})
	return admitted, err
}

func (s *PGStore) InsertActiveCall(ctx context.Context, callID, accountID string, direction CallDirection, startedAt time.Time) error {
	if callID == "" || accountID == "" {
		return ErrInvalidArgument
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO active_calls (call_id, account_id, direction, started_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (call_id) DO NOTHING
`, callID, accountID, direction, startedAt)
	return err
}

func (s *PGStore) DeleteActiveCall(ctx context.Context, callID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM active_calls WHERE call_id = $1`, callID)
	return err
}

func (s *PGStore) ListActiveCalls(ctx context.Context) ([]ActiveCall, error) {
	const q = `SELECT call_id, account_id, direction, started_at FROM active_calls ORDER BY started_at`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ActiveCall
	for rows.Next() {
		var c ActiveCall
		if err := rows.Scan(&c.CallID, &c.AccountID, &c.Direction, &c.StartedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PGStore) FinalizeCall(ctx context.Context, rec UsageRecord) (bool, float64, error) {
	if rec.CallID == "" || rec.AccountID == "" {
		return false, 0, ErrInvalidArgument
	}

	now := s.clock().UTC()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}

	billed := false
	var balance float64
	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		if err := lockAccount(ctx, tx, rec.AccountID); err != nil {
			return err
		}

		// The active call slot is released regardless of billing outcome.
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM active_calls WHERE call_id = $1`, rec.CallID); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
INSERT INTO usage_records (
  id, account_id, call_id, minutes_billed, cost_minutes, direction,
  from_number, to_number, terminal_status, recording_url, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (call_id) DO NOTHING
`,
			rec.ID, rec.AccountID, rec.CallID, rec.MinutesBilled, rec.CostMinutes,
			rec.Direction, rec.FromNumber, rec.ToNumber, rec.TerminalStatus,
			rec.RecordingURL, rec.CreatedAt)
		if err != nil {
			return err
		}
		inserted, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if inserted == 0 {
			// Already metered; skip the deduction entirely.
			return tx.QueryRowContext(ctx,
				`SELECT balance_minutes FROM accounts WHERE id = $1`, rec.AccountID).Scan(&balance)
		}

		billed = true
		return tx.QueryRowContext(ctx, `
UPDATE accounts
SET balance_minutes = balance_minutes - $2, updated_at = $3
WHERE id = $1
RETURNING balance_minutes
`, rec.AccountID, rec.CostMinutes, now).Scan(&balance)
	})
	return billed, balance, err
}

func (s *PGStore) ListUsage(ctx context.Context, accountID string, from, to time.Time) ([]UsageRecord, error) {
	const q = `
SELECT id, account_id, call_id, minutes_billed, cost_minutes, direction,
       from_number, to_number, terminal_status, COALESCE(recording_url, ''), created_at
FROM usage_records
WHERE account_id = $1 AND created_at >= $2 AND created_at <= $3
ORDER BY created_at
`
	rows, err := s.db.QueryContext(ctx, q, accountID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UsageRecord
	for rows.Next() {
		var r UsageRecord
		if err := rows.Scan(
			&r.ID, &r.AccountID, &r.CallID, &r.MinutesBilled, &r.CostMinutes,
			&r.Direction, &r.FromNumber, &r.ToNumber, &r.TerminalStatus,
			&r.RecordingURL, &r.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PGStore) AppendNotification(ctx context.Context, n Notification) error {
	if n.AccountID == "" || n.Type == "" {
		return ErrInvalidArgument
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO notifications (id, account_id, type, message, created_at)
VALUES ($1,$2,$3,$4,$5)
`, n.ID, n.AccountID, n.Type, n.Message, n.CreatedAt)
	return err
}

func (s *PGStore) ListNotifications(ctx context.Context, accountID string) ([]Notification, error) {
	const q = `
SELECT id, account_id, type, message, created_at
FROM notifications
WHERE account_id = $1
ORDER BY created_at DESC
`
	rows, err := s.db.QueryContext(ctx, q, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.AccountID, &n.Type, &n.Message, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *PGStore) UpsertCampaign(ctx context.Context, c Campaign) error {
	if c.ID == "" || c.AccountID == "" {
		return ErrInvalidArgument
	}
	contacts, err := json.Marshal(c.Contacts)
	if err != nil {
		return err
	}
	results, err := json.Marshal(c.CallResults)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO campaigns (
  id, account_id, name, status, contacts, call_results,
  total_contacts, completed_calls, failed_calls,
  concurrent_lines, call_interval_seconds, max_retries, retry_interval_minutes,
  daily_start, daily_end, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
ON CONFLICT (id)
DO UPDATE SET status = EXCLUDED.status,
              call_results = EXCLUDED.call_results,
              completed_calls = EXCLUDED.completed_calls,
              failed_calls = EXCLUDED.failed_calls,
              updated_at = EXCLUDED.updated_at
`,
		c.ID, c.AccountID, c.Name, c.Status, contacts, results,
		c.TotalContacts, c.CompletedCalls, c.FailedCalls,
		c.ConcurrentLines, c.CallIntervalSeconds, c.MaxRetries, c.RetryIntervalMinutes,
		c.DailyStart, c.DailyEnd, c.CreatedAt, c.UpdatedAt)
	return err
}

func (s *PGStore) GetCampaign(ctx context.Context, id string) (Campaign, error) {
	const q = `
SELECT id, account_id, name, status, contacts, call_results,
       total_contacts, completed_calls, failed_calls,
       concurrent_lines, call_interval_seconds, max_retries, retry_interval_minutes,
       COALESCE(daily_start, ''), COALESCE(daily_end, ''), created_at, updated_at
FROM campaigns
WHERE id = $1
`
	return scanCampaign(s.db.QueryRowContext(ctx, q, id))
}

func scanCampaign(row interface{ Scan(...any) error }) (Campaign, error) {
	var c Campaign
	var contacts, results []byte
	err := row.Scan(
		&c.ID, &c.AccountID, &c.Name, &c.Status, &contacts, &results,
		&c.TotalContacts, &c.CompletedCalls, &c.FailedCalls,
		&c.ConcurrentLines, &c.CallIntervalSeconds, &c.MaxRetries, &c.RetryIntervalMinutes,
		&c.DailyStart, &c.DailyEnd, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Campaign{}, ErrNotFound
		}
		return Campaign{}, err
	}
	if len(contacts) > 0 {
		if err := json.Unmarshal(contacts, &c.Contacts); err != nil {
			return Campaign{}, err
		}
	}
	if len(results) > 0 {
		if err := json.Unmarshal(results, &c.CallResults); err != nil {
			return Campaign{}, err
		}
	}
	return c, nil
}

func (s *PGStore) DeleteCampaign(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM campaigns WHERE id = $1`, id)
	return err
}

func (s *PGStore) ListCampaigns(ctx context.Context, accountID string) ([]Campaign, error) {
	const q = `
SELECT id, account_id, name, status, contacts, call_results,
       total_contacts, completed_calls, failed_calls,
       concurrent_lines, call_interval_seconds, max_retries, retry_interval_minutes,
       COALESCE(daily_start, ''), COALESCE(daily_end, ''), created_at, updated_at
FROM campaigns
WHERE account_id = $1
ORDER BY created_at
`
	rows, err := s.db.QueryContext(ctx, q, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

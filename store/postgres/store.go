package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"checkin-backend/checkin"
	"checkin-backend/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS check_in_events (
	id              TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL,
	business_id     TEXT NOT NULL,
	mission_type    TEXT NOT NULL DEFAULT '',
	method          TEXT NOT NULL,
	day             TEXT NOT NULL,
	latitude        DOUBLE PRECISION,
	longitude       DOUBLE PRECISION,
	distance_meters DOUBLE PRECISION,
	accuracy_meters DOUBLE PRECISION,
	user_points     BIGINT NOT NULL,
	business_points BIGINT NOT NULL,
	verified        BOOLEAN NOT NULL DEFAULT TRUE,
	credited        BOOLEAN NOT NULL DEFAULT FALSE,
	created_at      TIMESTAMPTZ NOT NULL,
	credited_at     TIMESTAMPTZ,
	CONSTRAINT check_in_events_user_business_day UNIQUE (user_id, business_id, day)
);
CREATE INDEX IF NOT EXISTS idx_check_in_events_user_day ON check_in_events (user_id, day);
CREATE INDEX IF NOT EXISTS idx_check_in_events_business ON check_in_events (business_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_check_in_events_pending ON check_in_events (created_at) WHERE NOT credited;

CREATE TABLE IF NOT EXISTS check_in_daily_counts (
	user_id TEXT NOT NULL,
	day     TEXT NOT NULL,
	total   INTEGER NOT NULL,
	PRIMARY KEY (user_id, day)
);

CREATE TABLE IF NOT EXISTS point_balances (
	account_kind TEXT NOT NULL,
	account_id   TEXT NOT NULL,
	balance      BIGINT NOT NULL DEFAULT 0,
	updated_at   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (account_kind, account_id)
);

CREATE TABLE IF NOT EXISTS point_credits (
	event_id     TEXT NOT NULL,
	account_kind TEXT NOT NULL,
	account_id   TEXT NOT NULL,
	amount       BIGINT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (event_id, account_kind)
);

CREATE TABLE IF NOT EXISTS business_locations (
	business_id TEXT PRIMARY KEY,
	name        TEXT NOT NULL DEFAULT '',
	latitude    DOUBLE PRECISION NOT NULL,
	longitude   DOUBLE PRECISION NOT NULL
);

CREATE TABLE IF NOT EXISTS verification_policies (
	business_id      TEXT NOT NULL,
	mission_type     TEXT NOT NULL DEFAULT '',
	accepted_methods TEXT NOT NULL,
	radius_meters    DOUBLE PRECISION NOT NULL DEFAULT 0,
	PRIMARY KEY (business_id, mission_type)
);
`

const eventColumns = `id, user_id, business_id, mission_type, method, day, latitude, longitude,
	distance_meters, accuracy_meters, user_points, business_points, verified, credited, created_at, credited_at`

type Store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Connect opens a pool, checks it and creates the schema.
func Connect(ctx context.Context, dbURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	s := New(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create check-in schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.db.Close()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *Store) HasCheckedIn(ctx context.Context, userID, businessID, day string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM check_in_events WHERE user_id = $1 AND business_id = $2 AND day = $3)",
		userID, businessID, day).Scan(&exists)
	return exists, err
}

func (s *Store) CountForDay(ctx context.Context, userID, day string) (int, error) {
	var n int
	err := s.db.QueryRow(ctx,
		"SELECT COUNT(*) FROM check_in_events WHERE user_id = $1 AND day = $2",
		userID, day).Scan(&n)
	return n, err
}

func (s *Store) CreateEvent(ctx context.Context, ev *models.CheckInEvent, dailyLimit int) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		return insertEvent(ctx, tx, ev, dailyLimit)
	})
}

func (s *Store) CreateEventWithCredits(ctx context.Context, ev *models.CheckInEvent, dailyLimit int) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if err := insertEvent(ctx, tx, ev, dailyLimit); err != nil {
			return err
		}
		for _, c := range checkin.EventCredits(ev) {
			if err := applyCredit(ctx, tx, c, ev.CreatedAt); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// insertEvent claims the (user, business, day) key and one slot of the
// user's daily count. A concurrent insert of the same key blocks on the
// unique index until the first transaction finishes, then does nothing.
func insertEvent(ctx context.Context, tx pgx.Tx, ev *models.CheckInEvent, dailyLimit int) error {
	if dailyLimit <= 0 {
		return checkin.ErrDailyCapReached
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO check_in_events (`+eventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (user_id, business_id, day) DO NOTHING
	`,
		ev.ID, ev.UserID, ev.BusinessID, ev.MissionType, ev.Method, ev.Day,
		ev.Latitude, ev.Longitude, ev.DistanceMeters, ev.AccuracyMeters,
		ev.UserPoints, ev.BusinessPoints, ev.Verified, ev.Credited, ev.CreatedAt, ev.CreditedAt,
	)
	if err != nil {
		return fmt.Errorf("insert check-in event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return checkin.ErrDuplicateCheckIn
	}

	tag, err = tx.Exec(ctx, `
		INSERT INTO check_in_daily_counts (user_id, day, total)
		VALUES ($1, $2, 1)
		ON CONFLICT (user_id, day) DO UPDATE
			SET total = check_in_daily_counts.total + 1
			WHERE check_in_daily_counts.total < $3
	`, ev.UserID, ev.Day, dailyLimit)
	if err != nil {
		return fmt.Errorf("bump daily check-in count: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return checkin.ErrDailyCapReached
	}
	return nil
}

// Credit applies c once; a repeated credit for the same event and account
// kind changes nothing.
func (s *Store) Credit(ctx context.Context, c checkin.Credit) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		return applyCredit(ctx, tx, c, time.Now().UTC())
	})
}

func applyCredit(ctx context.Context, tx pgx.Tx, c checkin.Credit, at time.Time) error {
	tag, err := tx.Exec(ctx, `
		INSERT INTO point_credits (event_id, account_kind, account_id, amount, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_id, account_kind) DO NOTHING
	`, c.EventID, c.AccountKind, c.AccountID, c.Amount, at)
	if err != nil {
		return fmt.Errorf("record credit %s: %w", c.IdempotencyKey(), err)
	}
	if tag.RowsAffected() == 0 {
		return nil
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO point_balances (account_kind, account_id, balance, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_kind, account_id) DO UPDATE
			SET balance = point_balances.balance + EXCLUDED.balance,
			    updated_at = EXCLUDED.updated_at
	`, c.AccountKind, c.AccountID, c.Amount, at)
	if err != nil {
		return fmt.Errorf("increment %s balance %s: %w", c.AccountKind, c.AccountID, err)
	}
	return nil
}

func (s *Store) MarkCredited(ctx context.Context, eventID string, at time.Time) error {
	tag, err := s.db.Exec(ctx,
		"UPDATE check_in_events SET credited = TRUE, credited_at = $1 WHERE id = $2 AND NOT credited",
		at, eventID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.Event(ctx, eventID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) PendingEvents(ctx context.Context, createdBefore time.Time, limit int) ([]models.CheckInEvent, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+eventColumns+`
		FROM check_in_events
		WHERE NOT credited AND created_at < $1
		ORDER BY created_at
		LIMIT $2
	`, createdBefore, limit)
	if err != nil {
		return nil, err
	}
	return collectEvents(rows)
}

func (s *Store) Event(ctx context.Context, id string) (*models.CheckInEvent, error) {
	rows, err := s.db.Query(ctx, "SELECT "+eventColumns+" FROM check_in_events WHERE id = $1", id)
	if err != nil {
		return nil, err
	}
	events, err := collectEvents(rows)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, checkin.ErrEventNotFound
	}
	return &events[0], nil
}

// EventsForBusiness lists events newest first; an empty day lists all days.
func (s *Store) EventsForBusiness(ctx context.Context, businessID, day string, limit int) ([]models.CheckInEvent, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+eventColumns+`
		FROM check_in_events
		WHERE business_id = $1 AND ($2 = '' OR day = $2)
		ORDER BY created_at DESC
		LIMIT $3
	`, businessID, day, limit)
	if err != nil {
		return nil, err
	}
	return collectEvents(rows)
}

func collectEvents(rows pgx.Rows) ([]models.CheckInEvent, error) {
	defer rows.Close()

	var events []models.CheckInEvent
	for rows.Next() {
		var ev models.CheckInEvent
		err := rows.Scan(
			&ev.ID,
			&ev.UserID,
			&ev.BusinessID,
			&ev.MissionType,
			&ev.Method,
			&ev.Day,
			&ev.Latitude,
			&ev.Longitude,
			&ev.DistanceMeters,
			&ev.AccuracyMeters,
			&ev.UserPoints,
			&ev.BusinessPoints,
			&ev.Verified,
			&ev.Credited,
			&ev.CreatedAt,
			&ev.CreditedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan check-in event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *Store) BusinessStats(ctx context.Context, businessID string) (*models.CheckInStats, error) {
	stats := models.CheckInStats{BusinessID: businessID}
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(DISTINCT user_id),
		       COALESCE(SUM(user_points), 0),
		       COALESCE(SUM(business_points), 0),
		       COUNT(*) FILTER (WHERE NOT credited)
		FROM check_in_events
		WHERE business_id = $1
	`, businessID).Scan(
		&stats.TotalCheckIns,
		&stats.UniqueUsers,
		&stats.UserPoints,
		&stats.BusinessPoints,
		&stats.PendingCredits,
	)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// Balance returns a zero balance for accounts never credited.
func (s *Store) Balance(ctx context.Context, accountKind, accountID string) (*models.PointBalance, error) {
	b := models.PointBalance{AccountKind: accountKind, AccountID: accountID}
	err := s.db.QueryRow(ctx,
		"SELECT balance, updated_at FROM point_balances WHERE account_kind = $1 AND account_id = $2",
		accountKind, accountID).Scan(&b.Balance, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return &b, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *Store) BusinessLocation(ctx context.Context, businessID string) (*models.BusinessLocation, error) {
	loc := models.BusinessLocation{BusinessID: businessID}
	err := s.db.QueryRow(ctx,
		"SELECT name, latitude, longitude FROM business_locations WHERE business_id = $1",
		businessID).Scan(&loc.Name, &loc.Latitude, &loc.Longitude)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &loc, nil
}

func (s *Store) VerificationPolicy(ctx context.Context, businessID, missionType string) (*models.VerificationPolicy, error) {
	p := models.VerificationPolicy{BusinessID: businessID, MissionType: missionType}
	err := s.db.QueryRow(ctx,
		"SELECT accepted_methods, radius_meters FROM verification_policies WHERE business_id = $1 AND mission_type = $2",
		businessID, missionType).Scan(&p.AcceptedMethods, &p.RadiusMeters)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) UpsertBusinessLocation(ctx context.Context, loc *models.BusinessLocation) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO business_locations (business_id, name, latitude, longitude)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (business_id) DO UPDATE
			SET name = EXCLUDED.name, latitude = EXCLUDED.latitude, longitude = EXCLUDED.longitude
	`, loc.BusinessID, loc.Name, loc.Latitude, loc.Longitude)
	return err
}

func (s *Store) UpsertVerificationPolicy(ctx context.Context, p *models.VerificationPolicy) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO verification_policies (business_id, mission_type, accepted_methods, radius_meters)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (business_id, mission_type) DO UPDATE
			SET accepted_methods = EXCLUDED.accepted_methods, radius_meters = EXCLUDED.radius_meters
	`, p.BusinessID, p.MissionType, p.AcceptedMethods, p.RadiusMeters)
	return err
}

// Package sqlite is the embedded check-in store used for local development
// and tests. It enforces the same uniqueness and daily-cap guards as the
// Postgres store through SQL constraints and conditional upserts.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"checkin-backend/checkin"
	"checkin-backend/models"
)

type dailyCount struct {
	UserID string `gorm:"primaryKey"`
	Day    string `gorm:"primaryKey"`
	Total  int    `gorm:"not null"`
}

func (dailyCount) TableName() string {
	return "check_in_daily_counts"
}

type pointCredit struct {
	EventID     string `gorm:"primaryKey;size:36"`
	AccountKind string `gorm:"primaryKey"`
	AccountID   string `gorm:"not null;index"`
	Amount      int64  `gorm:"not null"`
	CreatedAt   time.Time
}

func (pointCredit) TableName() string {
	return "point_credits"
}

type Store struct {
	db *gorm.DB
}

// Open creates or opens the database file at path and migrates it.
func Open(path string) (*Store, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// sqlite allows one writer; a single connection serialises transactions
	sqlDB.SetMaxOpenConns(1)
	return New(db)
}

// New wraps an existing gorm handle and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.CheckInEvent{},
		&dailyCount{},
		&pointCredit{},
		&models.PointBalance{},
		&models.BusinessLocation{},
		&models.VerificationPolicy{},
	)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) HasCheckedIn(ctx context.Context, userID, businessID, day string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&models.CheckInEvent{}).
		Where("user_id = ? AND business_id = ? AND day = ?", userID, businessID, day).
		Count(&n).Error
	return n > 0, err
}

func (s *Store) CountForDay(ctx context.Context, userID, day string) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&models.CheckInEvent{}).
		Where("user_id = ? AND day = ?", userID, day).
		Count(&n).Error
	return int(n), err
}

func (s *Store) CreateEvent(ctx context.Context, ev *models.CheckInEvent, dailyLimit int) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return insertEvent(tx, ev, dailyLimit)
	})
}

func (s *Store) CreateEventWithCredits(ctx context.Context, ev *models.CheckInEvent, dailyLimit int) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := insertEvent(tx, ev, dailyLimit); err != nil {
			return err
		}
		for _, c := range checkin.EventCredits(ev) {
			if err := applyCredit(tx, c, ev.CreatedAt); err != nil {
				return err
			}
		}
		return nil
	})
}

// insertEvent claims the (user, business, day) key and one slot of the
// user's daily count; it writes nothing if either is taken.
func insertEvent(tx *gorm.DB, ev *models.CheckInEvent, dailyLimit int) error {
	if dailyLimit <= 0 {
		return checkin.ErrDailyCapReached
	}

	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(ev)
	if res.Error != nil {
		return fmt.Errorf("insert check-in event: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return checkin.ErrDuplicateCheckIn
	}

	res = tx.Exec(`
		INSERT INTO check_in_daily_counts (user_id, day, total)
		VALUES (?, ?, 1)
		ON CONFLICT (user_id, day) DO UPDATE
			SET total = check_in_daily_counts.total + 1
			WHERE check_in_daily_counts.total < ?
	`, ev.UserID, ev.Day, dailyLimit)
	if res.Error != nil {
		return fmt.Errorf("bump daily check-in count: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return checkin.ErrDailyCapReached
	}
	return nil
}

// Credit applies c once; a repeated credit for the same event and account
// kind changes nothing.
func (s *Store) Credit(ctx context.Context, c checkin.Credit) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return applyCredit(tx, c, time.Now().UTC())
	})
}

func applyCredit(tx *gorm.DB, c checkin.Credit, at time.Time) error {
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&pointCredit{
		EventID:     c.EventID,
		AccountKind: c.AccountKind,
		AccountID:   c.AccountID,
		Amount:      c.Amount,
		CreatedAt:   at,
	})
	if res.Error != nil {
		return fmt.Errorf("record credit %s: %w", c.IdempotencyKey(), res.Error)
	}
	if res.RowsAffected == 0 {
		return nil
	}

	err := tx.Exec(`
		INSERT INTO point_balances (account_kind, account_id, balance, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (account_kind, account_id) DO UPDATE
			SET balance = point_balances.balance + excluded.balance,
			    updated_at = excluded.updated_at
	`, c.AccountKind, c.AccountID, c.Amount, at).Error
	if err != nil {
		return fmt.Errorf("increment %s balance %s: %w", c.AccountKind, c.AccountID, err)
	}
	return nil
}

func (s *Store) MarkCredited(ctx context.Context, eventID string, at time.Time) error {
	res := s.db.WithContext(ctx).
		Model(&models.CheckInEvent{}).
		Where("id = ? AND credited = ?", eventID, false).
		Updates(map[string]interface{}{"credited": true, "credited_at": at.UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := s.Event(ctx, eventID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) PendingEvents(ctx context.Context, createdBefore time.Time, limit int) ([]models.CheckInEvent, error) {
	var events []models.CheckInEvent
	err := s.db.WithContext(ctx).
		Where("credited = ? AND created_at < ?", false, createdBefore.UTC()).
		Order("created_at").
		Limit(limit).
		Find(&events).Error
	return events, err
}

func (s *Store) Event(ctx context.Context, id string) (*models.CheckInEvent, error) {
	var ev models.CheckInEvent
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&ev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, checkin.ErrEventNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// EventsForBusiness lists events newest first; an empty day lists all days.
func (s *Store) EventsForBusiness(ctx context.Context, businessID, day string, limit int) ([]models.CheckInEvent, error) {
	q := s.db.WithContext(ctx).Where("business_id = ?", businessID)
	if day != "" {
		q = q.Where("day = ?", day)
	}
	var events []models.CheckInEvent
	err := q.Order("created_at DESC").Limit(limit).Find(&events).Error
	return events, err
}

func (s *Store) BusinessStats(ctx context.Context, businessID string) (*models.CheckInStats, error) {
	var stats models.CheckInStats
	err := s.db.WithContext(ctx).
		Model(&models.CheckInEvent{}).
		Select(`COUNT(*) AS total_check_ins,
			COUNT(DISTINCT user_id) AS unique_users,
			COALESCE(SUM(user_points), 0) AS user_points,
			COALESCE(SUM(business_points), 0) AS business_points,
			COALESCE(SUM(CASE WHEN credited THEN 0 ELSE 1 END), 0) AS pending_credits`).
		Where("business_id = ?", businessID).
		Scan(&stats).Error
	if err != nil {
		return nil, err
	}
	stats.BusinessID = businessID
	return &stats, nil
}

// Balance returns a zero balance for accounts never credited.
func (s *Store) Balance(ctx context.Context, accountKind, accountID string) (*models.PointBalance, error) {
	var b models.PointBalance
	err := s.db.WithContext(ctx).
		Where("account_kind = ? AND account_id = ?", accountKind, accountID).
		First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.PointBalance{AccountKind: accountKind, AccountID: accountID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *Store) BusinessLocation(ctx context.Context, businessID string) (*models.BusinessLocation, error) {
	var loc models.BusinessLocation
	err := s.db.WithContext(ctx).Where("business_id = ?", businessID).First(&loc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &loc, nil
}

func (s *Store) VerificationPolicy(ctx context.Context, businessID, missionType string) (*models.VerificationPolicy, error) {
	var p models.VerificationPolicy
	err := s.db.WithContext(ctx).
		Where("business_id = ? AND mission_type = ?", businessID, missionType).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) UpsertBusinessLocation(ctx context.Context, loc *models.BusinessLocation) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "business_id"}},
		UpdateAll: true,
	}).Create(loc).Error
}

func (s *Store) UpsertVerificationPolicy(ctx context.Context, p *models.VerificationPolicy) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "business_id"}, {Name: "mission_type"}},
		UpdateAll: true,
	}).Create(p).Error
}

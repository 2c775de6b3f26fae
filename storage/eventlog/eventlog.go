package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"stakeledger/core/events"
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 1_000
)

var ErrUnsupportedDriver = errors.New("eventlog: unsupported driver")

// Record is a persisted ledger event.
type Record struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Sequence   uint64    `gorm:"uniqueIndex;not null"`
	Type       string    `gorm:"index;not null"`
	Account    string    `gorm:"index"`
	Token      string    `gorm:"index"`
	Attributes string    `gorm:"type:text"`
	CreatedAt  time.Time
}

// Decode returns the attribute map of the record.
func (r Record) Decode() (map[string]string, error) {
	attrs := map[string]string{}
	if strings.TrimSpace(r.Attributes) == "" {
		return attrs, nil
	}
	if err := json.Unmarshal([]byte(r.Attributes), &attrs); err != nil {
		return nil, err
	}
	return attrs, nil
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Type    string
	Account string
	Token   string
	After   uint64
	Limit   int
}

// Store appends ledger events to a SQL table. It implements events.Emitter so
// it can be fanned out next to other subscribers.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
	mu     sync.Mutex
	seq    uint64
}

// Open connects to the given driver ("sqlite" or "postgres") and migrates the
// schema.
func Open(driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite", "":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("eventlog: open %s: %w", driver, err)
	}
	return New(db)
}

// New wraps an existing connection.
func New(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("eventlog: nil database")
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("eventlog: migrate: %w", err)
	}
	var last Record
	err := db.Order("sequence desc").Limit(1).Find(&last).Error
	if err != nil {
		return nil, fmt.Errorf("eventlog: load sequence: %w", err)
	}
	return &Store{db: db, logger: slog.Default(), seq: last.Sequence}, nil
}

// SetLogger overrides the logger used to report failed writes from Emit.
func (s *Store) SetLogger(l *slog.Logger) {
	if l != nil {
		s.logger = l
	}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Emit implements events.Emitter. Write failures are logged; they never affect
// the ledger call that produced the event.
func (s *Store) Emit(evt events.Event) {
	if _, err := s.Append(context.Background(), evt); err != nil {
		s.logger.Error("event log append failed", slog.String("type", evt.EventType()), slog.Any("error", err))
	}
}

// Append persists evt and returns the stored record.
func (s *Store) Append(ctx context.Context, evt events.Event) (*Record, error) {
	rendered := events.Render(evt)
	if rendered == nil {
		return nil, errors.New("eventlog: nil event")
	}
	payload, err := json.Marshal(rendered.Attributes)
	if err != nil {
		return nil, err
	}
	account := rendered.Attribute("account")
	if account == "" {
		account = rendered.Attribute("owner")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	record := &Record{
		ID:         uuid.New(),
		Sequence:   s.seq + 1,
		Type:       rendered.Type,
		Account:    strings.ToLower(account),
		Token:      strings.ToLower(rendered.Attribute("token")),
		Attributes: string(payload),
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return nil, err
	}
	s.seq = record.Sequence
	return record, nil
}

// List returns records in ascending sequence order.
func (s *Store) List(ctx context.Context, filter Filter) ([]Record, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	query := s.db.WithContext(ctx).Model(&Record{})
	if t := strings.TrimSpace(filter.Type); t != "" {
		query = query.Where("type = ?", t)
	}
	if a := strings.TrimSpace(filter.Account); a != "" {
		query = query.Where("account = ?", strings.ToLower(a))
	}
	if tok := strings.TrimSpace(filter.Token); tok != "" {
		query = query.Where("token = ?", strings.ToLower(tok))
	}
	if filter.After > 0 {
		query = query.Where("sequence > ?", filter.After)
	}
	var records []Record
	if err := query.Order("sequence asc").Limit(limit).Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

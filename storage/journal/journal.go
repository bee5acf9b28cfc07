package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"ripecore/core/events"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// ErrDSNRequired is returned when Open is called without a data source.
var ErrDSNRequired = errors.New("journal: dsn required")

// Entry is one persisted engine event.
type Entry struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement" json:"seq"`
	EventID    uuid.UUID `gorm:"type:uuid;uniqueIndex" json:"id"`
	Type       string    `gorm:"size:64;index" json:"type"`
	Owner      string    `gorm:"size:42;index" json:"owner,omitempty"`
	Attributes string    `gorm:"type:text" json:"-"`
	RecordedAt time.Time `gorm:"index" json:"recordedAt"`
}

// TableName pins the table name independent of gorm's pluralisation.
func (Entry) TableName() string { return "liquidation_events" }

// Attrs decodes the stored attribute map.
func (e Entry) Attrs() (map[string]string, error) {
	out := map[string]string{}
	if strings.TrimSpace(e.Attributes) == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(e.Attributes), &out); err != nil {
		return nil, fmt.Errorf("decode attributes: %w", err)
	}
	return out, nil
}

// Filter narrows a journal query.
type Filter struct {
	Owner   string
	Type    string
	AfterID uint64
	Limit   int
}

// Journal persists engine events through gorm. It implements events.Emitter
// so it can be wired directly as the engine's sink.
type Journal struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

// Option customises a Journal.
type Option func(*Journal)

// WithLogger overrides the logger used for emit failures.
func WithLogger(l *slog.Logger) Option {
	return func(j *Journal) {
		if l != nil {
			j.logger = l
		}
	}
}

// WithClock overrides the clock stamping RecordedAt.
func WithClock(now func() time.Time) Option {
	return func(j *Journal) {
		if now != nil {
			j.now = now
		}
	}
}

// Dialector picks the gorm driver for dsn. postgres URLs and key/value DSNs
// go to the postgres driver; everything else is treated as a sqlite path.
func Dialector(dsn string) (gorm.Dialector, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, ErrDSNRequired
	}
	lower := strings.ToLower(trimmed)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") || strings.HasPrefix(lower, "host=") {
		return postgres.Open(trimmed), nil
	}
	return sqlite.Open(trimmed), nil
}

// Open connects to dsn and migrates the journal schema.
func Open(dsn string, opts ...Option) (*Journal, error) {
	dialector, err := Dialector(dsn)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return New(db, opts...)
}

// New wraps an existing gorm handle and migrates the journal schema.
func New(db *gorm.DB, opts ...Option) (*Journal, error) {
	if db == nil {
		return nil, fmt.Errorf("journal: database handle required")
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	j := &Journal{db: db, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// Close releases the underlying connection pool.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks the database connection.
func (j *Journal) Ping(ctx context.Context) error {
	if j == nil || j.db == nil {
		return fmt.Errorf("journal not configured")
	}
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Emit implements events.Emitter. Write failures are logged; the engine has
// already committed the state change the event describes.
func (j *Journal) Emit(evt events.Event) {
	if j == nil || evt == nil {
		return
	}
	if _, err := j.Append(context.Background(), evt); err != nil {
		j.logger.Error("journal append failed",
			slog.String("type", evt.EventType()),
			slog.Any("error", err))
	}
}

// Append stores evt and returns the persisted entry.
func (j *Journal) Append(ctx context.Context, evt events.Event) (*Entry, error) {
	if j == nil || j.db == nil {
		return nil, fmt.Errorf("journal not configured")
	}
	rendered := events.Render(evt)
	if rendered == nil {
		return nil, fmt.Errorf("journal: nil event")
	}
	attrs, err := json.Marshal(rendered.Attributes)
	if err != nil {
		return nil, fmt.Errorf("encode attributes: %w", err)
	}
	entry := &Entry{
		EventID:    uuid.New(),
		Type:       rendered.Type,
		Owner:      strings.ToLower(rendered.Attr("owner")),
		Attributes: string(attrs),
		RecordedAt: j.now().UTC(),
	}
	if err := j.db.WithContext(ctx).Create(entry).Error; err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}
	return entry, nil
}

// List returns entries matching filter in insertion order.
func (j *Journal) List(ctx context.Context, filter Filter) ([]Entry, error) {
	if j == nil || j.db == nil {
		return nil, fmt.Errorf("journal not configured")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	query := j.db.WithContext(ctx).Model(&Entry{})
	if owner := strings.ToLower(strings.TrimSpace(filter.Owner)); owner != "" {
		query = query.Where("owner = ?", owner)
	}
	if typ := strings.TrimSpace(filter.Type); typ != "" {
		query = query.Where("type = ?", typ)
	}
	if filter.AfterID > 0 {
		query = query.Where("id > ?", filter.AfterID)
	}
	var entries []Entry
	if err := query.Order("id ASC").Limit(limit).Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	return entries, nil
}

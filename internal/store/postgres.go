package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rBhagat4196/music-party/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type roomDocument struct {
	Key       string `gorm:"primaryKey;size:64"`
	Revision  int64  `gorm:"not null;default:0"`
	Doc       []byte `gorm:"type:jsonb;not null"`
	UpdatedAt time.Time
}

func (roomDocument) TableName() string { return "room_documents" }

// Postgres stores each room as a single JSON document row. Row locks serialize
// transactions; Subscribe polls the revision column since gorm exposes no
// push channel.
type Postgres struct {
	db   *gorm.DB
	poll time.Duration
}

func NewPostgres(db *gorm.DB, pollInterval time.Duration) (*Postgres, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if err := db.AutoMigrate(&roomDocument{}); err != nil {
		return nil, err
	}
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Postgres{db: db, poll: pollInterval}, nil
}

func (p *Postgres) Get(ctx context.Context, key string) (*domain.Room, error) {
	var row roomDocument
	err := p.db.WithContext(ctx).First(&row, "key = ?", key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var room domain.Room
	if err := json.Unmarshal(row.Doc, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

func (p *Postgres) Set(ctx context.Context, key string, room *domain.Room) error {
	raw, err := json.Marshal(room)
	if err != nil {
		return err
	}

	return p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.Assignments(map[string]any{
			"doc":        raw,
			"revision":   gorm.Expr("room_documents.revision + 1"),
			"updated_at": time.Now().UTC(),
		}),
	}).Create(&roomDocument{
		Key:       key,
		Revision:  1,
		Doc:       raw,
		UpdatedAt: time.Now().UTC(),
	}).Error
}

func (p *Postgres) UpdateFields(ctx context.Context, key string, fields map[string]any) error {
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row roomDocument
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&row, "key = ?", key).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		var doc map[string]any
		if err := json.Unmarshal(row.Doc, &doc); err != nil {
			return err
		}
		if err := applyFields(doc, fields); err != nil {
			return err
		}
		raw, err := json.Marshal(doc)
		if err != nil {
			return err
		}

		return tx.Model(&roomDocument{}).Where("key = ?", key).Updates(map[string]any{
			"doc":        raw,
			"revision":   row.Revision + 1,
			"updated_at": time.Now().UTC(),
		}).Error
	})
}

func (p *Postgres) RunTransaction(ctx context.Context, key string, fn TxFunc) error {
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current *domain.Room
		var row roomDocument
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&row, "key = ?", key).Error
		switch {
		case err == nil:
			var room domain.Room
			if err := json.Unmarshal(row.Doc, &room); err != nil {
				return err
			}
			current = &room
		case errors.Is(err, gorm.ErrRecordNotFound):
		default:
			return err
		}

		result, err := fn(current)
		if err != nil {
			return err
		}
		if result == nil {
			return nil
		}

		if result.Delete {
			return tx.Delete(&roomDocument{}, "key = ?", key).Error
		}

		raw, err := json.Marshal(result.Room)
		if err != nil {
			return err
		}
		if current == nil {
			return tx.Create(&roomDocument{
				Key:       key,
				Revision:  1,
				Doc:       raw,
				UpdatedAt: time.Now().UTC(),
			}).Error
		}
		return tx.Model(&roomDocument{}).Where("key = ?", key).Updates(map[string]any{
			"doc":        raw,
			"revision":   row.Revision + 1,
			"updated_at": time.Now().UTC(),
		}).Error
	})
}

func (p *Postgres) Subscribe(key string, onSnapshot func(*domain.Room)) (func(), error) {
	stop := make(chan struct{})
	var once sync.Once

	go func() {
		ticker := time.NewTicker(p.poll)
		defer ticker.Stop()

		var lastRev int64
		seen := false

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
			}

			var row roomDocument
			err := p.db.First(&row, "key = ?", key).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				if seen {
					seen = false
					lastRev = 0
					onSnapshot(nil)
				}
				continue
			}
			if err != nil {
				continue
			}

			if seen && row.Revision == lastRev {
				continue
			}

			var room domain.Room
			if err := json.Unmarshal(row.Doc, &room); err != nil {
				continue
			}
			seen = true
			lastRev = row.Revision
			onSnapshot(&room)
		}
	}()

	unsubscribe := func() {
		once.Do(func() { close(stop) })
	}
	return unsubscribe, nil
}

func (p *Postgres) Delete(ctx context.Context, key string) error {
	res := p.db.WithContext(ctx).Delete(&roomDocument{}, "key = ?", key)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

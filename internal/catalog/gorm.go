package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/DoyleJ11/quizroom-backend/internal/engine"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type Subject struct {
	ID        uint       `gorm:"primaryKey"`
	Name      string     `gorm:"size:255;not null;uniqueIndex"`
	Questions []Question `gorm:"foreignKey:SubjectID;constraint:OnDelete:CASCADE"`
}

type Question struct {
	ID           uint     `gorm:"primaryKey"`
	SubjectID    uint     `gorm:"not null;index"`
	ExternalID   string   `gorm:"size:64"`
	Prompt       string   `gorm:"type:text;not null"`
	OrderNum     int      `gorm:"not null;default:0"`
	TimeLimitSec int      `gorm:"not null;default:0"`
	Options      []Option `gorm:"foreignKey:QuestionID;constraint:OnDelete:CASCADE"`
}

type Option struct {
	ID         uint   `gorm:"primaryKey"`
	QuestionID uint   `gorm:"not null;index"`
	Text       string `gorm:"size:500;not null"`
	IsCorrect  bool   `gorm:"not null;default:false"`
	OrderNum   int    `gorm:"not null;default:0"`
}

// Open connects to postgres.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return db, nil
}

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Subject{}, &Question{}, &Option{})
}

// Gorm reads subjects from the database on every call.
type Gorm struct {
	db *gorm.DB
}

func NewGorm(db *gorm.DB) *Gorm {
	return &Gorm{db: db}
}

func (g *Gorm) Questions(ctx context.Context, subject string) ([]engine.Question, error) {
	var s Subject
	err := g.db.WithContext(ctx).
		Where("name = ?", subject).
		Preload("Questions", func(db *gorm.DB) *gorm.DB {
			return db.Order("order_num ASC")
		}).
		Preload("Questions.Options", func(db *gorm.DB) *gorm.DB {
			return db.Order("order_num ASC")
		}).
		First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %q", ErrSubjectNotFound, subject)
	}
	if err != nil {
		return nil, fmt.Errorf("load subject %q: %w", subject, err)
	}
	return toEngine(s)
}

// Seed replaces the stored questions of every subject in src.
func Seed(ctx context.Context, db *gorm.DB, src Static) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, name := range src.Subjects() {
			if err := tx.Where("name = ?", name).Delete(&Subject{}).Error; err != nil {
				return err
			}
			row := fromEngine(name, src[name])
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("seed subject %q: %w", name, err)
			}
		}
		return nil
	})
}

func toEngine(s Subject) ([]engine.Question, error) {
	out := make([]engine.Question, 0, len(s.Questions))
	for _, row := range s.Questions {
		q := engine.Question{
			ID:           row.ExternalID,
			Prompt:       row.Prompt,
			CorrectIndex: -1,
			TimeLimitSec: row.TimeLimitSec,
		}
		if q.ID == "" {
			q.ID = fmt.Sprintf("%d", row.ID)
		}
		for i, opt := range row.Options {
			q.Options = append(q.Options, opt.Text)
			if opt.IsCorrect {
				if q.CorrectIndex >= 0 {
					return nil, fmt.Errorf("%w %q: more than one correct option", ErrInvalidQuestion, q.ID)
				}
				q.CorrectIndex = i
			}
		}
		if err := Validate(q); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, nil
}

func fromEngine(name string, qs []engine.Question) Subject {
	s := Subject{Name: name}
	for i, q := range qs {
		row := Question{
			ExternalID:   q.ID,
			Prompt:       q.Prompt,
			OrderNum:     i,
			TimeLimitSec: q.TimeLimitSec,
		}
		for j, text := range q.Options {
			row.Options = append(row.Options, Option{Text: text, IsCorrect: j == q.CorrectIndex, OrderNum: j})
		}
		s.Questions = append(s.Questions, row)
	}
	return s
}

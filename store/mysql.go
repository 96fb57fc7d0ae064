package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// TemplateSet is the row holding the encoded template set of one scope
type TemplateSet struct {
	Scope   string `gorm:"primaryKey;size:191"`
	Data    []byte `gorm:"type:longblob;not null"`
	Updated time.Time
}

// MySQL stores template sets in a shared MySQL database
type MySQL struct {
	db *gorm.DB
}

// NewMySQL connects to the database described by dsn and migrates the
// schema
func NewMySQL(dsn string) (*MySQL, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&TemplateSet{}); err != nil {
		return nil, err
	}
	return &MySQL{db: db}, nil
}

// Save replaces the template set stored for scope
func (s *MySQL) Save(ctx context.Context, scope string, data []byte) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		UpdateAll: true,
	}).Create(&TemplateSet{
		Scope:   scope,
		Data:    data,
		Updated: time.Now(),
	}).Error
}

// Load returns the template set stored for scope, or nil if there is none
func (s *MySQL) Load(ctx context.Context, scope string) ([]byte, error) {
	var set TemplateSet
	switch err := s.db.WithContext(ctx).Where("scope = ?", scope).First(&set).Error; {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, nil
	case err != nil:
		return nil, err
	default:
		return set.Data, nil
	}
}

// Close closes the underlying connection pool
func (s *MySQL) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}

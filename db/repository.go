package db

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TokenRepository defines decoupled operations for token persistence.
type TokenRepository interface {
	Get(ctx context.Context) (*Token, error)
	Upsert(ctx context.Context, token *Token) error
	Clear(ctx context.Context) error
}

// ProfileRepository defines decoupled operations for the signed-in profile.
type ProfileRepository interface {
	Get(ctx context.Context) (*Profile, error)
	Put(ctx context.Context, profile *Profile) error
	SetPermissions(ctx context.Context, permissions []string) error
	Clear(ctx context.Context) error
}

// gormTokenRepo is a GORM-backed implementation of TokenRepository.
// Use constructor NewTokenRepository to obtain an instance.
type gormTokenRepo struct{ db *gorm.DB }

// gormProfileRepo is a GORM-backed implementation of ProfileRepository.
type gormProfileRepo struct{ db *gorm.DB }

// NewTokenRepository creates a TokenRepository. Accepts *gorm.DB to avoid global access.
func NewTokenRepository(db *gorm.DB) TokenRepository { return &gormTokenRepo{db: db} }

// NewProfileRepository creates a ProfileRepository.
func NewProfileRepository(db *gorm.DB) ProfileRepository { return &gormProfileRepo{db: db} }

var errNotInitialized = errors.New("repository not initialized")

func (r *gormTokenRepo) Get(ctx context.Context) (*Token, error) {
	if r.db == nil {
		return nil, errNotInitialized
	}
	var token Token
	err := r.db.WithContext(ctx).First(&token, singletonID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &token, nil
}

func (r *gormTokenRepo) Upsert(ctx context.Context, token *Token) error {
	if r.db == nil {
		return errNotInitialized
	}
	if token == nil {
		return fmt.Errorf("token is nil")
	}
	token.ID = singletonID
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"access_token", "refresh_token", "updated_at"}),
	}).Create(token).Error
}

func (r *gormTokenRepo) Clear(ctx context.Context) error {
	if r.db == nil {
		return errNotInitialized
	}
	return r.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&Token{}).Error
}

func (r *gormProfileRepo) Get(ctx context.Context) (*Profile, error) {
	if r.db == nil {
		return nil, errNotInitialized
	}
	var profile Profile
	err := r.db.WithContext(ctx).First(&profile, singletonID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (r *gormProfileRepo) Put(ctx context.Context, profile *Profile) error {
	if r.db == nil {
		return errNotInitialized
	}
	if profile == nil {
		return fmt.Errorf("profile is nil")
	}
	profile.ID = singletonID
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(profile).Error
}

// SetPermissions replaces the cached permissions, creating an anonymous
// profile row when nobody has signed in locally yet.
func (r *gormProfileRepo) SetPermissions(ctx context.Context, permissions []string) error {
	if r.db == nil {
		return errNotInitialized
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var profile Profile
		err := tx.First(&profile, singletonID).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		profile.ID = singletonID
		profile.Permissions = permissions
		return tx.Save(&profile).Error
	})
}

func (r *gormProfileRepo) Clear(ctx context.Context) error {
	if r.db == nil {
		return errNotInitialized
	}
	return r.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&Profile{}).Error
}

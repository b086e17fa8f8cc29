package db

import "time"

// Token is the single stored access/refresh pair of the local session.
type Token struct {
	ID           uint      `gorm:"primaryKey" json:"-"`
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Profile caches who is signed in and the last permission set announced for them.
type Profile struct {
	ID          uint      `gorm:"primaryKey" json:"-"`
	UserID      string    `json:"user_id"`
	Username    string    `json:"username,omitempty"`
	Email       string    `json:"email,omitempty"`
	Permissions []string  `gorm:"serializer:json" json:"permissions,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Both tables hold at most one row.
const singletonID = 1

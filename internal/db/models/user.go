package models

import (
	"time"

	"gorm.io/gorm"
)

type UserRole string

const (
	RoleUser  UserRole = "USER"
	RoleAdmin UserRole = "ADMIN"
)

type User struct {
	gorm.Model
	Username     string   `gorm:"unique;not null"`
	Email        string   `gorm:"unique;not null"`
	PasswordHash string   `gorm:"not null"` // Bcrypt hash of password
	Role         UserRole `gorm:"not null;default:'USER'"`
	FirstName    string
	LastName     string
	ActiveStatus bool `gorm:"not null;default:true"`
	LastLogin    time.Time

	Key          *UserKey
	Certificates []Certificate `gorm:"foreignKey:OwnerID"`
	Documents    []Document
}

package store

import (
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID           string    `gorm:"primaryKey"`
	Email        string    `gorm:"uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time
}

type ChatModel struct {
	ID         string `gorm:"primaryKey"`
	UserID     string `gorm:"not null;index"`
	Title      string `gorm:"not null"`
	Type       string `gorm:"not null"`
	Collection string
	CreatedAt  time.Time `gorm:"not null;index"`
}

type MessageModel struct {
	ID        string    `gorm:"primaryKey"`
	ChatID    string    `gorm:"not null;index"`
	Role      string    `gorm:"not null"`
	Content   string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"not null;index"`
}

type CollectionModel struct {
	ID        string    `gorm:"primaryKey"`
	Name      string    `gorm:"uniqueIndex;not null"`
	UserID    string    `gorm:"not null;index"`
	CreatedAt time.Time `gorm:"not null"`
}

type ChunkModel struct {
	ID             string           `gorm:"primaryKey"`
	CollectionName string           `gorm:"not null;index"`
	Content        string           `gorm:"type:text;not null"`
	Metadata       datatypes.JSON   `gorm:"type:jsonb"`
	Embedding      *pgvector.Vector `gorm:"type:vector(1024)"`
	CreatedAt      time.Time        `gorm:"not null;index"`
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"ragchat/pkg/domain"
)

const migrateLockID int64 = 48215372

const defaultEmbeddingDim = 1024

// GormStore implements Store using GORM + Postgres with pgvector.
type GormStore struct {
	db           *gorm.DB
	embeddingDim int
}

// NewGormStore opens the DB and runs auto-migrations under an advisory
// lock so concurrent replicas do not race each other.
func NewGormStore(dsn string, embeddingDim int) (*GormStore, error) {
	if embeddingDim <= 0 {
		embeddingDim = defaultEmbeddingDim
	}
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
			return fmt.Errorf("create pgvector extension: %w", err)
		}
		if err := tx.AutoMigrate(&UserModel{}, &ChatModel{}, &MessageModel{}, &CollectionModel{}, &ChunkModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		if err := tx.Exec(fmt.Sprintf(`
			DO $$
			BEGIN
			IF EXISTS (
				SELECT 1 FROM information_schema.columns
				WHERE table_name = 'chunk_models' AND column_name = 'embedding'
			) THEN
				ALTER TABLE chunk_models ALTER COLUMN embedding TYPE vector(%d);
			END IF;
			END $$;
		`, embeddingDim)).Error; err != nil {
			return fmt.Errorf("alter chunk embedding type: %w", err)
		}
		if err := tx.Exec(`
			DO $$
			BEGIN
				DELETE FROM chat_models c
				WHERE NOT EXISTS (SELECT 1 FROM user_models u WHERE u.id = c.user_id);
				DELETE FROM message_models m
				WHERE NOT EXISTS (SELECT 1 FROM chat_models c WHERE c.id = m.chat_id);
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'chat_models'
					AND constraint_name = 'chat_models_user_id_fkey'
				) THEN
					ALTER TABLE chat_models
					ADD CONSTRAINT chat_models_user_id_fkey
					FOREIGN KEY (user_id) REFERENCES user_models(id) ON DELETE CASCADE;
				END IF;
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'message_models'
					AND constraint_name = 'message_models_chat_id_fkey'
				) THEN
					ALTER TABLE message_models
					ADD CONSTRAINT message_models_chat_id_fkey
					FOREIGN KEY (chat_id) REFERENCES chat_models(id) ON DELETE CASCADE;
				END IF;
			END $$;
		`).Error; err != nil {
			return fmt.Errorf("ensure foreign keys: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db, embeddingDim: embeddingDim}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// SaveUser registers or updates a user.
func (s *GormStore) SaveUser(u domain.User) error {
	model := userToModel(u)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "password_hash", "updated_at"}),
	}).Create(&model).Error
}

// HasUserEmail checks if email exists.
func (s *GormStore) HasUserEmail(email string) (bool, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("email = ?", email).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// SaveChat stores or updates a chat.
func (s *GormStore) SaveChat(c domain.Chat) error {
	model := chatToModel(c)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "collection"}),
	}).Create(&model).Error
}

// GetChat retrieves a chat.
func (s *GormStore) GetChat(id string) (domain.Chat, bool, error) {
	var model ChatModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Chat{}, false, nil
		}
		return domain.Chat{}, false, err
	}
	return chatFromModel(model), true, nil
}

// ListChatsByUser returns a user's chats ordered by creation time.
func (s *GormStore) ListChatsByUser(userID string) ([]domain.Chat, error) {
	var models []ChatModel
	if err := s.db.Where("user_id = ?", userID).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Chat, 0, len(models))
	for _, m := range models {
		res = append(res, chatFromModel(m))
	}
	return res, nil
}

// SetChatTitle updates the title of a chat.
func (s *GormStore) SetChatTitle(id, title string) error {
	return s.db.Model(&ChatModel{}).Where("id = ?", id).Update("title", title).Error
}

// DeleteChat removes a chat; messages cascade via foreign key.
func (s *GormStore) DeleteChat(id string) error {
	return s.db.Delete(&ChatModel{}, "id = ?", id).Error
}

// AppendMessage records a message.
func (s *GormStore) AppendMessage(chatID string, msg domain.Message) error {
	model := messageToModel(msg)
	model.ChatID = chatID
	return s.db.Create(&model).Error
}

// ListMessages returns chat messages ordered by creation time.
func (s *GormStore) ListMessages(chatID string) ([]domain.Message, error) {
	var models []MessageModel
	if err := s.db.Where("chat_id = ?", chatID).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	msgs := make([]domain.Message, 0, len(models))
	for _, m := range models {
		msgs = append(msgs, messageFromModel(m))
	}
	return msgs, nil
}

// CountMessages returns the number of messages in a chat.
func (s *GormStore) CountMessages(chatID string) (int, error) {
	var count int64
	if err := s.db.Model(&MessageModel{}).Where("chat_id = ?", chatID).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// SaveCollection persists a collection and its chunks atomically.
func (s *GormStore) SaveCollection(c domain.Collection, chunks []domain.Chunk) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		model := collectionToModel(c)
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		if len(chunks) == 0 {
			return nil
		}
		models := make([]ChunkModel, 0, len(chunks))
		for _, chunk := range chunks {
			if err := s.validateEmbeddingDim(chunk.Embedding); err != nil {
				return err
			}
			cm, err := chunkToModel(chunk)
			if err != nil {
				return err
			}
			cm.CollectionName = c.Name
			models = append(models, cm)
		}
		return tx.CreateInBatches(&models, 200).Error
	})
}

// GetCollectionByName looks up a collection.
func (s *GormStore) GetCollectionByName(name string) (domain.Collection, bool, error) {
	var model CollectionModel
	if err := s.db.Where("name = ?", name).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Collection{}, false, nil
		}
		return domain.Collection{}, false, err
	}
	return collectionFromModel(model), true, nil
}

// SearchChunks finds similar chunks by cosine distance.
func (s *GormStore) SearchChunks(collectionName string, embedding []float32, limit int) ([]domain.Chunk, error) {
	if limit <= 0 {
		return []domain.Chunk{}, nil
	}
	if err := s.validateEmbeddingDim(embedding); err != nil {
		return nil, err
	}
	vec := pgvector.NewVector(embedding)
	var models []ChunkModel
	if err := s.db.Model(&ChunkModel{}).
		Where("collection_name = ? AND embedding IS NOT NULL", collectionName).
		Order(clause.Expr{SQL: "embedding <=> ?", Vars: []any{vec}}).
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	chunks := make([]domain.Chunk, 0, len(models))
	for _, model := range models {
		chunk, err := chunkFromModel(model)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

func (s *GormStore) validateEmbeddingDim(embedding []float32) error {
	if len(embedding) == 0 {
		return fmt.Errorf("embedding vector is empty")
	}
	if s.embeddingDim > 0 && len(embedding) != s.embeddingDim {
		return fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(embedding), s.embeddingDim)
	}
	return nil
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func chatToModel(c domain.Chat) ChatModel {
	return ChatModel{
		ID:         c.ID,
		UserID:     c.UserID,
		Title:      c.Title,
		Type:       string(c.Type),
		Collection: c.Collection,
		CreatedAt:  c.CreatedAt,
	}
}

func chatFromModel(m ChatModel) domain.Chat {
	return domain.Chat{
		ID:         m.ID,
		UserID:     m.UserID,
		Title:      m.Title,
		Type:       domain.ChatType(m.Type),
		Collection: m.Collection,
		CreatedAt:  m.CreatedAt,
	}
}

func messageToModel(msg domain.Message) MessageModel {
	return MessageModel{
		ID:        msg.ID,
		ChatID:    msg.ChatID,
		Role:      msg.Role,
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
	}
}

func messageFromModel(m MessageModel) domain.Message {
	return domain.Message{
		ID:        m.ID,
		ChatID:    m.ChatID,
		Role:      m.Role,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
}

func collectionToModel(c domain.Collection) CollectionModel {
	return CollectionModel{
		ID:        c.ID,
		Name:      c.Name,
		UserID:    c.UserID,
		CreatedAt: c.CreatedAt,
	}
}

func collectionFromModel(m CollectionModel) domain.Collection {
	return domain.Collection{
		ID:        m.ID,
		Name:      m.Name,
		UserID:    m.UserID,
		CreatedAt: m.CreatedAt,
	}
}

func chunkToModel(c domain.Chunk) (ChunkModel, error) {
	model := ChunkModel{
		ID:             c.ID,
		CollectionName: c.Collection,
		Content:        c.Content,
		CreatedAt:      c.CreatedAt,
	}
	if len(c.Metadata) > 0 {
		raw, err := json.Marshal(c.Metadata)
		if err != nil {
			return ChunkModel{}, fmt.Errorf("marshal chunk metadata: %w", err)
		}
		model.Metadata = raw
	}
	if len(c.Embedding) > 0 {
		vec := pgvector.NewVector(c.Embedding)
		model.Embedding = &vec
	}
	return model, nil
}

func chunkFromModel(m ChunkModel) (domain.Chunk, error) {
	chunk := domain.Chunk{
		ID:         m.ID,
		Collection: m.CollectionName,
		Content:    m.Content,
		CreatedAt:  m.CreatedAt,
	}
	if len(m.Metadata) > 0 {
		if err := json.Unmarshal(m.Metadata, &chunk.Metadata); err != nil {
			return domain.Chunk{}, fmt.Errorf("unmarshal chunk metadata: %w", err)
		}
	}
	if m.Embedding != nil {
		chunk.Embedding = m.Embedding.Slice()
	}
	return chunk, nil
}

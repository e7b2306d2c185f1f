package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"workspace-realtime/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

// notificationsSchema cria apenas a tabela de notificações; users e workspaces pertencem à camada CRUD
const notificationsSchema = `
	CREATE TABLE IF NOT EXISTS notifications (
		id           UUID PRIMARY KEY,
		user_id      TEXT NOT NULL,
		type         TEXT NOT NULL,
		title        TEXT NOT NULL,
		description  TEXT NOT NULL,
		link         TEXT NOT NULL,
		workspace_id TEXT NOT NULL,
		read         BOOLEAN NOT NULL DEFAULT FALSE,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS notifications_user_id_idx ON notifications (user_id, created_at DESC);
`

// PostgresConfig contém as configurações do pool
type PostgresConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultPostgresConfig retorna a configuração padrão para um DSN
func DefaultPostgresConfig(dsn string) *PostgresConfig {
	return &PostgresConfig{
		DSN:             dsn,
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: 30 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// PostgresStore implementa NotificationStore e CredentialVerifier sobre pgxpool
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger domain.Logger
}

// NewPostgresStore cria o pool e valida a conexão
func NewPostgresStore(parentCtx context.Context, config *PostgresConfig, logger domain.Logger) (*PostgresStore, error) {
	if config == nil || config.DSN == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}
	poolConfig.MaxConns = config.MaxConns
	poolConfig.MinConns = config.MinConns
	poolConfig.MaxConnLifetime = config.MaxConnLifetime
	poolConfig.ConnConfig.ConnectTimeout = config.ConnectTimeout

	ctx, cancel := context.WithTimeout(parentCtx, config.ConnectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if logger != nil {
		logger.Info("Postgres connection established", map[string]interface{}{
			"max_conns": config.MaxConns,
			"min_conns": config.MinConns,
		})
	}

	return &PostgresStore{pool: pool, logger: logger}, nil
}

// EnsureSchema cria a tabela de notificações se ainda não existir
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, notificationsSchema); err != nil {
		return fmt.Errorf("failed to ensure notifications schema: %w", err)
	}
	return nil
}

// FindWorkspaceOwner retorna o id do dono do workspace
func (s *PostgresStore) FindWorkspaceOwner(ctx context.Context, workspaceID string) (string, error) {
	query := `SELECT owner_id FROM workspaces WHERE id = $1`

	var ownerID string
	err := s.pool.QueryRow(ctx, query, workspaceID).Scan(&ownerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("workspace %s: %w", workspaceID, domain.ErrWorkspaceNotFound)
		}
		return "", fmt.Errorf("failed to find workspace owner: %w", err)
	}

	return ownerID, nil
}

// CreateNotification persiste a notificação e devolve o registro com id e data
func (s *PostgresStore) CreateNotification(ctx context.Context, n *domain.Notification) (*domain.Notification, error) {
	query := `
		INSERT INTO notifications (id, user_id, type, title, description, link, workspace_id, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`

	record := *n
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	err := s.pool.QueryRow(ctx, query,
		record.ID, record.RecipientUserID, record.Type, record.Title, record.Description,
		record.Link, record.WorkspaceID, record.Read, record.CreatedAt,
	).Scan(&record.ID, &record.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create notification: %w", err)
	}

	return &record, nil
}

// ListNotifications retorna as notificações mais recentes de um usuário
func (s *PostgresStore) ListNotifications(ctx context.Context, userID string, limit int) ([]*domain.Notification, error) {
	query := `
		SELECT id, user_id, type, title, description, link, workspace_id, read, created_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := s.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*domain.Notification
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(&n.ID, &n.RecipientUserID, &n.Type, &n.Title, &n.Description,
			&n.Link, &n.WorkspaceID, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		notifications = append(notifications, &n)
	}

	return notifications, rows.Err()
}

// VerifyCredentials compara a senha com o hash bcrypt do usuário
func (s *PostgresStore) VerifyCredentials(ctx context.Context, email, password string) (string, error) {
	query := `SELECT id, password_hash FROM users WHERE LOWER(email) = $1`

	var userID, hash string
	err := s.pool.QueryRow(ctx, query, strings.ToLower(strings.TrimSpace(email))).Scan(&userID, &hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrInvalidCredentials
		}
		return "", fmt.Errorf("failed to load user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return "", domain.ErrInvalidCredentials
	}

	return userID, nil
}

// Health verifica a conexão com o banco
func (s *PostgresStore) Health(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres health check failed: %w", err)
	}
	return nil
}

// Close fecha o pool de conexões
func (s *PostgresStore) Close() {
	s.pool.Close()
	if s.logger != nil {
		s.logger.Info("Postgres connection closed", nil)
	}
}

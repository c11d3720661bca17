// Package gorm provides a database-backed TokenStorage for hosts that keep
// application state in a gorm-managed database.
package gorm

import (
	"fmt"
	"net/url"
	"time"

	"gorm.io/gorm"

	"github.com/MaxJnyk/authflow/client"
)

// CredentialModel is the credentials table row.
type CredentialModel struct {
	ServerURL    string    `gorm:"primaryKey;column:server_url"`
	AccessToken  string    `gorm:"column:access_token"`
	RefreshToken string    `gorm:"column:refresh_token"`
	UserID       string    `gorm:"column:user_id"`
	Username     string    `gorm:"column:username"`
	ExpiresAt    time.Time `gorm:"column:expires_at"`
	CreatedAt    time.Time `gorm:"column:created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

func (CredentialModel) TableName() string { return "authflow_credentials" }

func (m *CredentialModel) toCredential() *client.Credential {
	return &client.Credential{
		AccessToken:  m.AccessToken,
		RefreshToken: m.RefreshToken,
		UserID:       m.UserID,
		Username:     m.Username,
		ExpiresAt:    m.ExpiresAt,
		CreatedAt:    m.CreatedAt,
	}
}

// AutoMigrate creates the credentials table.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&CredentialModel{})
}

// TokenStorage implements client.TokenStorage over a gorm database.
type TokenStorage struct {
	db *gorm.DB
}

func NewTokenStorage(db *gorm.DB) *TokenStorage {
	return &TokenStorage{db: db}
}

func normalizeURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme == "" {
		u.Scheme = "https"
	}
	return fmt.Sprintf("%s://%s", u.Scheme, u.Host), nil
}

func (s *TokenStorage) GetCredential(serverURL string) (*client.Credential, error) {
	key, err := normalizeURL(serverURL)
	if err != nil {
		return nil, err
	}
	var model CredentialModel
	if err := s.db.First(&model, "server_url = ?", key).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return model.toCredential(), nil
}

func (s *TokenStorage) SetCredential(serverURL string, cred *client.Credential) error {
	key, err := normalizeURL(serverURL)
	if err != nil {
		return err
	}
	model := &CredentialModel{
		ServerURL:    key,
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		UserID:       cred.UserID,
		Username:     cred.Username,
		ExpiresAt:    cred.ExpiresAt,
		CreatedAt:    cred.CreatedAt,
	}
	return s.db.Save(model).Error
}

func (s *TokenStorage) RemoveCredential(serverURL string) error {
	key, err := normalizeURL(serverURL)
	if err != nil {
		return err
	}
	return s.db.Delete(&CredentialModel{}, "server_url = ?", key).Error
}

func (s *TokenStorage) ListServers() ([]string, error) {
	var servers []string
	if err := s.db.Model(&CredentialModel{}).Pluck("server_url", &servers).Error; err != nil {
		return nil, err
	}
	return servers, nil
}

// Save is a no-op; every write goes straight to the database.
func (s *TokenStorage) Save() error { return nil }

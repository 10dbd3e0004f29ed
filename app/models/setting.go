package models

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

// Setting represents a system setting
type Setting struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Key       string    `gorm:"column:setting_key;size:255;not null;uniqueIndex" json:"key" validate:"required,min=1,max=255"`
	Value     string    `gorm:"type:text" json:"value"`
	Type      string    `gorm:"size:50;not null" json:"type" validate:"required"` // string, boolean, integer
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TransferSettings is the runtime configuration for cross-site transfers,
// hydrated from the settings table. The encryption key is shared between the
// source and target deployment and signs every transfer payload.
type TransferSettings struct {
	Enabled       bool     `json:"enabled"`
	TargetURL     string   `json:"target_url" validate:"omitempty,url"`
	APIKey        string   `json:"api_key" validate:"max=255"`
	APISecret     string   `json:"api_secret" validate:"max=255"`
	EncryptionKey string   `json:"-" validate:"omitempty,len=64"`
	SSLVerify     bool     `json:"ssl_verify"`
	RateLimit     int      `json:"rate_limit" validate:"min=1,max=100000"`
	AllowedIPs    []string `json:"allowed_ips"`
	BanDuration   int      `json:"ban_duration" validate:"min=60"`
	mu            sync.RWMutex
}

// Global settings instance
var (
	transferSettings *TransferSettings
	settingsMu       sync.RWMutex
)

// GetTransferSettings returns the current transfer settings
func GetTransferSettings() *TransferSettings {
	settingsMu.RLock()
	defer settingsMu.RUnlock()
	return transferSettings
}

// defaultTransferSettings returns the baseline used before any row exists.
func defaultTransferSettings() *TransferSettings {
	return &TransferSettings{
		Enabled:     false,
		SSLVerify:   true,
		RateLimit:   100,
		BanDuration: 3600,
	}
}

// LoadSettings loads settings from database into memory
func LoadSettings(db *gorm.DB) error {
	settingsMu.Lock()
	defer settingsMu.Unlock()

	transferSettings = defaultTransferSettings()

	var settings []Setting
	if err := db.Find(&settings).Error; err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	for _, setting := range settings {
		switch setting.Key {
		case "transfer_enabled":
			transferSettings.Enabled = setting.Value == "true"
		case "target_url":
			transferSettings.TargetURL = strings.TrimRight(setting.Value, "/")
		case "api_key":
			transferSettings.APIKey = setting.Value
		case "api_secret":
			transferSettings.APISecret = setting.Value
		case "encryption_key":
			transferSettings.EncryptionKey = setting.Value
		case "ssl_verify":
			transferSettings.SSLVerify = setting.Value != "false"
		case "rate_limit":
			if n, err := strconv.Atoi(setting.Value); err == nil && n > 0 {
				transferSettings.RateLimit = n
			}
		case "allowed_ips":
			transferSettings.AllowedIPs = splitIPList(setting.Value)
		case "ban_duration":
			if n, err := strconv.Atoi(setting.Value); err == nil && n >= 60 {
				transferSettings.BanDuration = n
			}
		}
	}

	return nil
}

// SaveSettings saves current settings to database
func SaveSettings(db *gorm.DB, settings *TransferSettings) error {
	settingsMu.Lock()
	defer settingsMu.Unlock()

	if err := settings.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	settingsMap := map[string]string{
		"transfer_enabled": fmt.Sprintf("%t", settings.Enabled),
		"target_url":       strings.TrimRight(settings.TargetURL, "/"),
		"api_key":          settings.APIKey,
		"api_secret":       settings.APISecret,
		"encryption_key":   settings.EncryptionKey,
		"ssl_verify":       fmt.Sprintf("%t", settings.SSLVerify),
		"rate_limit":       strconv.Itoa(settings.RateLimit),
		"allowed_ips":      strings.Join(settings.AllowedIPs, "\n"),
		"ban_duration":     strconv.Itoa(settings.BanDuration),
	}

	for key, value := range settingsMap {
		var setting Setting
		result := db.Where("setting_key = ?", key).First(&setting)

		if result.Error != nil {
			if result.Error == gorm.ErrRecordNotFound {
				setting = Setting{
					Key:   key,
					Value: value,
					Type:  getSettingType(key),
				}
				if err := db.Create(&setting).Error; err != nil {
					return fmt.Errorf("failed to create setting %s: %w", key, err)
				}
			} else {
				return fmt.Errorf("failed to query setting %s: %w", key, result.Error)
			}
		} else {
			setting.Value = value
			if err := db.Save(&setting).Error; err != nil {
				return fmt.Errorf("failed to update setting %s: %w", key, err)
			}
		}
	}

	transferSettings = settings
	return nil
}

// EnsureEncryptionKey generates and persists the shared signing key once.
// Subsequent calls are no-ops as long as a key row exists.
func EnsureEncryptionKey(db *gorm.DB) (string, error) {
	var setting Setting
	err := db.Where("setting_key = ?", "encryption_key").First(&setting).Error
	if err == nil && len(setting.Value) == 64 {
		settingsMu.Lock()
		if transferSettings != nil {
			transferSettings.EncryptionKey = setting.Value
		}
		settingsMu.Unlock()
		return setting.Value, nil
	}
	if err != nil && err != gorm.ErrRecordNotFound {
		return "", fmt.Errorf("failed to query encryption key: %w", err)
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate encryption key: %w", err)
	}
	key := hex.EncodeToString(buf)

	setting = Setting{Key: "encryption_key", Value: key, Type: "string"}
	if err := db.Where("setting_key = ?", "encryption_key").
		Assign(Setting{Value: key, Type: "string"}).
		FirstOrCreate(&setting).Error; err != nil {
		return "", fmt.Errorf("failed to persist encryption key: %w", err)
	}

	settingsMu.Lock()
	if transferSettings != nil {
		transferSettings.EncryptionKey = key
	}
	settingsMu.Unlock()
	return key, nil
}

// getSettingType returns the type of a setting based on its key
func getSettingType(key string) string {
	switch key {
	case "transfer_enabled", "ssl_verify":
		return "boolean"
	case "rate_limit", "ban_duration":
		return "integer"
	default:
		return "string"
	}
}

// splitIPList parses a newline or comma separated IP list, dropping blanks.
func splitIPList(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == '\n' || r == ',' || r == ' '
	})
	ips := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			ips = append(ips, f)
		}
	}
	return ips
}

// Validate validates the settings
func (s *TransferSettings) Validate() error {
	validate := validator.New()
	return validate.Struct(s)
}

// ToJSON converts settings to JSON
func (s *TransferSettings) ToJSON() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return json.Marshal(s)
}

// IsEnabled returns whether outbound transfers are enabled
func (s *TransferSettings) IsEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Enabled
}

// GetTargetURL returns the configured target site base URL
func (s *TransferSettings) GetTargetURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.TargetURL
}

// GetCredentials returns the API key pair for Basic auth
func (s *TransferSettings) GetCredentials() (string, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.APIKey, s.APISecret
}

// GetEncryptionKey returns the shared signing key
func (s *TransferSettings) GetEncryptionKey() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.EncryptionKey
}

// VerifySSL returns whether outbound TLS verification is enforced
func (s *TransferSettings) VerifySSL() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.SSLVerify
}

// GetRateLimit returns the per-IP hourly request budget
func (s *TransferSettings) GetRateLimit() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.RateLimit
}

// GetAllowedIPs returns the configured allow-list (empty means open)
func (s *TransferSettings) GetAllowedIPs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.AllowedIPs...)
}

// GetBanDuration returns the temporary ban duration in seconds
func (s *TransferSettings) GetBanDuration() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.BanDuration
}

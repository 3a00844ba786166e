package config

import (
	"sync"
)

var (
	mftOnce   sync.Once
	mftConfig *MFTConfig
)

// MFTConfig selects and configures the archive-source transport.
type MFTConfig struct {
	// Source is the transport kind: "sftp" or "http".
	Source string

	// SFTP settings.
	Host           string
	Port           int
	Username       string
	Password       string
	PrivateKeyPath string

	// HTTP settings.
	BaseURL string
}

func GetMFTConfig() *MFTConfig {
	mftOnce.Do(func() {
		loadEnv()

		mftConfig = &MFTConfig{
			Source:         getEnv("MFT_SOURCE", "sftp"),
			Host:           getEnv("SFTP_HOST", ""),
			Port:           getEnvInt("SFTP_PORT", 22),
			Username:       getEnv("SFTP_USERNAME", ""),
			Password:       getEnv("SFTP_PASSWORD", ""),
			PrivateKeyPath: getEnv("SFTP_PRIVATE_KEY_PATH", ""),
			BaseURL:        getEnv("MFT_BASE_URL", ""),
		}
	})
	return mftConfig
}

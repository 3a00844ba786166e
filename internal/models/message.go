package models

import (
	"fmt"
)

// IngestMessage is the inbound queue message announcing one archive.
type IngestMessage struct {
	CorrelationID string `json:"correlationId"`
	ArchivePath   string `json:"archivePath"`
	ClientID      string `json:"clientId,omitempty"`
	Country       string `json:"country,omitempty"`
	AppName       string `json:"appName,omitempty"`
}

// Validate rejects messages missing required fields.
func (m IngestMessage) Validate() error {
	if m.CorrelationID == "" {
		return fmt.Errorf("correlationId is required")
	}
	if m.ArchivePath == "" {
		return fmt.Errorf("archivePath is required")
	}
	return nil
}

package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/tinywideclouds/go-push-relay/pkg/notification"
)

// DefaultTenantCredentials holds the default tenant's provider credentials
// with every referenced file read.
type DefaultTenantCredentials struct {
	FCMAPIKey        string
	FCMV1Credentials []byte
	// APNs is nil when no APNs credential file is configured.
	APNs *notification.APNsCredentials
}

// LoadCredentials reads the credential files named by the config.
func (c DefaultTenantConfig) LoadCredentials() (*DefaultTenantCredentials, error) {
	creds := &DefaultTenantCredentials{FCMAPIKey: c.FCMAPIKey}

	if c.FCMV1CredentialsFile != "" {
		data, err := os.ReadFile(c.FCMV1CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read FCM v1 credentials: %w", err)
		}
		creds.FCMV1Credentials = data
	}

	apns := c.APNs
	switch {
	case apns.CertificateFile != "" && apns.PrivateKeyFile != "":
		return nil, errors.New("apns certificate_file and private_key_file are mutually exclusive")
	case apns.CertificateFile != "":
		cert, err := os.ReadFile(apns.CertificateFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read APNs certificate: %w", err)
		}
		creds.APNs = &notification.APNsCredentials{
			Type:                notification.APNsAuthCertificate,
			Topic:               apns.Topic,
			Sandbox:             apns.Sandbox,
			Certificate:         cert,
			CertificatePassword: apns.CertificatePassword,
		}
	case apns.PrivateKeyFile != "":
		key, err := os.ReadFile(apns.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read APNs private key: %w", err)
		}
		creds.APNs = &notification.APNsCredentials{
			Type:     notification.APNsAuthToken,
			Topic:    apns.Topic,
			Sandbox:  apns.Sandbox,
			PKCS8PEM: key,
			KeyID:    apns.KeyID,
			TeamID:   apns.TeamID,
		}
	}
	if creds.APNs != nil && !creds.APNs.Complete() {
		return nil, errors.New("apns credentials are incomplete: topic and every field of the chosen auth mode are required")
	}
	return creds, nil
}

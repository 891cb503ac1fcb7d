package storage

import (
	"time"

	"github.com/google/uuid"
)

type OTPType string

const (
	OTPTypeSMS   OTPType = "sms"
	OTPTypeEmail OTPType = "email"
)

func (t OTPType) Valid() bool {
	return t == OTPTypeSMS || t == OTPTypeEmail
}

type OTPRequest struct {
	ID         uuid.UUID
	UserID     string
	Code       string
	Type       OTPType
	Contact    string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	Attempts   int
	Verified   bool
	VerifiedAt *time.Time
}

type TokenStatus string

const (
	TokenStatusActive  TokenStatus = "active"
	TokenStatusExpired TokenStatus = "expired"
	TokenStatusRevoked TokenStatus = "revoked"
)

type PartnerToken struct {
	Token            string
	UserID           string
	PartnerID        string
	Status           TokenStatus
	ExpiresAt        time.Time
	UsageCount       int64
	LastUsedAt       *time.Time
	CreatedAt        time.Time
	RevokedAt        *time.Time
	RevocationReason *string
}

type AuthType string

const (
	AuthTypeOTP         AuthType = "otp"
	AuthTypeDemographic AuthType = "demographic"
	AuthTypeBiometric   AuthType = "biometric"
	AuthTypeEKYC        AuthType = "ekyc"
)

func (t AuthType) Valid() bool {
	switch t {
	case AuthTypeOTP, AuthTypeDemographic, AuthTypeBiometric, AuthTypeEKYC:
		return true
	}
	return false
}

type Modality string

const (
	ModalityNone        Modality = ""
	ModalityFingerprint Modality = "fingerprint"
	ModalityIris        Modality = "iris"
	ModalityFace        Modality = "face"
)

func (m Modality) Valid() bool {
	return m == ModalityFingerprint || m == ModalityIris || m == ModalityFace
}

// AuthLock keys on (UserID, AuthType, Modality). Modality is empty for
// every auth type except biometric.
type AuthLock struct {
	UserID     string
	AuthType   AuthType
	Modality   Modality
	IsLocked   bool
	LockedAt   *time.Time
	UnlockedAt *time.Time
}

type AuthStatus string

const (
	AuthStatusSuccess AuthStatus = "success"
	AuthStatusFailed  AuthStatus = "failed"
)

type AuthLog struct {
	ID            uuid.UUID
	UserID        string
	AuthType      AuthType
	Status        AuthStatus
	PartnerID     *string
	FailureReason *string
	CreatedAt     time.Time
}

type DemographicRecord struct {
	UserID      string
	FirstName   string
	LastName    string
	DateOfBirth string
	Phone       string
	Email       string
}

type PartnerStatus string

const (
	PartnerStatusActive    PartnerStatus = "active"
	PartnerStatusInactive  PartnerStatus = "inactive"
	PartnerStatusSuspended PartnerStatus = "suspended"
)

type Partner struct {
	ID           string
	Name         string
	Status       PartnerStatus
	APIKeyPrefix string
	APIKeyHash   string
	AllowedIPs   []string
	CreatedAt    time.Time
}

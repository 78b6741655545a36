package models

import "time"

type PriceType string

const (
	PriceNightly PriceType = "NIGHTLY"
	PriceFlat    PriceType = "FLAT"
)

type CancellationPolicy string

const (
	PolicyFlexible    CancellationPolicy = "FLEXIBLE"
	PolicyModerate    CancellationPolicy = "MODERATE"
	PolicyStrict      CancellationPolicy = "STRICT"
	PolicySuperStrict CancellationPolicy = "SUPER_STRICT"
)

// Window returns how long before check-in a confirmed booking can still be
// cancelled. Zero means the policy is unset and the platform default applies.
func (p CancellationPolicy) Window() time.Duration {
	switch p {
	case PolicyFlexible:
		return 24 * time.Hour
	case PolicyModerate:
		return 5 * 24 * time.Hour
	case PolicyStrict:
		return 7 * 24 * time.Hour
	case PolicySuperStrict:
		return 30 * 24 * time.Hour
	}
	return 0
}

func (p CancellationPolicy) Valid() bool {
	return p == "" || p.Window() > 0
}

// Property amounts are minor currency units.
type Property struct {
	ID                 int64              `json:"id" yaml:"id"`
	OwnerID            int64              `json:"owner_id" yaml:"owner_id"`
	AgentID            int64              `json:"agent_id,omitempty" yaml:"agent_id"`
	Name               string             `json:"name" yaml:"name"`
	PriceType          PriceType          `json:"price_type" yaml:"price_type"`
	Price              int64              `json:"price" yaml:"price"`
	CleaningFee        int64              `json:"cleaning_fee" yaml:"cleaning_fee"`
	ServiceFee         int64              `json:"service_fee" yaml:"service_fee"`
	SecurityDeposit    int64              `json:"security_deposit" yaml:"security_deposit"`
	Currency           string             `json:"currency" yaml:"currency"`
	MinStay            int                `json:"min_stay" yaml:"min_stay"`
	MaxStay            int                `json:"max_stay" yaml:"max_stay"`
	AvailableFrom      *time.Time         `json:"available_from,omitempty" yaml:"-"`
	InstantBook        bool               `json:"instant_book" yaml:"instant_book"`
	CancellationPolicy CancellationPolicy `json:"cancellation_policy" yaml:"cancellation_policy"`
	IsActive           bool               `json:"is_active" yaml:"is_active"`
	CreatedAt          time.Time          `json:"created_at" yaml:"-"`
	UpdatedAt          time.Time          `json:"updated_at" yaml:"-"`
}

// IsHost reports whether userID manages the property.
func (p *Property) IsHost(userID int64) bool {
	return userID != 0 && (p.OwnerID == userID || p.AgentID == userID)
}

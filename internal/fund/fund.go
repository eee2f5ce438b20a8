// Package fund holds the fund record: identity, manager, reference
// asset, reward rates and the lifecycle flags gating all
// capital-raising and order-placing activity.
package fund

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var ErrFundNotFound = errors.New("fund not found")

// Fund is the single fund record.
type Fund struct {
	gorm.Model            `json:"-"`
	FundID                string          `gorm:"uniqueIndex" json:"fund_id"`
	Name                  string          `json:"name"`
	Manager               string          `json:"manager"`
	ReferenceAsset        string          `json:"reference_asset"`
	ManagementRewardRate  decimal.Decimal `json:"management_reward_rate"`  // per second, against DivisorFee
	PerformanceRewardRate decimal.Decimal `json:"performance_reward_rate"` // against DivisorFee
	SubscriptionsEnabled  bool            `json:"subscriptions_enabled"`
	RedemptionsEnabled    bool            `json:"redemptions_enabled"`
	ShutDown              bool            `json:"shut_down"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

// CustodyAccount is the token-ledger account holding the fund's
// assets.
func (f *Fund) CustodyAccount() string { return f.FundID }

// Service manages the fund record.
type Service struct {
	db *gorm.DB
}

// NewService returns a fund service over the given database.
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// Config are the parameters fixed at fund inception.
type Config struct {
	Name                  string
	Manager               string
	ReferenceAsset        string
	ManagementRewardRate  decimal.Decimal
	PerformanceRewardRate decimal.Decimal
}

// Create sets up the fund record. There is exactly one fund per
// database; Create fails if one already exists.
func (s *Service) Create(cfg Config) (*Fund, error) {
	var existing Fund
	err := s.db.First(&existing).Error
	if err == nil {
		return nil, errors.New("fund already exists")
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	f := &Fund{
		FundID:                "FND_" + uuid.New().String(),
		Name:                  cfg.Name,
		Manager:               cfg.Manager,
		ReferenceAsset:        cfg.ReferenceAsset,
		ManagementRewardRate:  cfg.ManagementRewardRate,
		PerformanceRewardRate: cfg.PerformanceRewardRate,
		SubscriptionsEnabled:  true,
		RedemptionsEnabled:    true,
		CreatedAt:             time.Now(),
		UpdatedAt:             time.Now(),
	}
	if err := s.db.Create(f).Error; err != nil {
		return nil, err
	}

	log.Info().
		Str("fund_id", f.FundID).
		Str("manager", f.Manager).
		Str("reference_asset", f.ReferenceAsset).
		Msg("fund created")
	return f, nil
}

// Get returns the fund record.
func (s *Service) Get() (*Fund, error) {
	var f Fund
	if err := s.db.First(&f).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrFundNotFound
		}
		return nil, err
	}
	return &f, nil
}

// Shutdown permanently halts new subscriptions, redemptions and order
// placement. Request cancellation and slice redemption stay available
// so investors can exit.
func (s *Service) Shutdown(reason string) error {
	f, err := s.Get()
	if err != nil {
		return err
	}
	if f.ShutDown {
		return nil
	}
	f.ShutDown = true
	f.UpdatedAt = time.Now()
	if err := s.db.Save(f).Error; err != nil {
		return err
	}
	log.Warn().
		Str("fund_id", f.FundID).
		Str("reason", reason).
		Msg("fund shut down")
	return nil
}

// ToggleSubscriptions enables or disables new subscription requests.
func (s *Service) ToggleSubscriptions(enabled bool) error {
	f, err := s.Get()
	if err != nil {
		return err
	}
	f.SubscriptionsEnabled = enabled
	f.UpdatedAt = time.Now()
	return s.db.Save(f).Error
}

// ToggleRedemptions enables or disables new redemption requests.
func (s *Service) ToggleRedemptions(enabled bool) error {
	f, err := s.Get()
	if err != nil {
		return err
	}
	f.RedemptionsEnabled = enabled
	f.UpdatedAt = time.Now()
	return s.db.Save(f).Error
}

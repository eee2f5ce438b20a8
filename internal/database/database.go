package database

import (
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/openvault/fund-api/internal/accounting"
	"github.com/openvault/fund-api/internal/events"
	"github.com/openvault/fund-api/internal/exchange"
	"github.com/openvault/fund-api/internal/fund"
	"github.com/openvault/fund-api/internal/ledger"
	"github.com/openvault/fund-api/internal/pricefeed"
	"github.com/openvault/fund-api/internal/requests"
	"github.com/openvault/fund-api/internal/token"
	"github.com/openvault/fund-api/internal/trading"
	"github.com/openvault/fund-api/internal/valuation"
)

// NewDatabase initializes a GORM connection at path and migrates the
// full schema.
func NewDatabase(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate auto-migrates every model in the schema.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&fund.Fund{},
		&token.Balance{},
		&token.Allowance{},
		&ledger.ShareBalance{},
		&ledger.ShareSupply{},
		&pricefeed.FeedAsset{},
		&pricefeed.FeedState{},
		&accounting.AssetCounters{},
		&accounting.MakeOrderMarker{},
		&valuation.Calculations{},
		&requests.Request{},
		&trading.Order{},
		&exchange.Order{},
		&events.FundEvent{},
	)
}

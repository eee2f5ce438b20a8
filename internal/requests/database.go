package requests

import (
	"errors"

	"gorm.io/gorm"

	"github.com/openvault/fund-api/internal/types"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) WithTx(tx *gorm.DB) *Database {
	return &Database{db: tx}
}

func (d *Database) CreateRequest(request *Request) error {
	return d.db.Create(request).Error
}

func (d *Database) GetRequest(requestID string) (*Request, error) {
	var request Request
	if err := d.db.Where("request_id = ?", requestID).First(&request).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &request, nil
}

func (d *Database) GetRequestByIDAndOwner(requestID, owner string) (*Request, error) {
	var request Request
	if err := d.db.Where("request_id = ? AND owner = ?", requestID, owner).First(&request).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &request, nil
}

func (d *Database) UpdateRequest(request *Request) error {
	return d.db.Save(request).Error
}

func (d *Database) ListOpenRequests() ([]Request, error) {
	var rows []Request
	if err := d.db.Where("status = ?", types.RequestStatusOpen).Order("id asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

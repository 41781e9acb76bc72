package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/evtrade-backend/pkg/enums"
)

// Product is the read model of a catalog listing. Catalog CRUD lives elsewhere;
// checkout only snapshots it and completion decrements stock.
type Product struct {
	ID        uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	SellerID  uuid.UUID             `gorm:"column:seller_id;type:uuid;not null"`
	Name      string                `gorm:"column:name;not null"`
	Category  enums.ProductCategory `gorm:"column:category;not null"`
	Price     int64                 `gorm:"column:price;not null"`
	Stock     int                   `gorm:"column:stock;not null;default:0"`
	IsActive  bool                  `gorm:"column:is_active;not null;default:true"`
	CreatedAt time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

// ServicePackage is a paid listing package bought straight from the platform.
type ServicePackage struct {
	ID           uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name         string    `gorm:"column:name;not null"`
	Price        int64     `gorm:"column:price;not null"`
	DurationDays int       `gorm:"column:duration_days;not null"`
	IsActive     bool      `gorm:"column:is_active;not null;default:true"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
}

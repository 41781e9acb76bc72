package enums

import "slices"

// ProductCategory distinguishes listings that follow the deposit flow.
type ProductCategory string

const (
	ProductCategoryVehicle   ProductCategory = "VEHICLE"
	ProductCategoryBattery   ProductCategory = "BATTERY"
	ProductCategoryAccessory ProductCategory = "ACCESSORY"
)

var validProductCategories = []ProductCategory{
	ProductCategoryVehicle,
	ProductCategoryBattery,
	ProductCategoryAccessory,
}

// IsValid reports whether the value is a known ProductCategory.
func (c ProductCategory) IsValid() bool {
	return slices.Contains(validProductCategories, c)
}

// RequiresDeposit reports whether checkout starts in AWAITING_DEPOSIT.
func (c ProductCategory) RequiresDeposit() bool {
	return c == ProductCategoryVehicle
}

// ParseProductCategory converts raw input into a ProductCategory.
func ParseProductCategory(value string) (ProductCategory, error) {
	return parse(validProductCategories, value, "product category")
}

package product

import (
	"time"

	"github.com/shopspring/decimal"
)

// TimestampLayout is the layout of Product.Timestamp: UTC with millisecond
// precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Product is a catalog item owned by a single identity.
type Product struct {
	ID          string
	Name        string
	Description string
	// Price is nil when the owner did not set one.
	Price     *decimal.Decimal
	ImageURL  string
	UserID    string
	Timestamp string
}

// Draft holds the user-editable fields of a product. The owner, key and
// timestamp are assigned when it is written.
type Draft struct {
	Name        string
	Description string
	Price       *decimal.Decimal
	ImageURL    string
}

// Record builds the stored form of d for the given owner at time now.
func (d Draft) Record(userID string, now time.Time) Product {
	return Product{
		Name:        d.Name,
		Description: d.Description,
		Price:       d.Price,
		ImageURL:    d.ImageURL,
		UserID:      userID,
		Timestamp:   now.UTC().Format(TimestampLayout),
	}
}

// CollectionPath is the realtime store path of userID's catalog.
func CollectionPath(userID string) string {
	return "products/" + userID
}

// ItemPath is the realtime store path of a single product.
func ItemPath(userID, productID string) string {
	return CollectionPath(userID) + "/" + productID
}

// ImagePath is the blob store path of a product image.
func ImagePath(userID, productID string) string {
	return "product_images/" + userID + "/" + productID
}

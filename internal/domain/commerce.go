package domain

import (
	"encoding/json"
	"time"
)

// Customer is the local copy of an upstream customer
type Customer struct {
	ShopifyCustomerID string    `json:"shopifyCustomerId" db:"shopify_customer_id"`
	Email             string    `json:"email" db:"email"`
	FirstName         string    `json:"firstName" db:"first_name"`
	LastName          string    `json:"lastName" db:"last_name"`
	Phone             string    `json:"phone" db:"phone"`
	AcceptsMarketing  bool      `json:"acceptsMarketing" db:"accepts_marketing"`
	TotalSpent        float64   `json:"totalSpent" db:"total_spent"`
	OrdersCount       int       `json:"ordersCount" db:"orders_count"`
	Tags              []string  `json:"tags" db:"-"`
	CreatedAt         time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt         time.Time `json:"updatedAt" db:"updated_at"`
}

// Order is the local copy of an upstream order
type Order struct {
	ShopifyOrderID    string          `json:"shopifyOrderId" db:"shopify_order_id"`
	OrderNumber       string          `json:"orderNumber" db:"order_number"`
	CustomerID        string          `json:"customerId" db:"shopify_customer_id"`
	CustomerEmail     string          `json:"customerEmail" db:"customer_email"`
	CustomerName      string          `json:"customerName" db:"customer_name"`
	TotalPrice        float64         `json:"totalPrice" db:"total_price"`
	Currency          string          `json:"currency" db:"currency"`
	FinancialStatus   string          `json:"financialStatus" db:"financial_status"`
	FulfillmentStatus string          `json:"fulfillmentStatus" db:"fulfillment_status"`
	ShippingAddress   json.RawMessage `json:"shippingAddress,omitempty" db:"shipping_address"`
	BillingAddress    json.RawMessage `json:"billingAddress,omitempty" db:"billing_address"`
	CreatedAt         time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt         time.Time       `json:"updatedAt" db:"updated_at"`
}

// Product is the local copy of an upstream product
type Product struct {
	ShopifyProductID string    `json:"shopifyProductId" db:"shopify_product_id"`
	Title            string    `json:"title" db:"title"`
	Handle           string    `json:"handle" db:"handle"`
	Description      string    `json:"description" db:"description"`
	ProductType      string    `json:"productType" db:"product_type"`
	Vendor           string    `json:"vendor" db:"vendor"`
	Status           string    `json:"status" db:"status"`
	Tags             []string  `json:"tags" db:"-"`
	CreatedAt        time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt        time.Time `json:"updatedAt" db:"updated_at"`
}

// InventoryLevel is the available quantity of an item at a location
type InventoryLevel struct {
	InventoryItemID string    `json:"inventoryItemId" db:"shopify_inventory_item_id"`
	LocationID      string    `json:"locationId" db:"shopify_location_id"`
	Available       int       `json:"available" db:"available"`
	UpdatedAt       time.Time `json:"updatedAt" db:"updated_at"`
}

// Package shopify decodes Shopify webhook payloads and turns them into
// commerce records and notifications.
package shopify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cuongbtq/magnolia-webhooks/internal/domain"
)

// ID accepts both numeric and string identifiers
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a number or a string: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// Money accepts Shopify's decimal strings as well as plain numbers
type Money float64

func (m *Money) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) || bytes.Equal(data, []byte(`""`)) {
		*m = 0
		return nil
	}
	raw := string(bytes.Trim(data, `"`))
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	*m = Money(v)
	return nil
}

// Tags is Shopify's comma-separated tag list
type Tags []string

func (t *Tags) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// arrays show up in some API versions
		var list []string
		if errList := json.Unmarshal(data, &list); errList != nil {
			return err
		}
		*t = cleanTags(list)
		return nil
	}
	*t = cleanTags(strings.Split(s, ","))
	return nil
}

func cleanTags(in []string) Tags {
	out := Tags{}
	for _, tag := range in {
		if tag = strings.TrimSpace(tag); tag != "" {
			out = append(out, tag)
		}
	}
	return out
}

type Customer struct {
	ID               ID         `json:"id"`
	Email            string     `json:"email"`
	FirstName        string     `json:"first_name"`
	LastName         string     `json:"last_name"`
	Phone            string     `json:"phone"`
	AcceptsMarketing bool       `json:"accepts_marketing"`
	TotalSpent       Money      `json:"total_spent"`
	OrdersCount      int        `json:"orders_count"`
	Tags             Tags       `json:"tags"`
	CreatedAt        *time.Time `json:"created_at"`
}

// FullName joins first and last name
func (c *Customer) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

type Order struct {
	ID                ID              `json:"id"`
	Name              string          `json:"name"`
	Email             string          `json:"email"`
	TotalPrice        Money           `json:"total_price"`
	Currency          string          `json:"currency"`
	FinancialStatus   string          `json:"financial_status"`
	FulfillmentStatus string          `json:"fulfillment_status"`
	ShippingAddress   json.RawMessage `json:"shipping_address"`
	BillingAddress    json.RawMessage `json:"billing_address"`
	LineItems         []LineItem      `json:"line_items"`
	Customer          *Customer       `json:"customer"`
	CreatedAt         *time.Time      `json:"created_at"`
}

type LineItem struct {
	ID       ID     `json:"id"`
	Title    string `json:"title"`
	Quantity int    `json:"quantity"`
	Price    Money  `json:"price"`
}

type Product struct {
	ID          ID         `json:"id"`
	Title       string     `json:"title"`
	Handle      string     `json:"handle"`
	BodyHTML    string     `json:"body_html"`
	ProductType string     `json:"product_type"`
	Vendor      string     `json:"vendor"`
	Status      string     `json:"status"`
	Tags        Tags       `json:"tags"`
	CreatedAt   *time.Time `json:"created_at"`
}

type InventoryLevel struct {
	InventoryItemID ID   `json:"inventory_item_id"`
	LocationID      ID   `json:"location_id"`
	Available       *int `json:"available"`
}

// ExternalID derives the entity id a delivery is keyed by. Inventory levels
// have no id of their own and are keyed by item, or item:location.
func ExternalID(topic string, body []byte) (string, error) {
	var ids struct {
		ID              ID `json:"id"`
		InventoryItemID ID `json:"inventory_item_id"`
		LocationID      ID `json:"location_id"`
	}
	if err := json.Unmarshal(body, &ids); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}

	if topic == domain.TopicInventoryLevelsUpdate {
		if ids.InventoryItemID == "" {
			return "", fmt.Errorf("%w: inventory_item_id is missing", domain.ErrInvalidPayload)
		}
		if ids.LocationID != "" {
			return string(ids.InventoryItemID) + ":" + string(ids.LocationID), nil
		}
		return string(ids.InventoryItemID), nil
	}

	if ids.ID == "" {
		return "", fmt.Errorf("%w: id is missing", domain.ErrInvalidPayload)
	}
	return string(ids.ID), nil
}

// decode unmarshals a job payload; structural problems are permanent
func decode(payload []byte, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return domain.NewPermanentError(fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err))
	}
	return nil
}

func missing(field string) error {
	return domain.NewPermanentError(fmt.Errorf("%w: %s is missing", domain.ErrInvalidPayload, field))
}

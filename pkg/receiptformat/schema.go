// Package receiptformat defines the order description consumed by the receipt and kitchen encoders
package receiptformat

import "time"

// OrderType is the fulfillment mode of an order
type OrderType string

const (
	DineIn   OrderType = "dine-in"
	Takeaway OrderType = "takeaway"
)

// ItemKind classifies a line item for kitchen routing
type ItemKind string

const (
	KindFood  ItemKind = "food"
	KindDrink ItemKind = "drink"
)

// PaymentMethod names how an order was settled
type PaymentMethod string

const (
	PaymentCash  PaymentMethod = "cash"
	PaymentGCash PaymentMethod = "gcash"
	PaymentCard  PaymentMethod = "card"
	PaymentSplit PaymentMethod = "split"
)

// BuildInput is the single order description shared by the customer
// receipt and kitchen order builders. It is treated as read-only.
type BuildInput struct {
	OrderNumber string    `json:"orderNumber"`
	CreatedAt   time.Time `json:"createdAt"`
	PrintedAt   time.Time `json:"printedAt,omitempty"`

	CustomerName string `json:"customerName,omitempty"`
	CashierName  string `json:"cashierName,omitempty"`

	OrderType   OrderType `json:"orderType"`
	TableNumber string    `json:"tableNumber,omitempty"`

	Items []Item `json:"items"`

	Subtotal      float64 `json:"subtotal"`
	DiscountTotal float64 `json:"discountTotal"`
	Total         float64 `json:"total"`

	Payment Payment `json:"payment"`

	SeniorID string `json:"seniorId,omitempty"`
	PWDID    string `json:"pwdId,omitempty"`

	Reprint bool   `json:"isReprint,omitempty"`
	Note    string `json:"note,omitempty"` // kitchen note

	Business Business `json:"business"`
}

// Item is one ordered product
type Item struct {
	Name        string   `json:"name"`
	Price       float64  `json:"price"` // unit price
	Quantity    int      `json:"quantity"`
	HasDiscount bool     `json:"hasDiscount,omitempty"`
	Kind        ItemKind `json:"kind,omitempty"` // empty when upstream did not classify the product
}

// Amount returns price times quantity.
func (i Item) Amount() float64 {
	return i.Price * float64(i.Quantity)
}

// Payment describes settlement; split amounts are only meaningful for PaymentSplit
type Payment struct {
	Method         PaymentMethod `json:"method"`
	CashAmount     float64       `json:"cashAmount,omitempty"`
	GCashAmount    float64       `json:"gcashAmount,omitempty"`
	CardAmount     float64       `json:"cardAmount,omitempty"`
	AmountTendered float64       `json:"amountTendered,omitempty"`
	Change         float64       `json:"change,omitempty"`
}

// Business holds the display fields printed in headers and footers
type Business struct {
	Name          string `json:"name"`
	Address       string `json:"address,omitempty"`
	Phone         string `json:"phone,omitempty"`
	FooterMessage string `json:"footerMessage,omitempty"`
	Currency      string `json:"currency,omitempty"` // defaults to ₱
	Logo          string `json:"logo,omitempty"`     // base64 PNG/JPEG
	FeedbackURL   string `json:"feedbackUrl,omitempty"`
	ShowBarcode   bool   `json:"showBarcode,omitempty"`
}

// Timestamp is the time printed on tickets: PrintedAt when set, else CreatedAt.
func (in *BuildInput) Timestamp() time.Time {
	if !in.PrintedAt.IsZero() {
		return in.PrintedAt
	}
	return in.CreatedAt
}

// FoodItems returns the items classified as food, plus the number of items
// that were neither food nor drink (missing or unknown kind).
func (in *BuildInput) FoodItems() (food []Item, unclassified int) {
	for _, item := range in.Items {
		switch item.Kind {
		case KindFood:
			food = append(food, item)
		case KindDrink:
		default:
			unclassified++
		}
	}
	return food, unclassified
}

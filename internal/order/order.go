package order

import "time"

// StatusReceived is the initial status of every placed order.
const StatusReceived = "received"

// Line is a snapshot of one cart line at placement time.
type Line struct {
	ItemID   string  `json:"item_id"`
	Name     string  `json:"name"`
	Unit     string  `json:"unit"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
}

// Order is an immutable snapshot of a cart at checkout. Once written it is
// never modified; history is append-only.
type Order struct {
	OrderID         string    `json:"order_id"`
	CustomerName    string    `json:"customer_name"`
	CreatedAt       time.Time `json:"created_at"`
	Status          string    `json:"status"`
	Lines           []Line    `json:"items"`
	Total           float64   `json:"total"`
	DeliveryAddress string    `json:"delivery_address,omitempty"`
}

package models

// OrderEvent is the payload of the order.* events handled by the consumer.
type OrderEvent struct {
	EventType       string      `json:"event_type"`
	Timestamp       string      `json:"timestamp"`
	OrderID         string      `json:"order_id"`
	CustomerID      string      `json:"customer_id"`
	Items           []OrderItem `json:"items"`
	TotalAmount     string      `json:"total_amount"`
	Currency        string      `json:"currency"`
	ShippingAddress Address     `json:"shipping_address"`
	PaymentMethod   string      `json:"payment_method"`
	Status          string      `json:"status"`
}

type OrderItem struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

type Address struct {
	Province   string `json:"province"`
	District   string `json:"district"`
	PostalCode string `json:"postal_code"`
}

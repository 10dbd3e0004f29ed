package transfer

import (
	"encoding/json"
	"strings"
)

// Dimensions carries the shipping dimensions of a product.
type Dimensions struct {
	Length float64 `json:"length"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// PayloadImage references a product image on the source site. The target
// downloads the URL during reconciliation.
type PayloadImage struct {
	ID      uint   `json:"id"`
	URL     string `json:"url"`
	Alt     string `json:"alt,omitempty"`
	Title   string `json:"title,omitempty"`
	Caption string `json:"caption,omitempty"`
}

// TransferPayload is the wire representation of one product transfer.
// Field order is fixed by the struct, so json.Marshal of the same payload is
// byte-stable and both sites compute the signature over identical bytes.
type TransferPayload struct {
	OriginalProductID uint                   `json:"original_product_id"`
	VariationID       uint                   `json:"variation_id,omitempty"`
	SKU               string                 `json:"sku"`
	Name              string                 `json:"name"`
	Description       string                 `json:"description,omitempty"`
	ShortDescription  string                 `json:"short_description,omitempty"`
	Price             float64                `json:"price"`
	RegularPrice      float64                `json:"regular_price,omitempty"`
	SalePrice         float64                `json:"sale_price,omitempty"`
	Quantity          int                    `json:"quantity"`
	Weight            float64                `json:"weight,omitempty"`
	Dimensions        Dimensions             `json:"dimensions"`
	VariationData     map[string]string      `json:"variation_data,omitempty"`
	MetaData          map[string]interface{} `json:"meta_data,omitempty"`
	Images            []PayloadImage         `json:"images,omitempty"`
	Categories        []string               `json:"categories,omitempty"`
	Tags              []string               `json:"tags,omitempty"`
	Attributes        map[string][]string    `json:"attributes,omitempty"`
	SourceSite        string                 `json:"source_site"`
	Timestamp         int64                  `json:"timestamp"`
}

// Canonical returns the byte representation both sites sign and verify.
func (p *TransferPayload) Canonical() ([]byte, error) {
	return json.Marshal(p)
}

// Validate checks the payload for the minimum a receiving site needs to
// reconcile a product.
func (p *TransferPayload) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return NewError(KindValidation, "product name is required")
	}
	if p.Quantity <= 0 {
		return NewError(KindValidation, "quantity must be greater than zero")
	}
	if p.Price < 0 {
		return NewError(KindValidation, "price must not be negative")
	}
	if strings.TrimSpace(p.SourceSite) == "" {
		return NewError(KindValidation, "source site is required")
	}
	return nil
}

// Envelope is the signed wrapper POSTed to the receive endpoint.
type Envelope struct {
	Payload   TransferPayload `json:"product_data"`
	Timestamp int64           `json:"timestamp"`
	Signature string          `json:"signature"`
}

// ReceiveResponseData is the success data block returned by the receiver.
type ReceiveResponseData struct {
	ProductID   uint    `json:"product_id"`
	CartItemKey string  `json:"cart_item_key"`
	RedirectURL string  `json:"redirect_url"`
	CartCount   int     `json:"cart_count"`
	CartTotal   float64 `json:"cart_total"`
}

// ReceiveResponse is the receiver's JSON answer to a transfer.
type ReceiveResponse struct {
	Success    bool                 `json:"success"`
	Message    string               `json:"message,omitempty"`
	Data       *ReceiveResponseData `json:"data,omitempty"`
	SSLWarning bool                 `json:"ssl_warning,omitempty"`
}

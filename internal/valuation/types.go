package valuation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Amount is a monetary value. The service sometimes sends numbers as
// formatted strings ("$1,250"), so both forms are accepted.
type Amount float64

func (a *Amount) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		*a = Amount(f)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("valuation: amount %s: %w", data, err)
	}
	s = strings.NewReplacer("$", "", ",", "", " ", "").Replace(s)
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("valuation: amount %q: %w", s, err)
	}
	*a = Amount(f)
	return nil
}

// Valuation holds the price estimates for a domain.
type Valuation struct {
	EstimatedValue   Amount `json:"estimatedValue"`
	AuctionValue     Amount `json:"auctionValue"`
	MarketplaceValue Amount `json:"marketplaceValue"`
	BrokerageValue   Amount `json:"brokerageValue"`
}

// Response is one valuation as returned by the service. The typed fields
// are a read-only view; the payload is otherwise passed through verbatim.
type Response struct {
	Domain      string    `json:"domain"`
	Valuation   Valuation `json:"valuation"`
	Confidence  any       `json:"confidence,omitempty"`
	LastUpdated string    `json:"lastUpdated,omitempty"`
	Error       string    `json:"error,omitempty"`

	raw json.RawMessage
}

type responseView Response

// UnmarshalJSON keeps the original bytes. Only a payload that is not a
// JSON object is rejected; unexpected field shapes leave the typed view
// partially filled.
func (r *Response) UnmarshalJSON(data []byte) error {
	var view responseView
	if err := json.Unmarshal(data, &view); err != nil {
		var minimal struct {
			Domain string `json:"domain"`
			Error  string `json:"error"`
		}
		if err := json.Unmarshal(data, &minimal); err != nil {
			return fmt.Errorf("valuation: response is not an object: %w", err)
		}
		view = responseView{Domain: minimal.Domain, Error: minimal.Error}
	}
	*r = Response(view)
	r.raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON re-emits the payload exactly as received when there is one.
func (r Response) MarshalJSON() ([]byte, error) {
	if len(r.raw) > 0 {
		return r.raw, nil
	}
	return json.Marshal(responseView(r))
}

// Raw returns the payload as received, or nil for a locally built value.
func (r *Response) Raw() json.RawMessage {
	return r.raw
}

// BulkResponse is the canonical shape of a bulk valuation: {"results": [...]}.
type BulkResponse struct {
	Results []Response `json:"results"`
	Error   string     `json:"error,omitempty"`
}

package adminhttp

import (
	"errors"
	"strings"

	"stratexec/internal/engine"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// Fill reports come from outside systems with varying field names and
// numbers sent as either strings or JSON numbers.
var (
	fillOrderKeys    = []string{"order_id", "orderId", "client_order_id", "id"}
	fillPriceKeys    = []string{"price", "fill_price", "fillPrice", "avg_price"}
	fillQuantityKeys = []string{"quantity", "fill_quantity", "fillQuantity", "filled_qty", "qty"}
)

func parseFills(raw []byte, orderID string) ([]engine.Fill, error) {
	body := strings.TrimSpace(string(raw))
	if body == "" {
		return nil, errors.New("empty fill payload")
	}
	if !gjson.Valid(body) {
		return nil, errors.New("invalid json")
	}
	parsed := gjson.Parse(body)
	if fills := parsed.Get("fills"); fills.Exists() {
		parsed = fills
	}
	if !parsed.IsArray() {
		f, err := parseFill(parsed, orderID)
		if err != nil {
			return nil, err
		}
		return []engine.Fill{f}, nil
	}
	var (
		out []engine.Fill
		err error
	)
	parsed.ForEach(func(_, value gjson.Result) bool {
		var f engine.Fill
		if f, err = parseFill(value, orderID); err != nil {
			return false
		}
		out = append(out, f)
		return true
	})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, errors.New("no fills in payload")
	}
	return out, nil
}

func parseFill(v gjson.Result, orderID string) (engine.Fill, error) {
	if !v.IsObject() {
		return engine.Fill{}, errors.New("fill must be an object")
	}
	id := strings.TrimSpace(first(v, fillOrderKeys).String())
	if id == "" {
		id = orderID
	}
	if id == "" {
		return engine.Fill{}, errors.New("fill order_id is required")
	}
	price, err := decimalField(v, fillPriceKeys, "price")
	if err != nil {
		return engine.Fill{}, err
	}
	qty, err := decimalField(v, fillQuantityKeys, "quantity")
	if err != nil {
		return engine.Fill{}, err
	}
	return engine.Fill{OrderID: id, Price: price, Quantity: qty}, nil
}

func first(v gjson.Result, keys []string) gjson.Result {
	for _, k := range keys {
		if got := v.Get(k); got.Exists() {
			return got
		}
	}
	return gjson.Result{}
}

func decimalField(v gjson.Result, keys []string, name string) (decimal.Decimal, error) {
	got := first(v, keys)
	if !got.Exists() {
		return decimal.Zero, errors.New("fill " + name + " is required")
	}
	switch got.Type {
	case gjson.Number:
		return decimal.NewFromString(got.Raw)
	case gjson.String:
		d, err := decimal.NewFromString(strings.TrimSpace(got.Str))
		if err != nil {
			return decimal.Zero, errors.New("fill " + name + " is not a number")
		}
		return d, nil
	default:
		return decimal.Zero, errors.New("fill " + name + " is not a number")
	}
}

package adminhttp

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Request schemas check shape only. Domain rules such as positive
// quantities stay with the engine so each signal fails on its own.
const (
	decimalType = `{"type": ["string", "number"]}`

	signalsSchema = `{
  "type": "object",
  "required": ["signals"],
  "properties": {
    "signals": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["symbol", "action"],
        "properties": {
          "symbol": {"type": "string"},
          "action": {"type": "string"},
          "quantity": ` + decimalType + `,
          "weight": ` + decimalType + `,
          "type": {"type": "string"},
          "price": ` + decimalType + `,
          "metadata": {"type": "object"}
        }
      }
    },
    "metadata": {"type": "object"}
  }
}`

	orderSchema = `{
  "type": "object",
  "required": ["strategy_id", "symbol", "side", "type", "quantity"],
  "properties": {
    "strategy_id": {"type": "string", "minLength": 1},
    "symbol": {"type": "string"},
    "side": {"type": "string"},
    "type": {"type": "string"},
    "quantity": ` + decimalType + `,
    "price": ` + decimalType + `,
    "metadata": {"type": "object"}
  }
}`
)

type schemas struct {
	signals *jsonschema.Schema
	order   *jsonschema.Schema
}

func compileSchemas() (schemas, error) {
	signals, err := compileSchema("signals.json", signalsSchema)
	if err != nil {
		return schemas{}, err
	}
	order, err := compileSchema("order.json", orderSchema)
	if err != nil {
		return schemas{}, err
	}
	return schemas{signals: signals, order: order}, nil
}

func compileSchema(name, raw string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("schema %s: %w", name, err)
	}
	return compiler.Compile(name)
}

// decodeValidated checks raw against schema and then decodes it into dst.
func decodeValidated(schema *jsonschema.Schema, raw []byte, dst any) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

package distribution

import (
	"encoding/json"
	"fmt"

	"index_trader/internal/llm"

	"github.com/shopspring/decimal"
)

// Action is a change an agent requests on the distribution
type Action string

const (
	ActionAdd    Action = "add"
	ActionRemove Action = "remove"
	ActionSet    Action = "set"
)

// Instruction is one distribution change. Weight is a percentage; for add
// it is optional and defaults to an equal share.
type Instruction struct {
	Action Action  `json:"action"`
	Asset  string  `json:"asset"`
	Weight float64 `json:"weight,omitempty"`
}

const instructionsSchemaDoc = `{
  "type": "object",
  "required": ["instructions"],
  "properties": {
    "instructions": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["action", "asset"],
        "properties": {
          "action": {"enum": ["add", "remove", "set"]},
          "asset": {"type": "string", "minLength": 1},
          "weight": {"type": "number", "minimum": 0, "maximum": 100}
        }
      }
    },
    "reasoning": {"type": "string"}
  }
}`

// InstructionsSchema validates distribution instruction documents
var InstructionsSchema = llm.MustCompileSchema("distribution_instructions.json", instructionsSchemaDoc)

// ParseInstructions decodes a schema-valid instruction document
func ParseInstructions(raw []byte) ([]Instruction, string, error) {
	if err := InstructionsSchema.Validate(raw); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidDistribution, err)
	}
	var doc struct {
		Instructions []Instruction `json:"instructions"`
		Reasoning    string        `json:"reasoning"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidDistribution, err)
	}
	return doc.Instructions, doc.Reasoning, nil
}

// Apply returns base changed by the instructions, in order, then normalized
// to 100. Removing an absent asset is a no-op. An empty result is an error.
func Apply(base Target, instructions []Instruction) (Target, error) {
	t := base.Clone()
	for _, in := range instructions {
		asset := normalizeAsset(in.Asset)
		if asset == "" {
			return nil, fmt.Errorf("%w: instruction without asset", ErrInvalidDistribution)
		}
		weight := decimal.NewFromFloat(in.Weight)
		if weight.IsNegative() {
			return nil, fmt.Errorf("%w: negative weight for %s", ErrInvalidDistribution, asset)
		}

		switch in.Action {
		case ActionRemove:
			delete(t, asset)
		case ActionSet:
			if weight.IsZero() {
				delete(t, asset)
				continue
			}
			t[asset] = weight
		case ActionAdd:
			if _, held := t[asset]; held && weight.IsZero() {
				continue
			}
			if weight.IsZero() {
				weight = hundred.DivRound(decimal.NewFromInt(int64(len(t)+1)), weightPrecision)
			}
			t[asset] = weight
		default:
			return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidDistribution, in.Action)
		}
	}

	out := t.Normalize()
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: instructions leave an empty distribution", ErrInvalidDistribution)
	}
	return out, nil
}

package document

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
)

// ToAttributeValue converts a value to its DynamoDB attribute form.
func ToAttributeValue(v Value) types.AttributeValue {
	switch v.typ {
	case TypeString:
		return &types.AttributeValueMemberS{Value: v.str}
	case TypeNumber:
		return &types.AttributeValueMemberN{Value: v.num.String()}
	case TypeBool:
		return &types.AttributeValueMemberBOOL{Value: v.b}
	case TypeList:
		items := make([]types.AttributeValue, len(v.list))
		for i, item := range v.list {
			items[i] = ToAttributeValue(item)
		}
		return &types.AttributeValueMemberL{Value: items}
	case TypeMap:
		return &types.AttributeValueMemberM{Value: MapToAttributeValues(v.m)}
	default:
		return &types.AttributeValueMemberNULL{Value: true}
	}
}

// MapToAttributeValues converts every entry of m.
func MapToAttributeValues(m Map) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(m))
	for k, v := range m {
		out[k] = ToAttributeValue(v)
	}
	return out
}

// FromAttributeValue converts a DynamoDB attribute to a value. String and
// number sets become lists; binary attributes are not representable.
func FromAttributeValue(av types.AttributeValue) (Value, error) {
	switch x := av.(type) {
	case *types.AttributeValueMemberS:
		return String(x.Value), nil
	case *types.AttributeValueMemberN:
		d, err := decimal.NewFromString(x.Value)
		if err != nil {
			return Value{}, fmt.Errorf("document: bad number %q: %w", x.Value, err)
		}
		return Number(d), nil
	case *types.AttributeValueMemberBOOL:
		return Bool(x.Value), nil
	case *types.AttributeValueMemberNULL:
		return Null(), nil
	case *types.AttributeValueMemberL:
		items := make([]Value, len(x.Value))
		for i, item := range x.Value {
			v, err := FromAttributeValue(item)
			if err != nil {
				return Value{}, err
			}
			items[i] = v
		}
		return List(items...), nil
	case *types.AttributeValueMemberM:
		m, err := MapFromAttributeValues(x.Value)
		if err != nil {
			return Value{}, err
		}
		return Object(m), nil
	case *types.AttributeValueMemberSS:
		items := make([]Value, len(x.Value))
		for i, s := range x.Value {
			items[i] = String(s)
		}
		return List(items...), nil
	case *types.AttributeValueMemberNS:
		items := make([]Value, len(x.Value))
		for i, s := range x.Value {
			d, err := decimal.NewFromString(s)
			if err != nil {
				return Value{}, fmt.Errorf("document: bad number %q: %w", s, err)
			}
			items[i] = Number(d)
		}
		return List(items...), nil
	default:
		return Value{}, fmt.Errorf("%w: attribute %T", ErrUnsupported, av)
	}
}

// MapFromAttributeValues converts a DynamoDB map attribute.
func MapFromAttributeValues(raw map[string]types.AttributeValue) (Map, error) {
	m := make(Map, len(raw))
	for k, av := range raw {
		v, err := FromAttributeValue(av)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", k, err)
		}
		m[k] = v
	}
	return m, nil
}

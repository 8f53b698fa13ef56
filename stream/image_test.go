package stream

import (
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

func TestConvertImage_AllTypes(t *testing.T) {
	image := map[string]events.DynamoDBAttributeValue{
		"s":    events.NewStringAttribute("text"),
		"n":    events.NewNumberAttribute("42.5"),
		"b":    events.NewBinaryAttribute([]byte{1, 2}),
		"bool": events.NewBooleanAttribute(true),
		"null": events.NewNullAttribute(),
		"ss":   events.NewStringSetAttribute([]string{"a", "b"}),
		"ns":   events.NewNumberSetAttribute([]string{"1", "2"}),
		"bs":   events.NewBinarySetAttribute([][]byte{{3}}),
		"list": events.NewListAttribute([]events.DynamoDBAttributeValue{
			events.NewStringAttribute("x"),
			events.NewNumberAttribute("7"),
		}),
		"map": events.NewMapAttribute(map[string]events.DynamoDBAttributeValue{
			"inner": events.NewMapAttribute(map[string]events.DynamoDBAttributeValue{
				"leaf": events.NewStringAttribute("deep"),
			}),
		}),
	}

	item, err := ConvertImage(image)
	if err != nil {
		t.Fatalf("ConvertImage: %v", err)
	}
	if len(item) != len(image) {
		t.Fatalf("expected %d attributes, got %d", len(image), len(item))
	}

	if v, ok := item["s"].(*types.AttributeValueMemberS); !ok || v.Value != "text" {
		t.Errorf("unexpected s: %#v", item["s"])
	}
	if v, ok := item["n"].(*types.AttributeValueMemberN); !ok || v.Value != "42.5" {
		t.Errorf("unexpected n: %#v", item["n"])
	}
	if v, ok := item["b"].(*types.AttributeValueMemberB); !ok || len(v.Value) != 2 {
		t.Errorf("unexpected b: %#v", item["b"])
	}
	if v, ok := item["bool"].(*types.AttributeValueMemberBOOL); !ok || !v.Value {
		t.Errorf("unexpected bool: %#v", item["bool"])
	}
	if _, ok := item["null"].(*types.AttributeValueMemberNULL); !ok {
		t.Errorf("unexpected null: %#v", item["null"])
	}
	if v, ok := item["ss"].(*types.AttributeValueMemberSS); !ok || len(v.Value) != 2 {
		t.Errorf("unexpected ss: %#v", item["ss"])
	}
	if v, ok := item["ns"].(*types.AttributeValueMemberNS); !ok || len(v.Value) != 2 {
		t.Errorf("unexpected ns: %#v", item["ns"])
	}
	if v, ok := item["bs"].(*types.AttributeValueMemberBS); !ok || len(v.Value) != 1 {
		t.Errorf("unexpected bs: %#v", item["bs"])
	}

	list, ok := item["list"].(*types.AttributeValueMemberL)
	if !ok || len(list.Value) != 2 {
		t.Fatalf("unexpected list: %#v", item["list"])
	}
	if v, ok := list.Value[1].(*types.AttributeValueMemberN); !ok || v.Value != "7" {
		t.Errorf("unexpected list item: %#v", list.Value[1])
	}

	outer, ok := item["map"].(*types.AttributeValueMemberM)
	if !ok {
		t.Fatalf("unexpected map: %#v", item["map"])
	}
	inner, ok := outer.Value["inner"].(*types.AttributeValueMemberM)
	if !ok {
		t.Fatalf("unexpected inner map: %#v", outer.Value["inner"])
	}
	if v, ok := inner.Value["leaf"].(*types.AttributeValueMemberS); !ok || v.Value != "deep" {
		t.Errorf("unexpected leaf: %#v", inner.Value["leaf"])
	}
}

func TestConvertImage_Empty(t *testing.T) {
	item, err := ConvertImage(nil)
	if err != nil {
		t.Fatalf("ConvertImage: %v", err)
	}
	if item == nil || len(item) != 0 {
		t.Errorf("expected empty non-nil item, got %#v", item)
	}
}

func TestKeyID(t *testing.T) {
	tests := []struct {
		name string
		keys map[string]events.DynamoDBAttributeValue
		want string
	}{
		{"string id", map[string]events.DynamoDBAttributeValue{"id": events.NewStringAttribute("c-1")}, "c-1"},
		{"numeric id", map[string]events.DynamoDBAttributeValue{"id": events.NewNumberAttribute("1")}, ""},
		{"missing", map[string]events.DynamoDBAttributeValue{"pk": events.NewStringAttribute("x")}, ""},
		{"nil", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := keyID(tt.keys); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

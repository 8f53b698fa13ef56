// Package cursor encodes and decodes opaque pagination tokens.
//
// A token is the store-native resume position of a paged read, serialized
// as JSON, base64url encoded and signed with HMAC-SHA256:
//
//	base64url(payload) "." base64url(mac)
//
// Tokens carry everything needed to resume; no state is kept between calls.
package cursor

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/vishallnvk/knowlio/errs"
)

const version = 1

// ErrEmptySecret is returned by New when no signing secret is configured.
var ErrEmptySecret = errors.New("cursor: signing secret is empty")

// State is a resume position: the index the read was planned against and
// the key attributes of the last record returned. An empty Index stands
// for a table scan.
type State struct {
	Index    string
	Position map[string]types.AttributeValue
}

// Codec signs and verifies tokens with a shared secret.
type Codec struct {
	secret []byte
}

// New creates a codec.
func New(secret []byte) (*Codec, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	return &Codec{secret: append([]byte(nil), secret...)}, nil
}

type payload struct {
	V        int                  `json:"v"`
	Index    string               `json:"i,omitempty"`
	Position map[string]keyMember `json:"p"`
}

// keyMember is the JSON form of a key attribute. Key attributes are always
// strings, numbers or binary.
type keyMember struct {
	S *string `json:"S,omitempty"`
	N *string `json:"N,omitempty"`
	B []byte  `json:"B,omitempty"`
}

// Encode returns the token for s. Position members must be S, N or B.
func (c *Codec) Encode(s State) (string, error) {
	if len(s.Position) == 0 {
		return "", fmt.Errorf("cursor: empty position")
	}
	p := payload{V: version, Index: s.Index, Position: make(map[string]keyMember, len(s.Position))}
	for name, av := range s.Position {
		switch v := av.(type) {
		case *types.AttributeValueMemberS:
			p.Position[name] = keyMember{S: &v.Value}
		case *types.AttributeValueMemberN:
			p.Position[name] = keyMember{N: &v.Value}
		case *types.AttributeValueMemberB:
			p.Position[name] = keyMember{B: v.Value}
		default:
			return "", fmt.Errorf("cursor: position attribute %s has unsupported type %T", name, v)
		}
	}

	body, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("cursor: marshal: %w", err)
	}
	enc := base64.RawURLEncoding
	return enc.EncodeToString(body) + "." + enc.EncodeToString(c.sign(body)), nil
}

// Decode verifies and parses a token. Every failure is an
// [errs.InvalidTokenError].
func (c *Codec) Decode(token string) (State, error) {
	bodyPart, macPart, ok := strings.Cut(token, ".")
	if !ok || bodyPart == "" || macPart == "" {
		return State{}, invalid("malformed token")
	}
	enc := base64.RawURLEncoding
	body, err := enc.DecodeString(bodyPart)
	if err != nil {
		return State{}, invalid("malformed token")
	}
	mac, err := enc.DecodeString(macPart)
	if err != nil {
		return State{}, invalid("malformed token")
	}
	if !hmac.Equal(mac, c.sign(body)) {
		return State{}, invalid("signature mismatch")
	}

	var p payload
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return State{}, invalid("malformed payload")
	}
	if p.V != version {
		return State{}, invalid(fmt.Sprintf("unsupported version %d", p.V))
	}
	if len(p.Position) == 0 {
		return State{}, invalid("empty position")
	}

	s := State{Index: p.Index, Position: make(map[string]types.AttributeValue, len(p.Position))}
	for name, m := range p.Position {
		switch {
		case m.S != nil && m.N == nil && m.B == nil:
			s.Position[name] = &types.AttributeValueMemberS{Value: *m.S}
		case m.N != nil && m.S == nil && m.B == nil:
			s.Position[name] = &types.AttributeValueMemberN{Value: *m.N}
		case m.B != nil && m.S == nil && m.N == nil:
			s.Position[name] = &types.AttributeValueMemberB{Value: m.B}
		default:
			return State{}, invalid("malformed position attribute " + name)
		}
	}
	return s, nil
}

func (c *Codec) sign(body []byte) []byte {
	h := hmac.New(sha256.New, c.secret)
	h.Write(body)
	return h.Sum(nil)
}

func invalid(reason string) error {
	return &errs.InvalidTokenError{Reason: reason}
}

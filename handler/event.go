package handler

import (
	"encoding/json"
	"net/http"
	"sort"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/vishallnvk/knowlio/errs"
)

// Event is the invocation payload of the dispatcher Lambda.
type Event struct {
	ProcessorName string         `json:"processor_name"`
	Action        string         `json:"action"`
	Payload       map[string]any `json:"payload"`
	Caller        Caller         `json:"caller"`
}

// Caller is the identity the authorizer attached to the request.
type Caller struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

// Validate checks the event envelope. Payload keys are checked per action.
func (e Event) Validate() error {
	err := validation.ValidateStruct(&e,
		validation.Field(&e.ProcessorName, validation.Required.Error("processor_name is required")),
		validation.Field(&e.Action, validation.Required.Error("action is required")),
	)
	return fromValidation(err, map[string]string{
		"ProcessorName": "processor_name",
		"Action":        "action",
	})
}

// fromValidation converts ozzo-validation errors into a ValidationError on
// the first offending field, in name order. names renames struct fields.
func fromValidation(err error, names map[string]string) error {
	if err == nil {
		return nil
	}
	fields, ok := err.(validation.Errors)
	if !ok || len(fields) == 0 {
		return err
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	key := keys[0]
	field := key
	if renamed, ok := names[key]; ok {
		field = renamed
	}
	return errs.Invalid(field, "", fields[key].Error())
}

// Response is the Lambda proxy response shape.
type Response struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

func respond(status int, body any) Response {
	data, err := json.Marshal(body)
	if err != nil {
		return Response{
			StatusCode: http.StatusInternalServerError,
			Body:       `{"kind":"internal","message":"internal error"}`,
		}
	}
	return Response{StatusCode: status, Body: string(data)}
}

func failure(err error) Response {
	resp := errs.Public(err)
	return respond(statusOf(resp.Kind), resp)
}

func statusOf(kind errs.Kind) int {
	switch kind {
	case errs.KindValidation, errs.KindInvalidToken:
		return http.StatusBadRequest
	case errs.KindForbidden:
		return http.StatusForbidden
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindConflict:
		return http.StatusConflict
	case errs.KindRetryExhausted:
		return http.StatusServiceUnavailable
	case errs.KindStore:
		return http.StatusBadGateway
	case errs.KindCanceled:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

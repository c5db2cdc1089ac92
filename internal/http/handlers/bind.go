package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Param   string `json:"param,omitempty"`
	Message string `json:"message,omitempty"`
}

// JSON names of fields whose messages differ from the generic ones.
var (
	otpFields = map[string]bool{
		"twoFactorCode": true,
		"code":          true,
	}
	passwordFields = map[string]bool{
		"password":        true,
		"currentPassword": true,
		"newPassword":     true,
	}
)

// BindJSON decodes and validates the body into out. On failure it has
// already written a 400 with per-field details named after the JSON keys.
func BindJSON(ctx *gin.Context, out any) bool {
	if err := ctx.ShouldBindJSON(out); err != nil {
		RespondBadRequest(ctx, "Invalid request body", bindErrorDetails(err, out))
		return false
	}
	return true
}

func bindErrorDetails(err error, out any) gin.H {
	root := structTypeOf(out)

	var invalid validator.ValidationErrors
	if errors.As(err, &invalid) {
		fields := make([]FieldError, 0, len(invalid))
		for _, fe := range invalid {
			name := validatorFieldPath(root, fe)
			fields = append(fields, FieldError{
				Field:   name,
				Rule:    fe.Tag(),
				Param:   fe.Param(),
				Message: fieldMessage(name, fe.Tag(), fe.Param()),
			})
		}
		return gin.H{"fields": fields}
	}

	if errors.Is(err, io.EOF) {
		return gin.H{"json": "empty_body"}
	}

	var syntax *json.SyntaxError
	if errors.As(err, &syntax) || errors.Is(err, io.ErrUnexpectedEOF) {
		return gin.H{"json": "invalid_json_syntax"}
	}

	var mismatch *json.UnmarshalTypeError
	if errors.As(err, &mismatch) {
		raw := strings.TrimSpace(mismatch.Field)
		name := jsonPath(root, strings.Split(raw, "."))
		if name == "" {
			name = raw
		}
		return gin.H{
			"json":  "invalid_json_type",
			"field": name,
			"fields": []FieldError{{
				Field:   name,
				Rule:    "type",
				Message: typeMessage(mismatch.Type),
			}},
		}
	}

	return gin.H{"reason": err.Error()}
}

func structTypeOf(v any) reflect.Type {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil
	}
	return t
}

// validatorFieldPath turns "LoginRequest.TwoFactorCode" into "twoFactorCode".
func validatorFieldPath(root reflect.Type, fe validator.FieldError) string {
	ns := fe.StructNamespace()
	if ns == "" {
		ns = fe.Namespace()
	}

	parts := strings.Split(ns, ".")
	if root != nil && len(parts) > 0 && parts[0] == root.Name() {
		parts = parts[1:]
	}

	if path := jsonPath(root, parts); path != "" {
		return path
	}
	return fe.Field()
}

// jsonPath maps Go field names to their json tags, keeping any "[i]" suffix.
// Parts that cannot be resolved are passed through unchanged.
func jsonPath(t reflect.Type, parts []string) string {
	out := make([]string, 0, len(parts))

	for _, part := range parts {
		if part == "" {
			continue
		}

		name, index := part, ""
		if i := strings.IndexByte(part, '['); i >= 0 {
			name, index = part[:i], part[i:]
		}

		var sf reflect.StructField
		found := false
		if t = elemType(t); t != nil && t.Kind() == reflect.Struct {
			sf, found = t.FieldByName(name)
		}

		if !found {
			out = append(out, part)
			t = nil
			continue
		}

		out = append(out, jsonTagName(sf)+index)
		t = sf.Type
	}

	return strings.Join(out, ".")
}

func elemType(t reflect.Type) reflect.Type {
	for t != nil {
		switch t.Kind() {
		case reflect.Pointer, reflect.Slice, reflect.Array:
			t = t.Elem()
		default:
			return t
		}
	}
	return nil
}

func jsonTagName(sf reflect.StructField) string {
	name, _, _ := strings.Cut(sf.Tag.Get("json"), ",")
	if name == "" || name == "-" {
		return sf.Name
	}
	return name
}

func fieldMessage(field, rule, param string) string {
	leaf := field
	if i := strings.LastIndexByte(field, '.'); i >= 0 {
		leaf = field[i+1:]
	}

	if otpFields[leaf] && (rule == "len" || rule == "numeric") {
		return "must be a 6-digit authenticator code"
	}

	switch rule {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		if passwordFields[leaf] {
			return "must be at least " + param + " characters"
		}
		return "must be at least " + param
	case "max":
		return "must be at most " + param
	case "len":
		return "must be exactly " + param + " characters"
	case "numeric":
		return "must contain digits only"
	case "oneof":
		return "must be one of " + strings.ReplaceAll(param, " ", ", ")
	}

	if param != "" {
		return fmt.Sprintf("failed %s validation (%s)", rule, param)
	}
	return "failed " + rule + " validation"
}

func typeMessage(t reflect.Type) string {
	switch t.Kind() {
	case reflect.String:
		return "must be a string"
	case reflect.Bool:
		return "must be true or false"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return "must be a number"
	}
	return "must be of type " + t.String()
}

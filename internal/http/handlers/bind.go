package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// FieldError is one failed rule on one field, addressed by its json
// path ("groupNames[0]", not "GroupNames[0]").
type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Param   string `json:"param,omitempty"`
	Message string `json:"message,omitempty"`
}

// BindJSON binds the request body into out and writes the error
// response itself on failure. Callers just return on false.
func BindJSON(ctx *gin.Context, out interface{}) bool {
	err := ctx.ShouldBindJSON(out)
	if err == nil {
		return true
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		RespondError(ctx, http.StatusRequestEntityTooLarge, "body_too_large",
			fmt.Sprintf("request body must not exceed %d bytes", tooLarge.Limit), nil)
		return false
	}

	RespondBadRequest(ctx, "Invalid request body", bindErrorDetails(err, out))
	return false
}

func bindErrorDetails(err error, out interface{}) interface{} {
	root := baseStructType(out)

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]FieldError, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, FieldError{
				Field:   jsonPath(root, namespaceSegments(root, fe)),
				Rule:    fe.Tag(),
				Param:   fe.Param(),
				Message: ruleMessage(fe.Tag(), fe.Param()),
			})
		}
		return gin.H{"fields": fields}
	}

	var serr *json.SyntaxError
	if errors.As(err, &serr) {
		return gin.H{"json": "invalid_json_syntax"}
	}

	var terr *json.UnmarshalTypeError
	if errors.As(err, &terr) {
		field := jsonPath(root, strings.Split(strings.TrimSpace(terr.Field), "."))
		if field == "" {
			field = strings.TrimSpace(terr.Field)
		}
		return gin.H{
			"json":  "invalid_json_type",
			"field": field,
			"fields": []FieldError{{
				Field:   field,
				Rule:    "type",
				Message: fmt.Sprintf("must be of type %s", terr.Type.String()),
			}},
		}
	}

	return gin.H{"reason": err.Error()}
}

func baseStructType(v interface{}) reflect.Type {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil
	}
	return t
}

// namespaceSegments turns a validator namespace
// ("CreateBookingRequest.GroupNames[0]") into struct-field segments
// with the root type name stripped.
func namespaceSegments(root reflect.Type, fe validator.FieldError) []string {
	ns := fe.StructNamespace()
	if ns == "" {
		ns = fe.Namespace()
	}
	if ns == "" {
		return []string{fe.Field()}
	}

	parts := strings.Split(ns, ".")
	if root != nil && len(parts) > 0 && parts[0] == root.Name() {
		parts = parts[1:]
	}
	if len(parts) == 0 {
		return []string{fe.Field()}
	}
	return parts
}

// jsonPath rewrites struct-field segments into their json tag names,
// keeping index suffixes attached to the segment they came with.
func jsonPath(t reflect.Type, segments []string) string {
	out := make([]string, 0, len(segments))

	for _, seg := range segments {
		if seg == "" {
			continue
		}

		name, index := seg, ""
		if i := strings.Index(seg, "["); i != -1 {
			name, index = seg[:i], seg[i:]
		}

		jsonName := name
		var next reflect.Type
		if t != nil {
			for t.Kind() == reflect.Pointer {
				t = t.Elem()
			}
			if t.Kind() == reflect.Struct {
				if sf, ok := t.FieldByName(name); ok {
					jsonName = jsonTagName(sf)
					next = sf.Type
				}
			}
		}

		out = append(out, jsonName+index)

		t = elemType(next)
	}

	return strings.Join(out, ".")
}

func jsonTagName(sf reflect.StructField) string {
	name, _, _ := strings.Cut(sf.Tag.Get("json"), ",")
	if name == "" || name == "-" {
		return sf.Name
	}
	return name
}

// elemType peels pointers and collections down to the element type so
// nested struct fields keep resolving.
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

func ruleMessage(rule, param string) string {
	switch rule {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return "must be at least " + param
	case "max":
		return "must be at most " + param
	case "len":
		return "must be exactly " + param
	case "oneof":
		return "must be one of " + strings.ReplaceAll(param, " ", ", ")
	case "uuid":
		return "must be a valid uuid"
	default:
		if param != "" {
			return fmt.Sprintf("failed %s validation (%s)", rule, param)
		}
		return "failed " + rule + " validation"
	}
}

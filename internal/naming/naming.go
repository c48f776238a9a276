// Package naming validates node names.
package naming

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/treeapp/internal/apperr"
)

// MaxLength is the longest accepted name, in characters, after trimming.
const MaxLength = 255

// ForbiddenChars lists characters that may not appear in a name.
const ForbiddenChars = `<>:"/\|?*`

var reserved = func() map[string]struct{} {
	m := map[string]struct{}{"CON": {}, "PRN": {}, "AUX": {}, "NUL": {}}
	for i := '1'; i <= '9'; i++ {
		m["COM"+string(i)] = struct{}{}
		m["LPT"+string(i)] = struct{}{}
	}
	return m
}()

var rules = []validation.Rule{
	validation.RuneLength(0, MaxLength).Error("must not exceed 255 characters"),
	validation.NewStringRule(func(s string) bool {
		return !strings.ContainsAny(s, ForbiddenChars)
	}, `must not contain any of < > : " / \ | ? *`),
	validation.NewStringRule(func(s string) bool {
		_, hit := reserved[strings.ToUpper(s)]
		return !hit
	}, "is a reserved device name"),
	validation.NewStringRule(func(s string) bool {
		return strings.Trim(s, ".") != ""
	}, "must not consist only of dots"),
}

// Validate checks name against the naming rules in order and returns an
// *apperr.NameError describing the first violation.
//
// The reserved-name rule compares the whole trimmed name, so "CON.txt" passes.
func Validate(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return &apperr.NameError{Name: name, Reason: "must not be empty"}
	}
	if err := validation.Validate(trimmed, rules...); err != nil {
		return &apperr.NameError{Name: name, Reason: err.Error()}
	}
	return nil
}

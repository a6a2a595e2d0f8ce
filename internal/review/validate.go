package review

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/doc-extract/backend/internal/models"
)

const shortTextWarnLength = 200

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"01/02/2006",
	"02.01.2006",
	"January 2, 2006",
	"Jan 2, 2006",
}

// Validate checks an edited value against the field's metadata.
func Validate(meta models.FieldMeta, v models.Value) (models.ValidationStatus, string) {
	if isEmpty(v) {
		if meta.Required {
			return models.ValidationInvalid, fmt.Sprintf("%s is required", meta.Label)
		}
		return models.ValidationValid, ""
	}

	if status, msg := validateType(meta, v); status != models.ValidationValid {
		return status, msg
	}

	if meta.Pattern != "" && v.Kind() == models.KindString {
		re, err := regexp.Compile(meta.Pattern)
		if err != nil {
			return models.ValidationWarning, fmt.Sprintf("%s has an unusable format rule", meta.Label)
		}
		if !re.MatchString(v.StringValue()) {
			return models.ValidationInvalid, fmt.Sprintf("%s does not match the expected format", meta.Label)
		}
	}
	return models.ValidationValid, ""
}

func validateType(meta models.FieldMeta, v models.Value) (models.ValidationStatus, string) {
	switch meta.Type {
	case models.FieldNumber:
		if v.Kind() == models.KindNumber {
			break
		}
		if v.Kind() == models.KindString {
			if _, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(v.StringValue()), ",", ""), 64); err == nil {
				break
			}
		}
		return models.ValidationInvalid, fmt.Sprintf("%s must be a number", meta.Label)

	case models.FieldBoolean:
		if v.Kind() == models.KindBool {
			break
		}
		switch strings.ToLower(strings.TrimSpace(v.Display())) {
		case "true", "false", "yes", "no":
		default:
			return models.ValidationInvalid, fmt.Sprintf("%s must be true or false", meta.Label)
		}

	case models.FieldDate:
		if v.Kind() != models.KindString || !isDate(v.StringValue()) {
			return models.ValidationInvalid, fmt.Sprintf("%s must be a date (YYYY-MM-DD)", meta.Label)
		}

	case models.FieldEnum:
		if len(meta.Enum) > 0 && !slices.Contains(meta.Enum, v.Display()) {
			return models.ValidationInvalid, fmt.Sprintf("%s must be one of: %s", meta.Label, strings.Join(meta.Enum, ", "))
		}

	case models.FieldNested:
		if !v.IsNested() {
			return models.ValidationInvalid, fmt.Sprintf("%s must be a list or an object", meta.Label)
		}

	case models.FieldShort:
		if utf8.RuneCountInString(v.Display()) > shortTextWarnLength {
			return models.ValidationWarning, fmt.Sprintf("%s is unusually long for this field", meta.Label)
		}
	}
	return models.ValidationValid, ""
}

func isEmpty(v models.Value) bool {
	switch v.Kind() {
	case models.KindNull:
		return true
	case models.KindString:
		return strings.TrimSpace(v.StringValue()) == ""
	}
	return false
}

func isDate(s string) bool {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

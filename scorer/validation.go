package scorer

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	if err := v.RegisterValidation("wellformed", wellFormedText); err != nil {
		panic(err)
	}
	return v
}

// wellFormedText accepts valid UTF-8 free of control characters other than line breaks and tabs
func wellFormedText(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	return utf8.ValidString(s) && strings.IndexFunc(s, rejectedRune) < 0
}

func rejectedRune(r rune) bool {
	return unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t'
}

// ValidationResult contains the results of content validation
type ValidationResult struct {
	Valid       bool
	Issues      []string
	Suggestions []string
}

// ValidationOptions configures content validation behavior
type ValidationOptions struct {
	MaxLength       int
	MinLength       int
	AllowEmpty      bool
	AllowWhitespace bool
	TrimWhitespace  bool
}

// DefaultValidationOptions returns sensible defaults for content validation
func DefaultValidationOptions() ValidationOptions {
	return ValidationOptions{
		MaxLength:       DefaultMaxContentLength,
		MinLength:       MinContentLength,
		AllowEmpty:      false,
		AllowWhitespace: false,
		TrimWhitespace:  true,
	}
}

// ValidateContent validates a single text's content
func ValidateContent(content string, opts ValidationOptions) ValidationResult {
	result := ValidationResult{Valid: true}

	if content == "" {
		if !opts.AllowEmpty {
			result.Valid = false
			result.Issues = append(result.Issues, "content is empty")
			result.Suggestions = append(result.Suggestions, "provide meaningful text content")
		}
		return result
	}

	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		if !opts.AllowWhitespace {
			result.Valid = false
			result.Issues = append(result.Issues, "content contains only whitespace")
			result.Suggestions = append(result.Suggestions, "provide non-whitespace content")
		}
		return result
	}

	checkContent := content
	if opts.TrimWhitespace {
		checkContent = trimmed
	}

	if len(checkContent) < opts.MinLength {
		result.Valid = false
		result.Issues = append(result.Issues, fmt.Sprintf("content too short (%d bytes, minimum %d)",
			len(checkContent), opts.MinLength))
		result.Suggestions = append(result.Suggestions, "provide more detailed content")
	}

	if opts.MaxLength > 0 && len(checkContent) > opts.MaxLength {
		result.Valid = false
		result.Issues = append(result.Issues, fmt.Sprintf("content too long (%d bytes, maximum %d)",
			len(checkContent), opts.MaxLength))
		result.Suggestions = append(result.Suggestions, fmt.Sprintf("reduce content to under %d bytes", opts.MaxLength))
	}

	return result
}

// ValidateAnalysisInput checks in before it is sent anywhere
func ValidateAnalysisInput(in AnalysisInput, opts ValidationOptions) error {
	return validateText(in.Text, opts)
}

// ValidateFeedbackInput checks in before it is sent anywhere
func ValidateFeedbackInput(in FeedbackInput, opts ValidationOptions) error {
	return validateText(in.Text, opts)
}

func validateText(text string, opts ValidationOptions) error {
	rules := "wellformed"
	if !opts.AllowEmpty {
		rules = "required," + rules
	}
	if err := validate.Var(text, rules); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	result := ValidateContent(text, opts)
	if !result.Valid {
		return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(result.Issues, "; "))
	}
	return nil
}

// SanitizeContent rewrites text into a form the validator accepts: invalid UTF-8
// and control characters are dropped, line breaks become \n and runs of other
// whitespace collapse to a single space.
func SanitizeContent(content string) string {
	content = strings.ToValidUTF8(content, "")
	content = lineBreaks.Replace(content)
	return strings.TrimSpace(collapseSpaces(content))
}

var lineBreaks = strings.NewReplacer("\r\n", "\n", "\r", "\n")

func collapseSpaces(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	wasSpace := false
	for _, r := range s {
		switch {
		case r == '\n' || r == '\t':
			b.WriteRune(r)
			wasSpace = false
		case unicode.IsSpace(r):
			if !wasSpace {
				b.WriteByte(' ')
			}
			wasSpace = true
		case rejectedRune(r):
		default:
			b.WriteRune(r)
			wasSpace = false
		}
	}
	return b.String()
}

package bridge

import (
	"encoding/json"
	"strings"

	"github.com/MeKo-Tech/scanbridge/internal/barcode"
)

// ScanRequest carries the per-scan options. Adapters may ignore any of them.
type ScanRequest struct {
	// Prompt replaces the default text of prompt-style adapters.
	Prompt string `json:"prompt,omitempty"`
	// Formats restricts symbologies by canonical name. Empty means all.
	Formats []string `json:"formats,omitempty"`
	// TryHarder asks the decoder for a slower, more thorough search.
	TryHarder bool `json:"tryHarder,omitempty"`
}

// ScanResult is the canonical terminal result of a scan.
// Cancelled results never carry text or format.
type ScanResult struct {
	Text      *string `json:"text"`
	Format    *string `json:"format"`
	Cancelled bool    `json:"cancelled"`
}

// Found builds a successful result.
func Found(text, format string) ScanResult {
	return ScanResult{Text: &text, Format: &format}
}

// CancelledResult builds the cancelled result {text:null, format:null, cancelled:true}.
func CancelledResult() ScanResult {
	return ScanResult{Cancelled: true}
}

// TextValue returns the text or "" for null.
func (r ScanResult) TextValue() string {
	if r.Text == nil {
		return ""
	}
	return *r.Text
}

// FormatValue returns the format or "" for null.
func (r ScanResult) FormatValue() string {
	if r.Format == nil {
		return ""
	}
	return *r.Format
}

// codePayload is what adapters put on a codefound event. Format is either a
// canonical name or the integer code of the format table.
type codePayload struct {
	Text      *string         `json:"text"`
	Format    json.RawMessage `json:"format,omitempty"`
	Cancelled bool            `json:"cancelled,omitempty"`
}

// resultFromPayload normalizes a codefound payload. Anything that is not a JSON
// object is taken verbatim as the decoded text, without a format.
func resultFromPayload(payload string) ScanResult {
	trimmed := strings.TrimSpace(payload)
	if strings.HasPrefix(trimmed, "{") {
		var p codePayload
		if err := json.Unmarshal([]byte(trimmed), &p); err == nil {
			if p.Cancelled {
				return CancelledResult()
			}
			text := ""
			if p.Text != nil {
				text = *p.Text
			}
			return ScanResult{Text: &text, Format: formatFromPayload(p.Format)}
		}
	}
	text := payload
	return ScanResult{Text: &text}
}

// formatFromPayload maps the payload's format to a canonical name. Integer
// codes go through the format table; unknown codes, null and anything that is
// neither a string nor an integer give no format.
func formatFromPayload(raw json.RawMessage) *string {
	if len(raw) == 0 {
		return nil
	}
	var name *string
	if err := json.Unmarshal(raw, &name); err == nil {
		return name
	}
	var code int
	if err := json.Unmarshal(raw, &code); err != nil {
		return nil
	}
	if n, ok := barcode.FormatName(code); ok {
		return &n
	}
	return nil
}

// CodePayload renders the codefound payload for text and format.
func CodePayload(text, format string) string {
	f, _ := json.Marshal(format) //nolint:errchkjson // plain strings always marshal
	b, _ := json.Marshal(codePayload{Text: &text, Format: f}) //nolint:errchkjson // plain strings always marshal
	return string(b)
}

// EncodeType selects how encode data is normalized.
type EncodeType string

const (
	TextType  EncodeType = "TEXT_TYPE"
	EmailType EncodeType = "EMAIL_TYPE"
	PhoneType EncodeType = "PHONE_TYPE"
	SMSType   EncodeType = "SMS_TYPE"
)

// ParseEncodeType accepts the canonical names and their short forms
// (TEXT, email, ...). Anything else is TextType.
func ParseEncodeType(s string) EncodeType {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "EMAIL_TYPE", "EMAIL":
		return EmailType
	case "PHONE_TYPE", "PHONE":
		return PhoneType
	case "SMS_TYPE", "SMS":
		return SMSType
	default:
		return TextType
	}
}

// EncodeRequest is the input of Encode.
type EncodeRequest struct {
	Type    EncodeType     `json:"type"`
	Data    string         `json:"data"`
	Options map[string]any `json:"options,omitempty"`
}

// NormalizeData prefixes the scheme marker for typ unless data already has one.
func NormalizeData(typ EncodeType, data string) string {
	lower := strings.ToLower(data)
	switch ParseEncodeType(string(typ)) {
	case SMSType:
		if strings.HasPrefix(lower, "smsto:") || strings.HasPrefix(lower, "sms:") {
			return data
		}
		return "smsto:" + data
	case EmailType:
		if strings.HasPrefix(lower, "mailto:") {
			return data
		}
		return "mailto:" + data
	case PhoneType:
		if strings.HasPrefix(lower, "tel:") {
			return data
		}
		return "tel:+1" + data
	default:
		return data
	}
}

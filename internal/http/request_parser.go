// Package http exposes the ledger, directory and budget services as a JSON
// API.
//
// This file implements utilities for parsing and validating request data.
// Bodies may be JSON objects or form-encoded; numbers may arrive as JSON
// numbers or strings.

package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"bizledger/internal/core"

	"github.com/shopspring/decimal"
)

const maxBodyBytes = 1 << 20

// PeriodParams holds the fiscal period selected by query parameters.
type PeriodParams struct {
	Year    int
	Quarter int // 0 means the whole year
}

// ParsePeriodParams extracts year and quarter from query parameters. The
// year defaults to the current one; quarter is optional.
func ParsePeriodParams(query url.Values, now time.Time) (PeriodParams, error) {
	params := PeriodParams{Year: now.Year()}

	if v := strings.TrimSpace(query.Get("year")); v != "" {
		y, err := strconv.Atoi(v)
		if err != nil || y < 2000 || y > 2100 {
			return PeriodParams{}, &core.ValidationError{Field: "year", Reason: "must be between 2000 and 2100"}
		}
		params.Year = y
	}
	if v := strings.TrimSpace(query.Get("quarter")); v != "" {
		q, err := strconv.Atoi(v)
		if err != nil || q < 1 || q > 4 {
			return PeriodParams{}, &core.ValidationError{Field: "quarter", Reason: "must be between 1 and 4"}
		}
		params.Quarter = q
	}
	return params, nil
}

// ParseEntryFilter builds a ledger filter from query parameters.
func ParseEntryFilter(query url.Values, kind core.EntryKind) (core.EntryFilter, error) {
	f := core.EntryFilter{
		Kind:         kind,
		DepartmentID: strings.TrimSpace(query.Get("department_id")),
		ProjectID:    strings.TrimSpace(query.Get("project_id")),
		Status:       core.Status(strings.TrimSpace(query.Get("status"))),
	}
	var err error
	if v := query.Get("from"); v != "" {
		if f.From, err = core.ParseDate(v); err != nil {
			return core.EntryFilter{}, &core.ValidationError{Field: "from", Reason: "must be formatted as YYYY-MM-DD"}
		}
	}
	if v := query.Get("to"); v != "" {
		if f.To, err = core.ParseDate(v); err != nil {
			return core.EntryFilter{}, &core.ValidationError{Field: "to", Reason: "must be formatted as YYYY-MM-DD"}
		}
	}
	if f.Status != "" && !core.ValidStatus(kind, f.Status) {
		return core.EntryFilter{}, &core.ValidationError{Field: "status", Reason: "unknown status " + string(f.Status) + " for " + string(kind)}
	}
	return f, nil
}

// RequestBodyParser handles different content types for request body parsing.
type RequestBodyParser struct {
	body        []byte
	contentType string
	jsonData    map[string]any
	formData    url.Values
	parsed      bool
	err         error
}

// NewRequestBodyParser reads the body of r once, up to 1 MiB.
func NewRequestBodyParser(w http.ResponseWriter, r *http.Request) *RequestBodyParser {
	p := &RequestBodyParser{
		contentType: r.Header.Get("Content-Type"),
	}
	p.body, p.err = io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	return p
}

// Parse attempts to parse the body as JSON or form data.
func (p *RequestBodyParser) Parse() error {
	if p.parsed {
		return p.err
	}
	p.parsed = true

	if p.err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(p.err, &tooLarge) {
			p.err = &core.ValidationError{Reason: "request body too large"}
		}
		return p.err
	}

	body := strings.TrimSpace(string(p.body))
	if body == "" {
		p.formData = url.Values{}
		return nil
	}

	if body[0] == '{' || strings.Contains(p.contentType, "json") {
		p.jsonData = make(map[string]any)
		dec := json.NewDecoder(strings.NewReader(body))
		dec.UseNumber()
		if err := dec.Decode(&p.jsonData); err != nil {
			p.err = &core.ValidationError{Reason: "malformed JSON body"}
			return p.err
		}
		return nil
	}

	p.formData, p.err = url.ParseQuery(body)
	if p.err != nil {
		p.err = &core.ValidationError{Reason: "malformed form body"}
	}
	return p.err
}

// Has reports whether key is present in the body, even with an empty value.
func (p *RequestBodyParser) Has(key string) bool {
	if p.jsonData != nil {
		_, ok := p.jsonData[key]
		return ok
	}
	if p.formData != nil {
		_, ok := p.formData[key]
		return ok
	}
	return false
}

// Get returns a string value from the parsed data (JSON or form).
func (p *RequestBodyParser) Get(key string) string {
	if p.jsonData != nil {
		if val, ok := p.jsonData[key]; ok {
			return sanitizeInput(stringValue(val))
		}
		return ""
	}
	if p.formData != nil {
		return sanitizeInput(p.formData.Get(key))
	}
	return ""
}

// StringPtr returns nil when key is absent.
func (p *RequestBodyParser) StringPtr(key string) *string {
	if !p.Has(key) {
		return nil
	}
	v := p.Get(key)
	return &v
}

// Money parses key as a money amount. It returns nil when key is absent.
func (p *RequestBodyParser) Money(key string) (*decimal.Decimal, error) {
	if !p.Has(key) {
		return nil, nil
	}
	d, err := core.ParseAmount(p.Get(key))
	if err != nil {
		return nil, &core.ValidationError{Field: key, Reason: "is not a valid amount"}
	}
	return &d, nil
}

// Rate parses key as a VAT percentage. It returns nil when key is absent.
func (p *RequestBodyParser) Rate(key string) (*decimal.Decimal, error) {
	if !p.Has(key) {
		return nil, nil
	}
	d, err := core.ParseRate(p.Get(key))
	if err != nil {
		return nil, &core.ValidationError{Field: key, Reason: "is not a valid percentage"}
	}
	return &d, nil
}

// Date parses key as YYYY-MM-DD. An empty value yields the zero date.
func (p *RequestBodyParser) Date(key string) (*core.Date, error) {
	if !p.Has(key) {
		return nil, nil
	}
	v := p.Get(key)
	if v == "" {
		return &core.Date{}, nil
	}
	d, err := core.ParseDate(v)
	if err != nil {
		return nil, &core.ValidationError{Field: key, Reason: "must be formatted as YYYY-MM-DD"}
	}
	return &d, nil
}

// Bool parses key as a boolean. It returns nil when key is absent.
func (p *RequestBodyParser) Bool(key string) (*bool, error) {
	if !p.Has(key) {
		return nil, nil
	}
	switch strings.ToLower(p.Get(key)) {
	case "true", "1", "on", "yes":
		b := true
		return &b, nil
	case "false", "0", "off", "no", "":
		b := false
		return &b, nil
	}
	return nil, &core.ValidationError{Field: key, Reason: "must be true or false"}
}

// Int parses key as an integer. It returns nil when key is absent.
func (p *RequestBodyParser) Int(key string) (*int, error) {
	if !p.Has(key) {
		return nil, nil
	}
	n, err := strconv.Atoi(p.Get(key))
	if err != nil {
		return nil, &core.ValidationError{Field: key, Reason: "must be an integer"}
	}
	return &n, nil
}

// IsJSON returns true if the parsed content was JSON.
func (p *RequestBodyParser) IsJSON() bool {
	return p.jsonData != nil
}

func stringValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}

// sanitizeInput trims whitespace and drops control characters other than
// tab, newline and carriage return.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

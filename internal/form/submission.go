// Package form turns a multipart/form-data request into a validated
// Submission.
package form

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strconv"
	"strings"
)

// Form field names accepted by the endpoint.
const (
	FieldName               = "name"
	FieldEmail              = "email"
	FieldCompany            = "company"
	FieldPhone              = "phone"
	FieldPromoCode          = "promo_code"
	FieldDiscount           = "discount"
	FieldProjectDescription = "project_description"
	FieldFile               = "file"
	FieldSelectedItems      = "selected_items"
	FieldSubscribe          = "subscribe"
)

// Validation reasons reported per field.
const (
	ReasonRequired = "required"
	ReasonInvalid  = "invalid"
)

// Submission is the validated, request-scoped form data. Required fields are
// trimmed and non-empty. Optional text fields are empty when not supplied.
type Submission struct {
	Name               string
	Email              string
	Company            string
	Phone              string
	ProjectDescription string

	PromoCode string
	Discount  string

	SelectedItems []string
	Subscribe     bool

	AttachmentName string
	Attachment     []byte
}

// HasAttachment reports whether both the file bytes and its name are present.
func (s *Submission) HasAttachment() bool {
	return len(s.Attachment) > 0 && s.AttachmentName != ""
}

// ValidationError lists the fields that failed validation and why.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+": "+e.Fields[name])
	}
	return "invalid submission: " + strings.Join(parts, ", ")
}

// Parse reads a multipart form from r and validates it. Files larger than
// maxMemory are spooled to temporary storage by net/http; the caller is
// expected to cap the whole body with http.MaxBytesReader.
//
// An absent selected_items field is treated the same as an empty one.
//
// A *ValidationError is returned for missing or malformed fields. Any other
// error means the body itself could not be read; an oversized body surfaces
// as *http.MaxBytesError.
func Parse(r *http.Request, maxMemory int64) (*Submission, error) {
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		if errors.Is(err, http.ErrNotMultipart) || errors.Is(err, http.ErrMissingBoundary) {
			return nil, &ValidationError{Fields: map[string]string{"content_type": ReasonInvalid}}
		}
		return nil, fmt.Errorf("failed to parse multipart form: %w", err)
	}
	defer r.MultipartForm.RemoveAll()

	values := r.MultipartForm.Value
	invalid := make(map[string]string)

	required := func(field string) string {
		v := strings.TrimSpace(first(values, field))
		if v == "" {
			invalid[field] = ReasonRequired
		}
		return v
	}

	sub := &Submission{
		Name:               required(FieldName),
		Email:              required(FieldEmail),
		Company:            required(FieldCompany),
		Phone:              required(FieldPhone),
		ProjectDescription: required(FieldProjectDescription),
		PromoCode:          strings.TrimSpace(first(values, FieldPromoCode)),
		Discount:           strings.TrimSpace(first(values, FieldDiscount)),
		SelectedItems:      selectedItems(values[FieldSelectedItems]),
	}

	subscribe, err := parseFlag(first(values, FieldSubscribe))
	if err != nil {
		invalid[FieldSubscribe] = ReasonInvalid
	}
	sub.Subscribe = subscribe

	if len(invalid) > 0 {
		return nil, &ValidationError{Fields: invalid}
	}

	if headers := r.MultipartForm.File[FieldFile]; len(headers) > 0 {
		data, err := readFile(headers[0])
		if err != nil {
			return nil, fmt.Errorf("failed to read uploaded file: %w", err)
		}
		sub.Attachment = data
		sub.AttachmentName = headers[0].Filename
	}

	return sub, nil
}

func first(values map[string][]string, key string) string {
	if vs := values[key]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// selectedItems keeps submission order and drops blank entries, so a form
// that posts a single empty value yields an empty list.
func selectedItems(raw []string) []string {
	items := make([]string, 0, len(raw))
	for _, item := range raw {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// parseFlag accepts the spellings HTML checkboxes and API clients commonly
// send. An absent value is false.
func parseFlag(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return false, nil
	case "on", "yes", "y":
		return true, nil
	case "off", "no", "n":
		return false, nil
	}
	return strconv.ParseBool(strings.TrimSpace(raw))
}

func readFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

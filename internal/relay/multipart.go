package relay

import (
	"bytes"
	"fmt"

	"github.com/google/uuid"
)

// Form builds a multipart/form-data body by hand: an ordered list of named
// parts rendered with a boundary and a closing terminator. The relay is
// strict about part order (media part first, then chat_id), so the builder
// preserves insertion order.
type Form struct {
	boundary string
	parts    []formPart
}

type formPart struct {
	name        string
	filename    string
	contentType string
	data        []byte
}

// NewForm creates an empty form with a fresh boundary.
func NewForm() *Form {
	return &Form{boundary: "formdata-minibridge-" + uuid.NewString()}
}

// AddFile appends a file part with the given field name, filename, and
// content type.
func (f *Form) AddFile(name, filename, contentType string, data []byte) {
	f.parts = append(f.parts, formPart{name: name, filename: filename, contentType: contentType, data: data})
}

// AddField appends a plain value part.
func (f *Form) AddField(name, value string) {
	f.parts = append(f.parts, formPart{name: name, data: []byte(value)})
}

// ContentType returns the Content-Type header value for the body.
func (f *Form) ContentType() string {
	return "multipart/form-data; boundary=" + f.boundary
}

// Bytes renders the full body, terminated by the closing boundary.
func (f *Form) Bytes() []byte {
	var buf bytes.Buffer
	for _, p := range f.parts {
		fmt.Fprintf(&buf, "--%s\r\n", f.boundary)
		if p.filename != "" {
			fmt.Fprintf(&buf, "Content-Disposition: form-data; name=%q; filename=%q\r\n", p.name, p.filename)
			fmt.Fprintf(&buf, "Content-Type: %s\r\n\r\n", p.contentType)
		} else {
			fmt.Fprintf(&buf, "Content-Disposition: form-data; name=%q\r\n\r\n", p.name)
		}
		buf.Write(p.data)
		buf.WriteString("\r\n")
	}
	fmt.Fprintf(&buf, "--%s--\r\n", f.boundary)
	return buf.Bytes()
}

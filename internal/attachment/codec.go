// Package attachment converts attachments between raw bytes, base64 payloads
// and the wire forms used by each provider.
package attachment

import (
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"net/textproto"
	"path/filepath"
	"strings"

	"github.com/shineum/mailgate/internal/email"
)

const (
	// OctetStream is the fallback content type.
	OctetStream = "application/octet-stream"

	// GraphODataType tags a file attachment in the Graph sendMail payload.
	GraphODataType = "#microsoft.graph.fileAttachment"

	// base64LineLength is the RFC 2045 maximum encoded line length.
	base64LineLength = 76
)

// extensionTypes is the static extension to content type table.
var extensionTypes = map[string]string{
	// Images
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".svg":  "image/svg+xml",
	".bmp":  "image/bmp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".ico":  "image/x-icon",
	".heic": "image/heic",
	".avif": "image/avif",
	// Documents
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".ppt":  "application/vnd.ms-powerpoint",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".rtf":  "application/rtf",
	".txt":  "text/plain",
	".csv":  "text/csv",
	".html": "text/html",
	".htm":  "text/html",
	".ics":  "text/calendar",
	// Data
	".json": "application/json",
	".xml":  "application/xml",
	// Archives
	".zip": "application/zip",
	".gz":  "application/gzip",
	".tar": "application/x-tar",
	".7z":  "application/x-7z-compressed",
	// Audio and video
	".mp3": "audio/mpeg",
	".wav": "audio/wav",
	".mp4": "video/mp4",
	".mov": "video/quicktime",
}

// DecodeBase64 decodes a base64 attachment payload. Line breaks are ignored
// and both padded and unpadded input is accepted.
func DecodeBase64(payload string) ([]byte, error) {
	cleaned := strings.NewReplacer("\r", "", "\n", "", " ", "", "\t", "").Replace(payload)

	decoded, err := base64.StdEncoding.DecodeString(cleaned)
	if err == nil {
		return decoded, nil
	}
	decoded, rawErr := base64.RawStdEncoding.DecodeString(cleaned)
	if rawErr == nil {
		return decoded, nil
	}
	return nil, &email.EncodingError{Subject: "base64 payload", Err: err}
}

// InferContentType returns explicit when set, otherwise the type registered
// for the filename extension, otherwise application/octet-stream.
func InferContentType(filename, explicit string) string {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		return explicit
	}
	if ct, ok := extensionTypes[strings.ToLower(filepath.Ext(filename))]; ok {
		return ct
	}
	return OctetStream
}

// GraphAttachment is the Graph API file attachment object.
type GraphAttachment struct {
	ODataType    string `json:"@odata.type"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType"`
	ContentBytes string `json:"contentBytes"`
}

// ToGraph converts att to a Graph file attachment.
func ToGraph(att email.Attachment) GraphAttachment {
	return GraphAttachment{
		ODataType:    GraphODataType,
		Name:         att.Filename,
		ContentType:  InferContentType(att.Filename, att.ContentType),
		ContentBytes: base64.StdEncoding.EncodeToString(att.Bytes()),
	}
}

// MIMEPart is a single encoded MIME body part.
type MIMEPart struct {
	Header textproto.MIMEHeader
	Body   []byte
}

// ToMIMEPart converts att to a base64-encoded MIME part. Images keep their
// image subtype; everything else is sent as an application part.
func ToMIMEPart(att email.Attachment) (MIMEPart, error) {
	declared := InferContentType(att.Filename, att.ContentType)
	mediaType, _, err := mime.ParseMediaType(declared)
	if err != nil {
		return MIMEPart{}, &email.EncodingError{
			Subject: att.Filename,
			Err:     fmt.Errorf("invalid content type %q: %w", declared, err),
		}
	}

	partType := OctetStream
	switch {
	case strings.HasPrefix(mediaType, "image/"):
		partType = mediaType
	case strings.HasPrefix(mediaType, "application/"):
		partType = mediaType
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Type", mime.FormatMediaType(partType, map[string]string{"name": att.Filename}))
	header.Set("Content-Transfer-Encoding", "base64")
	header.Set("Content-Disposition", ContentDisposition(att.Filename))

	return MIMEPart{Header: header, Body: EncodeBase64Lines(att.Bytes())}, nil
}

// ContentDisposition formats an attachment disposition with a quoted
// filename. Non-ASCII names use RFC 2231 encoding.
func ContentDisposition(filename string) string {
	if !isASCII(filename) {
		if v := mime.FormatMediaType("attachment", map[string]string{"filename": filename}); v != "" {
			return v
		}
	}
	escaped := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(filename)
	return `attachment; filename="` + escaped + `"`
}

// EncodeBase64Lines encodes data as base64 wrapped at 76 characters with
// CRLF line breaks.
func EncodeBase64Lines(data []byte) []byte {
	encoded := base64.StdEncoding.EncodeToString(data)
	if len(encoded) == 0 {
		return nil
	}

	var b strings.Builder
	b.Grow(len(encoded) + 2*(len(encoded)/base64LineLength+1))
	for i := 0; i < len(encoded); i += base64LineLength {
		end := min(i+base64LineLength, len(encoded))
		b.WriteString(encoded[i:end])
		b.WriteString("\r\n")
	}
	return []byte(b.String())
}

// ErrEmptyName is returned by FromBase64 for a blank filename.
var ErrEmptyName = errors.New("attachment: filename is required")

// FromBase64 builds an attachment from a base64 payload as received in API
// requests.
func FromBase64(filename, contentType, payload string) (email.Attachment, error) {
	if strings.TrimSpace(filename) == "" {
		return email.Attachment{}, &email.ValidationError{Field: "attachments", Reason: ErrEmptyName.Error()}
	}
	content, err := DecodeBase64(payload)
	if err != nil {
		var encErr *email.EncodingError
		if errors.As(err, &encErr) {
			encErr.Subject = filename
		}
		return email.Attachment{}, err
	}
	return email.NewAttachment(filename, contentType, content), nil
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

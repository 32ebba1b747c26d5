package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/shineum/mailgate/internal/attachment"
	"github.com/shineum/mailgate/internal/dispatch"
	"github.com/shineum/mailgate/internal/email"
)

// multipartMemory is the part of a multipart form kept in memory; the rest
// spills to temporary files.
const multipartMemory = 32 << 20

type recipientJSON struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type attachmentJSON struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type,omitempty"`
	Content     string `json:"content"`
}

type sendRequest struct {
	Subject           string           `json:"subject"`
	Body              string           `json:"body"`
	BodyType          string           `json:"body_type"`
	To                []recipientJSON  `json:"to_recipients"`
	Cc                []recipientJSON  `json:"cc_recipients"`
	Bcc               []recipientJSON  `json:"bcc_recipients"`
	Importance        string           `json:"importance"`
	Attachments       []attachmentJSON `json:"attachments"`
	SaveToSentItems   *bool            `json:"save_to_sent_items"`
	TemplateVariables map[string]any   `json:"template_variables"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		writeMessage(w, decodeStatus(err), fmt.Sprintf("invalid request body: %v", err))
		return
	}

	msg, err := req.toEmail()
	if err != nil {
		writeError(w, err)
		return
	}

	out, err := s.dispatcher.Send(r.Context(), msg)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOutcome(w, out)
}

func (req sendRequest) toEmail() (*email.Email, error) {
	bodyType, err := email.ParseBodyType(req.BodyType)
	if err != nil {
		return nil, err
	}
	importance, err := email.ParseImportance(req.Importance)
	if err != nil {
		return nil, err
	}

	to, err := toRecipients(req.To)
	if err != nil {
		return nil, err
	}
	msg := email.New(req.Subject, req.Body, to...)
	msg.BodyType = bodyType
	msg.Importance = importance
	if req.SaveToSentItems != nil {
		msg.SaveToSentItems = *req.SaveToSentItems
	}
	if msg.Cc, err = toRecipients(req.Cc); err != nil {
		return nil, err
	}
	if msg.Bcc, err = toRecipients(req.Bcc); err != nil {
		return nil, err
	}

	for _, a := range req.Attachments {
		att, err := attachment.FromBase64(a.Filename, a.ContentType, a.Content)
		if err != nil {
			return nil, err
		}
		msg.Attachments = append(msg.Attachments, att)
	}

	if len(req.TemplateVariables) > 0 {
		msg.TemplateVariables = stringifyVariables(req.TemplateVariables)
	}
	return msg, nil
}

func toRecipients(in []recipientJSON) ([]email.Recipient, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make([]email.Recipient, 0, len(in))
	for _, r := range in {
		rcpt, err := email.NewRecipient(r.Email, r.Name)
		if err != nil {
			return nil, err
		}
		out = append(out, rcpt)
	}
	return out, nil
}

// stringifyVariables flattens JSON values to the text substituted into a
// body. Numbers keep their literal form.
func stringifyVariables(vars map[string]any) map[string]string {
	return lo.MapValues(vars, func(v any, _ string) string {
		switch v := v.(type) {
		case nil:
			return ""
		case string:
			return v
		case json.Number:
			return v.String()
		case bool:
			return strconv.FormatBool(v)
		default:
			b, err := json.Marshal(v)
			if err != nil {
				return fmt.Sprint(v)
			}
			return string(b)
		}
	})
}

func (s *Server) handleSendTemplate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		writeMessage(w, decodeStatus(err), fmt.Sprintf("invalid form: %v", err))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	req, err := templateRequestFromForm(r.MultipartForm)
	if err != nil {
		writeError(w, err)
		return
	}

	out, err := s.dispatcher.SendTemplate(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOutcome(w, out)
}

func templateRequestFromForm(form *multipart.Form) (dispatch.TemplateRequest, error) {
	value := func(key string) string {
		if v := form.Value[key]; len(v) > 0 {
			return strings.TrimSpace(v[0])
		}
		return ""
	}

	req := dispatch.TemplateRequest{
		Template: value("template_name"),
		Subject:  value("subject"),
	}
	if req.Template == "" {
		return req, &email.ValidationError{Field: "template_name", Reason: "must not be empty"}
	}

	var err error
	if req.To, err = email.ParseRecipientList(value("to_recipients")); err != nil {
		return req, err
	}
	if req.Cc, err = email.ParseRecipientList(value("cc_recipients")); err != nil {
		return req, err
	}
	if req.Bcc, err = email.ParseRecipientList(value("bcc_recipients")); err != nil {
		return req, err
	}
	if req.Importance, err = email.ParseImportance(value("importance")); err != nil {
		return req, err
	}

	if raw := value("save_to_sent_items"); raw != "" {
		save, err := strconv.ParseBool(raw)
		if err != nil {
			return req, &email.ValidationError{Field: "save_to_sent_items", Reason: fmt.Sprintf("invalid boolean %q", raw)}
		}
		req.SaveToSentItems = &save
	}

	if raw := value("template_variables"); raw != "" {
		vars := map[string]any{}
		dec := json.NewDecoder(strings.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&vars); err != nil {
			return req, &email.ValidationError{Field: "template_variables", Reason: "invalid JSON object"}
		}
		req.Variables = stringifyVariables(vars)
	}

	if raw := value("attachment_names"); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			if name = strings.TrimSpace(name); name != "" {
				req.StoredAttachments = append(req.StoredAttachments, name)
			}
		}
	}

	for _, fh := range form.File["files"] {
		att, err := readFormFile(fh)
		if err != nil {
			return req, err
		}
		req.Attachments = append(req.Attachments, att)
	}
	return req, nil
}

func readFormFile(fh *multipart.FileHeader) (email.Attachment, error) {
	f, err := fh.Open()
	if err != nil {
		return email.Attachment{}, fmt.Errorf("open upload %q: %w", fh.Filename, err)
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		return email.Attachment{}, fmt.Errorf("read upload %q: %w", fh.Filename, err)
	}
	return email.NewAttachment(fh.Filename, fh.Header.Get("Content-Type"), content), nil
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	dec.UseNumber()
	return dec.Decode(v)
}

func decodeStatus(err error) int {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

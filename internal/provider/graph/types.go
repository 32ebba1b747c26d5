// Package graph implements a Provider that sends emails via the Microsoft Graph API.
package graph

import (
	"github.com/samber/lo"

	"github.com/shineum/mailgate/internal/attachment"
	"github.com/shineum/mailgate/internal/email"
)

// sendMailRequest is the top-level request body for the Graph API sendMail endpoint.
type sendMailRequest struct {
	Message         sendMailMessage `json:"message"`
	SaveToSentItems bool            `json:"saveToSentItems"`
}

// sendMailMessage represents the message portion of a sendMail request.
// Optional lists are omitted entirely when empty.
type sendMailMessage struct {
	Subject       string                       `json:"subject"`
	Body          messageBody                  `json:"body"`
	ToRecipients  []recipient                  `json:"toRecipients"`
	CcRecipients  []recipient                  `json:"ccRecipients,omitempty"`
	BccRecipients []recipient                  `json:"bccRecipients,omitempty"`
	Importance    string                       `json:"importance"`
	Attachments   []attachment.GraphAttachment `json:"attachments,omitempty"`
}

// messageBody represents the body of an email message.
type messageBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

// recipient represents an email recipient.
type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

// emailAddress represents an email address in a Graph API request. Name is
// sent as null when the recipient has no display name.
type emailAddress struct {
	Address string  `json:"address"`
	Name    *string `json:"name"`
}

// buildSendMailRequest converts an email.Email into a Graph API sendMail request body.
func buildSendMailRequest(msg *email.Email) *sendMailRequest {
	importance := msg.Importance
	if importance == "" {
		importance = email.ImportanceNormal
	}
	bodyType := msg.BodyType
	if bodyType == "" {
		bodyType = email.BodyHTML
	}

	return &sendMailRequest{
		Message: sendMailMessage{
			Subject: msg.Subject,
			Body: messageBody{
				ContentType: string(bodyType),
				Content:     msg.Body,
			},
			ToRecipients:  toRecipients(msg.To),
			CcRecipients:  toRecipients(msg.Cc),
			BccRecipients: toRecipients(msg.Bcc),
			Importance:    string(importance),
			Attachments:   lo.Map(msg.Attachments, func(a email.Attachment, _ int) attachment.GraphAttachment { return attachment.ToGraph(a) }),
		},
		SaveToSentItems: msg.SaveToSentItems,
	}
}

// toRecipients maps recipients to Graph recipient objects. An empty input
// yields nil so the JSON key is omitted.
func toRecipients(list []email.Recipient) []recipient {
	if len(list) == 0 {
		return nil
	}
	return lo.Map(list, func(r email.Recipient, _ int) recipient {
		addr := emailAddress{Address: r.Email}
		if r.Name != "" {
			addr.Name = &r.Name
		}
		return recipient{EmailAddress: addr}
	})
}

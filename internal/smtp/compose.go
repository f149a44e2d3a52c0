package smtp

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/vdavid/postbox/internal/mailerr"
	"github.com/vdavid/postbox/internal/models"
)

// Message is a composed outbound message.
type Message struct {
	From       *mail.Address
	To         []*mail.Address
	Cc         []*mail.Address
	MessageID  string
	Raw        []byte
	Recipients []string
}

// parseRecipients parses every address in list. An empty or unparsable entry
// is an invalid recipient.
func parseRecipients(field string, list []string) ([]*mail.Address, error) {
	out := make([]*mail.Address, 0, len(list))
	for _, raw := range list {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		addrs, err := mail.ParseAddressList(raw)
		if err != nil {
			return nil, mailerr.New(mailerr.KindInvalidRecipient, fmt.Sprintf("invalid %s address %q", field, raw), err)
		}
		out = append(out, addrs...)
	}
	return out, nil
}

// senderAddress derives the From address from the SMTP login. Logins without
// a domain get the server host appended.
func senderAddress(creds models.SMTPCredentials) (*mail.Address, error) {
	login := strings.TrimSpace(creds.User)
	if !strings.Contains(login, "@") {
		login = login + "@" + creds.Host
	}
	addr, err := mail.ParseAddress(login)
	if err != nil {
		return nil, mailerr.New(mailerr.KindConfigurationInvalid, "SMTP username is not a valid sender address", err)
	}
	return addr, nil
}

// Compose builds the MIME message of req. Plain text alone is a single part;
// an HTML alternative or attachments produce a multipart message.
func Compose(from *mail.Address, req *models.SendRequest, now time.Time) (*Message, error) {
	to, err := parseRecipients("to", req.To)
	if err != nil {
		return nil, err
	}
	cc, err := parseRecipients("cc", req.Cc)
	if err != nil {
		return nil, err
	}
	if len(to) == 0 {
		return nil, mailerr.New(mailerr.KindInvalidRecipient, "at least one recipient is required", nil)
	}

	var h mail.Header
	h.SetDate(now)
	h.SetAddressList("From", []*mail.Address{from})
	h.SetAddressList("To", to)
	if len(cc) > 0 {
		h.SetAddressList("Cc", cc)
	}
	h.SetSubject(req.Subject)
	if req.InReplyTo != "" {
		id := strings.Trim(strings.TrimSpace(req.InReplyTo), "<>")
		h.SetMsgIDList("In-Reply-To", []string{id})
		h.SetMsgIDList("References", []string{id})
	}
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("failed to generate message id: %w", err)
	}
	messageID, err := h.MessageID()
	if err != nil {
		return nil, fmt.Errorf("failed to read message id: %w", err)
	}

	var buf bytes.Buffer
	if req.HTML == "" && len(req.Attachments) == 0 {
		h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
		w, err := mail.CreateSingleInlineWriter(&buf, h)
		if err != nil {
			return nil, fmt.Errorf("could not create mail writer: %w", err)
		}
		if _, err := io.WriteString(w, req.Content); err != nil {
			return nil, fmt.Errorf("could not write body: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("could not close mail writer: %w", err)
		}
	} else if err := writeMultipart(&buf, h, req); err != nil {
		return nil, err
	}

	recipients := make([]string, 0, len(to)+len(cc))
	for _, a := range append(append([]*mail.Address{}, to...), cc...) {
		recipients = append(recipients, a.Address)
	}

	return &Message{
		From:       from,
		To:         to,
		Cc:         cc,
		MessageID:  messageID,
		Raw:        buf.Bytes(),
		Recipients: recipients,
	}, nil
}

func writeMultipart(w io.Writer, h mail.Header, req *models.SendRequest) error {
	mw, err := mail.CreateWriter(w, h)
	if err != nil {
		return fmt.Errorf("could not create mail writer: %w", err)
	}

	inline, err := mw.CreateInline()
	if err != nil {
		return fmt.Errorf("could not create inline part: %w", err)
	}
	if err := writeInlinePart(inline, "text/plain", req.Content); err != nil {
		return err
	}
	if req.HTML != "" {
		if err := writeInlinePart(inline, "text/html", req.HTML); err != nil {
			return err
		}
	}
	if err := inline.Close(); err != nil {
		return fmt.Errorf("could not close inline part: %w", err)
	}

	for _, a := range req.Attachments {
		var ah mail.AttachmentHeader
		contentType := a.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		ah.Set("Content-Type", contentType)
		ah.SetFilename(a.Filename)

		aw, err := mw.CreateAttachment(ah)
		if err != nil {
			return fmt.Errorf("could not create attachment %q: %w", a.Filename, err)
		}
		if _, err := aw.Write(a.Content); err != nil {
			return fmt.Errorf("could not write attachment %q: %w", a.Filename, err)
		}
		if err := aw.Close(); err != nil {
			return fmt.Errorf("could not close attachment %q: %w", a.Filename, err)
		}
	}

	if err := mw.Close(); err != nil {
		return fmt.Errorf("could not close mail writer: %w", err)
	}
	return nil
}

func writeInlinePart(inline *mail.InlineWriter, contentType, body string) error {
	var ih mail.InlineHeader
	ih.SetContentType(contentType, map[string]string{"charset": "utf-8"})

	pw, err := inline.CreatePart(ih)
	if err != nil {
		return fmt.Errorf("could not create %s part: %w", contentType, err)
	}
	if _, err := io.WriteString(pw, body); err != nil {
		return fmt.Errorf("could not write %s part: %w", contentType, err)
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("could not close %s part: %w", contentType, err)
	}
	return nil
}

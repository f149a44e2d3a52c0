package imap

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
	"github.com/jhillyerd/enmime"
	"github.com/vdavid/postbox/internal/models"
)

// normalize turns an accumulated message into a summary. Header fields come
// from the HEADER.FIELDS section, falling back to the full body's header.
// Content is the parsed plain text, else the raw TEXT section, else the
// whole raw body.
func normalize(p *pendingMessage) models.EmailSummary {
	summary := models.EmailSummary{
		ID:     p.uid,
		Seq:    p.seq,
		Flags:  nonNil(p.flags),
		Labels: nonNil(p.labels),
		To:     []string{},
		Cc:     []string{},
	}

	header, ok := parseHeader(p.header)
	if !ok {
		header, ok = parseHeader(p.body)
	}
	if ok {
		summary.From = firstAddress(header, "From")
		summary.To = addressList(header, "To")
		summary.Cc = addressList(header, "Cc")
		if id, err := header.MessageID(); err == nil {
			summary.MessageID = id
		}
		if subject, err := header.Subject(); err == nil {
			summary.Subject = subject
		} else {
			summary.Subject = header.Get("Subject")
		}
		if date, err := header.Date(); err == nil {
			summary.Date = date
		}
	}
	if summary.Date.IsZero() {
		summary.Date = p.internalDate
	}

	var text, html string
	if len(p.body) > 0 {
		if env, err := enmime.ReadEnvelope(bytes.NewReader(p.body)); err == nil {
			text = env.Text
			html = env.HTML
		}
	}

	switch {
	case strings.TrimSpace(text) != "":
		summary.Content = text
	case len(p.text) > 0:
		summary.Content = string(p.text)
	default:
		summary.Content = string(p.body)
	}
	summary.HTML = html

	return summary
}

func parseHeader(raw []byte) (mail.Header, bool) {
	if len(raw) == 0 {
		return mail.Header{}, false
	}
	h, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return mail.Header{}, false
	}
	return mail.Header{Header: message.Header{Header: h}}, true
}

// firstAddress formats the first address of a field. Unparsable fields are
// returned decoded but otherwise as-is.
func firstAddress(h mail.Header, key string) string {
	if list, err := h.AddressList(key); err == nil && len(list) > 0 {
		return formatAddress(list[0])
	}
	return decodedText(h, key)
}

func addressList(h mail.Header, key string) []string {
	if list, err := h.AddressList(key); err == nil {
		out := make([]string, 0, len(list))
		for _, a := range list {
			out = append(out, formatAddress(a))
		}
		return out
	}

	raw := decodedText(h, key)
	if raw == "" {
		return []string{}
	}
	var out []string
	for _, piece := range strings.Split(raw, ",") {
		if piece = strings.TrimSpace(piece); piece != "" {
			out = append(out, piece)
		}
	}
	return nonNil(out)
}

func decodedText(h mail.Header, key string) string {
	if v, err := h.Text(key); err == nil {
		return strings.TrimSpace(v)
	}
	return strings.TrimSpace(h.Get(key))
}

// formatAddress renders "Name <user@host>" or a bare address. Names holding
// RFC 5322 specials are quoted so the result parses back to the same address.
func formatAddress(address *mail.Address) string {
	if address == nil {
		return ""
	}
	if address.Name == "" {
		return address.Address
	}
	name := address.Name
	if strings.ContainsAny(name, addressSpecials) {
		name = `"` + quoteEscaper.Replace(name) + `"`
	}
	return fmt.Sprintf("%s <%s>", name, address.Address)
}

const addressSpecials = `()<>[]:;@\,."`

var quoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

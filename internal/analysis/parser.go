package analysis

import (
	"bufio"
	"bytes"
	"net/mail"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/jhillyerd/enmime"

	apperrors "github.com/welldanyogia/webrana-phishtriage/internal/errors"
)

// ForwardMarker is the body cue that introduces an embedded original message.
const ForwardMarker = "Forwarded message"

const snippetLength = 255

var (
	// Pattern: "Name" <email@example.com>, Name <email@example.com> or email@example.com
	fromHeaderPattern  = regexp.MustCompile(`^(?:"?([^"<]*?)"?\s*<)?([^<>]+@[^<>]+?)>?$`)
	bareAddressPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
)

// Parse decodes a raw artifact into a ParsedMessage. It fails with an error
// matching ErrParse only when the bytes are not a mail structure at all;
// missing subject, body or attachments degrade to empty values.
func Parse(raw []byte) (*ParsedMessage, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, apperrors.NewParseError("empty artifact", nil)
	}

	// enmime accepts arbitrary bytes as a body and repairs malformed lines
	// inside a header block, so only the opening line is checked here.
	if !opensHeaderBlock(raw) {
		return nil, apperrors.NewParseError("no header block", nil)
	}

	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, apperrors.NewParseError("decode MIME structure", err)
	}
	if env.Root == nil || len(env.Root.Header) == 0 {
		return nil, apperrors.NewParseError("no header fields", nil)
	}

	parsed := &ParsedMessage{
		Subject:         strings.TrimSpace(env.GetHeader("Subject")),
		MessageID:       strings.TrimSpace(env.GetHeader("Message-ID")),
		ReporterAddress: topLevelSender(env),
	}

	var text, html strings.Builder
	for _, part := range leafParts(env.Root) {
		if part.FileName != "" {
			parsed.AttachmentNames = append(parsed.AttachmentNames, part.FileName)
			continue
		}
		if strings.EqualFold(part.Disposition, "attachment") {
			continue
		}
		switch part.ContentType {
		case "text/plain", "":
			text.Write(part.Content)
		case "text/html":
			html.Write(part.Content)
		}
	}
	parsed.BodyText = text.String()
	parsed.BodyHTML = html.String()
	parsed.Links = mergeLinks(parsed.BodyText, parsed.BodyHTML)
	parsed.Snippet = generateSnippet(parsed.BodyText, parsed.BodyHTML)

	parsed.OriginalSender = parsed.ReporterAddress
	if sender, forwarded := forwardedSender(parsed.BodyText); forwarded {
		parsed.OriginalSender = sender
	}
	if parsed.OriginalSender == "" {
		parsed.OriginalSender = UnknownSender
	}

	return parsed, nil
}

// opensHeaderBlock reports whether the first line of raw is a header field,
// a name of printable ASCII followed by a colon.
func opensHeaderBlock(raw []byte) bool {
	line := raw
	if i := bytes.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	colon := bytes.IndexByte(line, ':')
	if colon <= 0 {
		return false
	}
	for _, c := range line[:colon] {
		if c < 33 || c > 126 {
			return false
		}
	}
	return true
}

// leafParts returns the content-bearing parts of the tree in document order.
func leafParts(root *enmime.Part) []*enmime.Part {
	if root == nil {
		return nil
	}
	return root.DepthMatchAll(func(p *enmime.Part) bool {
		return p.FirstChild == nil
	})
}

func topLevelSender(env *enmime.Envelope) string {
	if list, err := env.AddressList("From"); err == nil && len(list) > 0 {
		return list[0].Address
	}
	return addressFrom(env.GetHeader("From"))
}

// forwardedSender unwraps one forwarded layer. The second result reports
// whether the marker was present; the address is empty when the nested
// header block carries no resolvable From.
func forwardedSender(body string) (string, bool) {
	idx := strings.Index(body, ForwardMarker)
	if idx < 0 {
		return "", false
	}

	// Drop the rest of the marker line, e.g. "---------".
	rest := body[idx+len(ForwardMarker):]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[nl+1:]
	} else {
		rest = ""
	}
	rest = strings.TrimLeft(rest, "\r\n\t ")

	if msg, err := mail.ReadMessage(strings.NewReader(rest)); err == nil {
		if addr := addressFrom(msg.Header.Get("From")); addr != "" {
			return addr, true
		}
	}
	return scanFromLine(rest), true
}

// scanFromLine looks for a From line in a loosely formatted header block,
// such as one indented or quoted by the forwarding client.
func scanFromLine(block string) string {
	scanner := bufio.NewScanner(strings.NewReader(block))
	for scanner.Scan() {
		line := strings.TrimSpace(strings.TrimLeft(scanner.Text(), "> \t"))
		if line == "" {
			return ""
		}
		if len(line) > 5 && strings.EqualFold(line[:5], "from:") {
			return addressFrom(line[5:])
		}
	}
	return ""
}

// addressFrom extracts the bare address from a From header value.
func addressFrom(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if addr, err := mail.ParseAddress(value); err == nil {
		return addr.Address
	}
	_, email := parseFromHeader(value)
	// Outlook style "Name [mailto:a@b]" and similar decorations.
	if strings.ContainsAny(email, " \t[]:;\"") {
		email = bareAddressPattern.FindString(email)
	}
	if !strings.Contains(email, "@") {
		return ""
	}
	return email
}

// parseFromHeader extracts name and email from a From header
func parseFromHeader(from string) (name, email string) {
	from = strings.TrimSpace(from)
	if from == "" {
		return "", ""
	}

	matches := fromHeaderPattern.FindStringSubmatch(from)
	if len(matches) >= 3 {
		name = strings.Trim(strings.TrimSpace(matches[1]), `"`)
		email = strings.TrimSpace(matches[2])
	} else {
		// Fallback: treat entire string as email
		email = from
	}

	return name, email
}

// generateSnippet creates a preview snippet from email body
func generateSnippet(bodyText, bodyHTML string) string {
	text := bodyText
	if strings.TrimSpace(text) == "" && bodyHTML != "" {
		text = htmlToText(bodyHTML)
	}

	text = strings.Join(strings.Fields(text), " ")

	runes := []rune(text)
	if len(runes) > snippetLength {
		text = string(runes[:snippetLength-3]) + "..."
	}
	return text
}

// htmlToText renders the visible text of an HTML body.
func htmlToText(src string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		return ""
	}
	doc.Find("script, style, head").Remove()
	// Keep block boundaries from gluing words together.
	doc.Find("br, p, div, li, tr, td, h1, h2, h3, h4, h5, h6").AppendHtml(" ")
	return doc.Text()
}

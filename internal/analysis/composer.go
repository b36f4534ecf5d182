package analysis

import (
	"fmt"
	"strings"
)

// DefaultSignature signs replies when no team name is configured.
const DefaultSignature = "Security Team"

const replySubjectBase = "Analysis of Forwarded Email"

const highTemplate = `Hello,

We've analyzed the email you forwarded (subject: %q) and identified it as HIGH RISK.

THREAT ANALYSIS:
- Multiple security concerns detected
- %d links found in the message
- %d attachments that may contain malware

RECOMMENDED ACTIONS:
1. DO NOT respond to the sender
2. DO NOT click any links or download attachments
3. DELETE the email immediately

%s
`

const mediumTemplate = `Hello,

We've analyzed the email you forwarded (subject: %q) and identified it as POTENTIALLY RISKY.

CAUTION:
- Some suspicious elements detected
- %d links and %d attachments found in the message
- Exercise caution with any links or attachments

RECOMMENDED ACTIONS:
1. Verify the sender through another channel before taking any action
2. Do not click links or download attachments unless absolutely necessary

%s
`

const lowTemplate = `Hello,

We've analyzed the email you forwarded (subject: %q). It appears to be LOW RISK but we always recommend caution.

ANALYSIS:
- No major security threats detected
- %d links and %d attachments found in the message
- Always remain vigilant with unexpected emails

%s
`

// Composer renders verdict replies. The zero value signs with
// DefaultSignature.
type Composer struct {
	Signature string
}

// NewComposer creates a Composer signing replies with signature.
func NewComposer(signature string) Composer {
	return Composer{Signature: strings.TrimSpace(signature)}
}

// Compose selects the template for the assessed level and fills in the
// subject and indicator counts. The result is a plain-text message body.
func (c Composer) Compose(a Assessment, subject string, counts Counts) string {
	signature := c.Signature
	if signature == "" {
		signature = DefaultSignature
	}

	switch a.Level {
	case LevelHigh:
		return fmt.Sprintf(highTemplate, subject, counts.Links, counts.Attachments, signature)
	case LevelMedium:
		return fmt.Sprintf(mediumTemplate, subject, counts.Links, counts.Attachments, signature)
	default:
		return fmt.Sprintf(lowTemplate, subject, counts.Links, counts.Attachments, signature)
	}
}

// Compose renders a reply signed with DefaultSignature.
func Compose(a Assessment, subject string, counts Counts) string {
	return Composer{}.Compose(a, subject, counts)
}

// ReplySubject builds the subject line of the outbound reply.
func ReplySubject(level ThreatLevel, subject string) string {
	var line string
	switch level {
	case LevelHigh:
		line = "[HIGH RISK] " + replySubjectBase
	case LevelMedium:
		line = "[CAUTION] " + replySubjectBase
	default:
		line = replySubjectBase
	}

	subject = strings.Join(strings.Fields(subject), " ")
	if subject != "" {
		line += ": " + subject
	}
	return line
}

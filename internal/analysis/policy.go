package analysis

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Policy holds the scoring weights, thresholds and term lists. A Scorer
// copies it at construction; it is never read from ambient state.
type Policy struct {
	MaliciousWeight  int `yaml:"malicious_weight" json:"malicious_weight"`
	SuspiciousWeight int `yaml:"suspicious_weight" json:"suspicious_weight"`
	KeywordWeight    int `yaml:"keyword_weight" json:"keyword_weight"`
	AttachmentWeight int `yaml:"attachment_weight" json:"attachment_weight"`
	HighThreshold    int `yaml:"high_threshold" json:"high_threshold"`
	MediumThreshold  int `yaml:"medium_threshold" json:"medium_threshold"`

	// Keywords are matched case-insensitively as substrings of the body text.
	Keywords []string `yaml:"keywords" json:"keywords"`
	// RiskyExtensions are matched case-insensitively against attachment name
	// suffixes, including the leading dot.
	RiskyExtensions []string `yaml:"risky_extensions" json:"risky_extensions"`
}

// DefaultPolicy returns the built-in scoring policy.
func DefaultPolicy() Policy {
	return Policy{
		MaliciousWeight:  8,
		SuspiciousWeight: 3,
		KeywordWeight:    6,
		AttachmentWeight: 25,
		HighThreshold:    12,
		MediumThreshold:  6,
		Keywords: []string{
			"urgent", "payment", "verify", "account", "password", "login",
			"bank", "invoice", "transaction", "swift", "beneficiary",
			"wire transfer", "gift card",
		},
		RiskyExtensions: []string{
			// executables and scripts
			".exe", ".scr", ".com", ".bat", ".cmd", ".pif", ".msi", ".dll",
			".js", ".jse", ".vbs", ".vbe", ".wsf", ".ps1", ".hta", ".jar", ".lnk",
			// archives
			".zip", ".rar", ".7z", ".iso", ".img", ".cab",
			// macro-enabled office formats
			".docm", ".xlsm", ".pptm", ".dotm", ".xltm", ".xlam", ".ppsm",
		},
	}
}

// LoadPolicy reads a YAML policy file and overlays it on DefaultPolicy:
// fields absent from the file keep their default values, lists present in
// the file replace the default lists.
func LoadPolicy(path string) (Policy, error) {
	policy := DefaultPolicy()

	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read scoring policy: %w", err)
	}
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return Policy{}, fmt.Errorf("decode scoring policy %s: %w", path, err)
	}

	policy = policy.normalized()
	if err := policy.Validate(); err != nil {
		return Policy{}, err
	}
	return policy, nil
}

// Validate checks that the policy can produce a meaningful classification.
func (p Policy) Validate() error {
	weights := []struct {
		name  string
		value int
	}{
		{"malicious_weight", p.MaliciousWeight},
		{"suspicious_weight", p.SuspiciousWeight},
		{"keyword_weight", p.KeywordWeight},
		{"attachment_weight", p.AttachmentWeight},
	}
	for _, w := range weights {
		if w.value < 0 {
			return fmt.Errorf("%s must not be negative", w.name)
		}
	}

	if p.HighThreshold <= 0 {
		return fmt.Errorf("high_threshold must be positive")
	}
	if p.MediumThreshold <= 0 || p.MediumThreshold > p.HighThreshold {
		return fmt.Errorf("medium_threshold must be between 1 and high_threshold")
	}

	for _, k := range p.Keywords {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("keywords must not contain empty terms")
		}
	}
	for _, ext := range p.RiskyExtensions {
		if strings.Trim(ext, ". ") == "" {
			return fmt.Errorf("risky_extensions must not contain empty extensions")
		}
	}
	return nil
}

// normalized returns a copy with lower-cased terms and dot-prefixed
// extensions. The receiver's slices are not shared.
func (p Policy) normalized() Policy {
	keywords := make([]string, 0, len(p.Keywords))
	for _, k := range p.Keywords {
		keywords = append(keywords, strings.ToLower(strings.TrimSpace(k)))
	}

	exts := make([]string, 0, len(p.RiskyExtensions))
	for _, ext := range p.RiskyExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts = append(exts, ext)
	}

	p.Keywords = keywords
	p.RiskyExtensions = exts
	return p
}

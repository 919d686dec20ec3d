// Package extractor turns captured HTML into a candidate company profile
// using an Anthropic model.
package extractor

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/compliance-cli/internal/collector"
	"github.com/sells-group/compliance-cli/internal/config"
	"github.com/sells-group/compliance-cli/internal/model"
	"github.com/sells-group/compliance-cli/pkg/anthropic"
)

// maxContentChars caps the cleaned page text included in a prompt.
const maxContentChars = 50000

// maxHints limits how many regex-found candidates are surfaced to the model.
const maxHints = 3

// Extractor produces a candidate field mapping from HTML text. attempt 0 is
// the initial extraction; attempt 1 uses the corrective retry prompt.
type Extractor interface {
	Extract(ctx context.Context, html string, attempt int) (map[string]string, model.TokenUsage, error)
}

// LLMExtractor implements Extractor against the Anthropic API.
type LLMExtractor struct {
	client anthropic.Client
	cfg    config.AnthropicConfig
}

// New creates an LLMExtractor.
func New(client anthropic.Client, cfg config.AnthropicConfig) *LLMExtractor {
	return &LLMExtractor{client: client, cfg: cfg}
}

const systemText = "You are a compliance analyst extracting company contact information from website text. Return ONLY a valid JSON object with the requested keys. Use null for fields not found."

const extractionPrompt = `Extract the following company information from the website content and return ONLY a valid JSON object.

IMPORTANT: The content may be in English OR German. Handle both languages.

Extract these fields:
1. company_name: The official name of the company (headers, titles, footer copyright)
2. contact_email: Contact email address (mailto: links, "Kontakt" sections)
3. phone_number: Phone number ("Tel:", "Telefon:", international formats)
4. address: Physical address or location information
5. about_us_text: About us, company description, or mission statement (keep the original language)

Look for both English and German terms: "Contact"/"Kontakt", "About us"/"Über uns", "Impressum", "Datenschutz".
%s
Website content:
%s

Return ONLY a JSON object with exactly these keys: company_name, contact_email, phone_number, address, about_us_text. Use null for any field not found.`

const retryPrompt = `The previous extraction failed validation. Try again with this website content and be very careful to return ONLY valid JSON.

CRITICAL: The content may be in GERMAN or English.

Search specifically for:
- Company name (header, title, footer, or about section)
- Email addresses (contact@, info@, support@, mailto: links)
- Phone numbers ((xxx) xxx-xxxx, +x-xxx-xxx-xxxx, Tel:, Telefon:)
- Address information (street, city, state, zip, German addresses)
- About us / description text (paragraphs describing the company, in the original language)

GERMAN-SPECIFIC TERMS: "Kontakt" = Contact, "Über uns" = About us, "Impressum" = legal notice, "Sprechen Sie uns an" = contact us.

Website content:
%s

Return ONLY a valid JSON object with exactly these keys: company_name, contact_email, phone_number, address, about_us_text. No explanations, no markdown formatting, just the JSON.`

// Extract cleans the HTML, prompts the model, and parses the returned JSON
// into a field mapping. Fields the model reports as null are absent from the
// result.
func (e *LLMExtractor) Extract(ctx context.Context, html string, attempt int) (map[string]string, model.TokenUsage, error) {
	var usage model.TokenUsage

	if strings.TrimSpace(html) == "" {
		return nil, usage, eris.New("extractor: no HTML content available")
	}

	cleaned := truncate(collector.StripHTML(html), maxContentChars)

	prompt, mdl := e.buildPrompt(cleaned, attempt)

	temp := 0.0
	resp, err := e.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       mdl,
		MaxTokens:   e.cfg.MaxTokens,
		System:      systemText,
		Messages:    []anthropic.Message{{Role: "user", Content: prompt}},
		Temperature: &temp,
	})
	if err != nil {
		return nil, usage, eris.Wrap(err, "extractor: model call")
	}

	usage.InputTokens = int(resp.Usage.InputTokens)
	usage.OutputTokens = int(resp.Usage.OutputTokens)

	fields, err := ParseFields(anthropic.ExtractText(resp))
	if err != nil {
		return nil, usage, eris.Wrap(err, "extractor: parse response")
	}

	zap.L().Info("extractor: fields extracted",
		zap.Int("attempt", attempt),
		zap.String("model", mdl),
		zap.Int("fields", len(fields)),
		zap.Int("input_tokens", usage.InputTokens),
		zap.Int("output_tokens", usage.OutputTokens),
	)

	return fields, usage, nil
}

// buildPrompt selects the prompt template and model for the attempt. The
// retry attempt uses the corrective prompt and escalates to the retry model.
func (e *LLMExtractor) buildPrompt(cleaned string, attempt int) (prompt, mdl string) {
	if attempt > 0 {
		mdl = e.cfg.RetryModel
		if mdl == "" {
			mdl = e.cfg.Model
		}
		return fmt.Sprintf(retryPrompt, cleaned), mdl
	}

	return fmt.Sprintf(extractionPrompt, hintContext(cleaned), cleaned), e.cfg.Model
}

// truncate caps s at max bytes, backing off to a rune boundary so German
// umlauts and other multi-byte characters are never split mid-sequence.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// hintContext surfaces regex-found emails and phones so the model does not
// miss values buried deep in the page text.
func hintContext(cleaned string) string {
	var b strings.Builder

	if emails := collector.ExtractEmails(cleaned); len(emails) > 0 {
		if len(emails) > maxHints {
			emails = emails[:maxHints]
		}
		fmt.Fprintf(&b, "Found potential emails: %s\n", strings.Join(emails, ", "))
	}
	if phones := collector.ExtractPhones(cleaned); len(phones) > 0 {
		if len(phones) > maxHints {
			phones = phones[:maxHints]
		}
		fmt.Fprintf(&b, "Found potential phones: %s\n", strings.Join(phones, ", "))
	}

	if b.Len() == 0 {
		return "\n"
	}
	return "\nCONTEXT INFORMATION:\n" + b.String() + "\n"
}

// Package moderation holds the deterministic spam checks and the worker
// pool that applies them to group traffic.
package moderation

import (
	"net/url"
	"regexp"
	"strings"
	"unicode/utf16"

	"github.com/Susbonk/SusBonk-V1/internal/domain"
)

// Trigger names the deterministic check that condemned a message.
type Trigger string

const (
	TriggerMentionEntity      Trigger = "MentionEntity"
	TriggerMentionRegex       Trigger = "MentionRegex"
	TriggerLinkEntityURL      Trigger = "LinkEntityUrl"
	TriggerLinkEntityTextLink Trigger = "LinkEntityTextLink"
	TriggerLinkRegex          Trigger = "LinkRegex"
	TriggerEmailRegex         Trigger = "EmailRegex"
	TriggerEmojiOverflow      Trigger = "EmojiOverflow"
)

// Entity is a message annotation as reported by the chat platform.
// Offset and Length are in UTF-16 code units.
type Entity struct {
	Type   string
	Offset int
	Length int
	URL    string // text_link target
}

// Entity types the checks care about.
const (
	EntityMention  = "mention"
	EntityURL      = "url"
	EntityTextLink = "text_link"
)

// Mention fallback: requires start-of-text or a non-word char that is
// not '.' before the '@', so emails like a@b.com do not match.
var reMention = regexp.MustCompile(`(?i)(^|[^a-z0-9_.])@[a-z0-9_]{5,32}($|[^a-z0-9_])`)

// Link fallback: a scheme, www. or t.me/ marker plus the rest of the
// URL token, so the host can be normalized and checked against the
// whitelist.
var reLinkFallback = regexp.MustCompile(`(?i)\b(?:[a-z][a-z0-9+.-]*://|www\.|t\.me/)\S+`)

// Email detection. Good enough for moderation, not RFC validation.
var reEmail = regexp.MustCompile(`(?i)\b[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}\b`)

// CountEmojis counts code points inside the common emoji blocks.
func CountEmojis(text string) int {
	count := 0
	for _, r := range text {
		if isEmoji(r) {
			count++
		}
	}
	return count
}

func isEmoji(r rune) bool {
	switch {
	case r >= 0x1F600 && r <= 0x1F64F, // emoticons
		r >= 0x1F300 && r <= 0x1F5FF, // misc symbols and pictographs
		r >= 0x1F680 && r <= 0x1F6FF, // transport and map
		r >= 0x1F1E6 && r <= 0x1F1FF, // regional indicators (flags)
		r >= 0x2600 && r <= 0x26FF, // misc symbols
		r >= 0x2700 && r <= 0x27BF, // dingbats
		r >= 0x1F900 && r <= 0x1F9FF, // supplemental symbols
		r >= 0x1F018 && r <= 0x1F270, // various symbols
		r == 0x203C, r == 0x2049, r == 0x2122, r == 0x2139,
		r >= 0x2194 && r <= 0x2199,
		r >= 0x21A9 && r <= 0x21AA,
		r >= 0x231A && r <= 0x231B,
		r == 0x2328, r == 0x23CF,
		r >= 0x23E9 && r <= 0x23F3,
		r >= 0x25AA && r <= 0x25AB,
		r == 0x25B6, r == 0x25C0,
		r >= 0x25FB && r <= 0x25FE,
		r >= 0x2B05 && r <= 0x2B07,
		r >= 0x2B1B && r <= 0x2B1C,
		r == 0x2B50, r == 0x2B55:
		return true
	}
	return false
}

// EntityText slices the entity's span out of the message text,
// honoring the platform's UTF-16 offsets.
func EntityText(text string, e Entity) string {
	units := utf16.Encode([]rune(text))
	start := e.Offset
	end := e.Offset + e.Length
	if start < 0 || end > len(units) || start > end {
		return ""
	}
	return string(utf16.Decode(units[start:end]))
}

// ExtractMention returns the lowercased username behind a mention
// entity, without the @ prefix.
func ExtractMention(text string, e Entity) (string, bool) {
	mention := strings.TrimPrefix(EntityText(text, e), "@")
	if mention == "" {
		return "", false
	}
	return strings.ToLower(mention), true
}

// ExtractURL returns the link a url or text_link entity points at.
func ExtractURL(text string, e Entity) (string, bool) {
	switch e.Type {
	case EntityURL:
		s := EntityText(text, e)
		return s, s != ""
	case EntityTextLink:
		return e.URL, e.URL != ""
	}
	return "", false
}

// NormalizeDomain reduces a link to its comparable host: missing
// schemes get http://, the www. prefix is dropped, case is folded.
func NormalizeDomain(raw string) (string, bool) {
	withScheme := raw
	if !strings.Contains(raw, "://") {
		withScheme = "http://" + raw
	}

	u, err := url.Parse(withScheme)
	if err != nil || u.Host == "" {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www."), true
}

// MessageWithLinks returns the message text with every entity link
// appended, so the audit record keeps targets hidden behind text links.
func MessageWithLinks(text string, entities []Entity) string {
	var links []string
	for _, e := range entities {
		if u, ok := ExtractURL(text, e); ok {
			links = append(links, u)
		}
	}
	if len(links) == 0 {
		return text
	}
	return text + " [Links: " + strings.Join(links, ", ") + "]"
}

// Detect runs the deterministic checks in their fixed order and names
// the first trigger that condemns the message. Whitelisted mentions and
// domains let the scan continue rather than pass the whole message.
func Detect(text string, entities []Entity, p *domain.ChatPolicy) (Trigger, bool) {
	// Emoji overflow outranks everything else. Exactly max is fine.
	if p.CleanupEmojis && CountEmojis(text) > p.MaxEmojiCount {
		return TriggerEmojiOverflow, true
	}

	for _, e := range entities {
		switch e.Type {
		case EntityMention:
			if !p.CleanupMentions {
				continue
			}
			mention, ok := ExtractMention(text, e)
			if !ok {
				continue
			}
			if mentionAllowed(mention, p.AllowedMentions) {
				continue
			}
			return TriggerMentionEntity, true
		case EntityURL, EntityTextLink:
			if !p.CleanupLinks {
				continue
			}
			raw, ok := ExtractURL(text, e)
			if !ok {
				continue
			}
			domainName, ok := NormalizeDomain(raw)
			if !ok {
				continue
			}
			if domainAllowed(domainName, p.AllowedLinkDomains) {
				continue
			}
			if e.Type == EntityURL {
				return TriggerLinkEntityURL, true
			}
			return TriggerLinkEntityTextLink, true
		}
	}

	if p.CleanupMentions {
		for _, match := range reMention.FindAllString(text, -1) {
			mention := usernameFromMatch(match)
			if mention == "" {
				continue
			}
			if mentionAllowed(mention, p.AllowedMentions) {
				continue
			}
			return TriggerMentionRegex, true
		}
	}

	if p.CleanupEmails && reEmail.MatchString(text) {
		return TriggerEmailRegex, true
	}

	if p.CleanupLinks {
		for _, match := range reLinkFallback.FindAllString(text, -1) {
			domainName, ok := NormalizeDomain(match)
			if !ok {
				continue
			}
			if domainAllowed(domainName, p.AllowedLinkDomains) {
				continue
			}
			return TriggerLinkRegex, true
		}
	}

	return "", false
}

func mentionAllowed(mention string, allowed []string) bool {
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, "@")) == mention {
			return true
		}
	}
	return false
}

func domainAllowed(domainName string, allowed []string) bool {
	for _, a := range allowed {
		if a == domainName {
			return true
		}
	}
	return false
}

// usernameFromMatch pulls the username out of a mention-fallback match,
// which may include the boundary characters around the @name.
func usernameFromMatch(match string) string {
	_, after, found := strings.Cut(match, "@")
	if !found {
		return ""
	}
	end := len(after)
	for i, r := range after {
		if !isWordChar(r) {
			end = i
			break
		}
	}
	return strings.ToLower(after[:end])
}

func isWordChar(r rune) bool {
	return r == '_' ||
		(r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9')
}

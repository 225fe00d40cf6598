package moderation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Susbonk/SusBonk-V1/internal/domain"
)

func allChecks() *domain.ChatPolicy {
	return &domain.ChatPolicy{
		CleanupMentions: true,
		CleanupLinks:    true,
		CleanupEmails:   true,
		CleanupEmojis:   true,
		MaxEmojiCount:   5,
	}
}

func TestCountEmojis(t *testing.T) {
	assert.Equal(t, 0, CountEmojis("plain text"))
	assert.Equal(t, 3, CountEmojis("hi 😀😀😀"))
	assert.Equal(t, 2, CountEmojis("⭐ star and ⌚ watch"))
	// Regional indicator flags count per code point.
	assert.Equal(t, 2, CountEmojis("🇺🇸"))
}

func TestDetectEmojiOverflowBoundary(t *testing.T) {
	p := allChecks()
	p.MaxEmojiCount = 3

	// Exactly the limit passes.
	_, hit := Detect(strings.Repeat("😀", 3), nil, p)
	assert.False(t, hit)

	// One over the limit triggers.
	trigger, hit := Detect(strings.Repeat("😀", 4), nil, p)
	require.True(t, hit)
	assert.Equal(t, TriggerEmojiOverflow, trigger)
}

func TestDetectMentionEntity(t *testing.T) {
	p := allChecks()
	text := "contact @spammer now"
	entities := []Entity{{Type: EntityMention, Offset: 8, Length: 8}}

	trigger, hit := Detect(text, entities, p)
	require.True(t, hit)
	assert.Equal(t, TriggerMentionEntity, trigger)
}

func TestDetectMentionWhitelistContinues(t *testing.T) {
	p := allChecks()
	p.AllowedMentions = []string{"GroupAdmin"}

	// Whitelisted mention first, forbidden link second: the scan must
	// keep going past the whitelisted entity.
	text := "@GroupAdmin look at spam.example"
	entities := []Entity{
		{Type: EntityMention, Offset: 0, Length: 11},
		{Type: EntityTextLink, Offset: 20, Length: 12, URL: "https://spam.example/offer"},
	}

	trigger, hit := Detect(text, entities, p)
	require.True(t, hit)
	assert.Equal(t, TriggerLinkEntityTextLink, trigger)

	// With only the whitelisted mention, the message is clean.
	_, hit = Detect("@GroupAdmin hello", []Entity{{Type: EntityMention, Offset: 0, Length: 11}}, p)
	assert.False(t, hit)
}

func TestDetectLinkEntityURL(t *testing.T) {
	p := allChecks()
	text := "great deals on www.spam.example today"
	entities := []Entity{{Type: EntityURL, Offset: 15, Length: 16}}

	trigger, hit := Detect(text, entities, p)
	require.True(t, hit)
	assert.Equal(t, TriggerLinkEntityURL, trigger)
}

func TestDetectLinkDomainWhitelist(t *testing.T) {
	p := allChecks()
	p.AllowedLinkDomains = []string{"example.com"}

	// www prefix and case fold into the whitelisted domain.
	text := "see https://WWW.Example.com/docs"
	entities := []Entity{{Type: EntityURL, Offset: 4, Length: 28}}
	_, hit := Detect(text, entities, p)
	assert.False(t, hit)
}

func TestDetectMentionRegexFallback(t *testing.T) {
	p := allChecks()

	trigger, hit := Detect("ping @long_username for deals", nil, p)
	require.True(t, hit)
	assert.Equal(t, TriggerMentionRegex, trigger)

	// Too-short username does not match the fallback.
	_, hit = Detect("ping @abc ok", nil, p)
	assert.False(t, hit)

	// Whitelist also applies to the regex path.
	p.AllowedMentions = []string{"long_username"}
	_, hit = Detect("ping @long_username for deals", nil, p)
	assert.False(t, hit)
}

func TestDetectEmailBeforeLinkFallback(t *testing.T) {
	p := allChecks()

	// Both an email and a bare link present: email wins because the
	// fallbacks run mention, email, link.
	trigger, hit := Detect("write to sales@spam.example or visit www.spam.example", nil, p)
	require.True(t, hit)
	assert.Equal(t, TriggerEmailRegex, trigger)
}

func TestDetectEmailNotMention(t *testing.T) {
	p := allChecks()
	p.CleanupEmails = false

	// An email must not fire the mention fallback; the char before the
	// '@' is a word character.
	_, hit := Detect("reach me at someone@example.com", nil, p)
	assert.False(t, hit)
}

func TestDetectLinkRegexFallback(t *testing.T) {
	p := allChecks()

	for _, text := range []string{
		"visit www.spam.example now",
		"join t.me/spamchannel",
		"see ftp://files.spam.example",
		"check https://evil.tld/x now",
		"http://spam.example",
	} {
		trigger, hit := Detect(text, nil, p)
		require.True(t, hit, "expected link trigger for %q", text)
		assert.Equal(t, TriggerLinkRegex, trigger, text)
	}
}

func TestDetectLinkRegexFallbackNotDisarmedByWhitelist(t *testing.T) {
	p := allChecks()
	p.AllowedLinkDomains = []string{"example.com"}

	trigger, hit := Detect("check https://evil.tld/x now", nil, p)
	require.True(t, hit)
	assert.Equal(t, TriggerLinkRegex, trigger)
}

func TestDetectLinkRegexFallbackWhitelist(t *testing.T) {
	p := allChecks()
	p.AllowedLinkDomains = []string{"example.com"}

	// The fallback normalizes the whole URL token, so a whitelisted
	// domain behind www. passes.
	_, hit := Detect("see www.example.com/docs", nil, p)
	assert.False(t, hit)

	// A whitelisted link ahead of a forbidden one must not end the scan.
	trigger, hit := Detect("see www.example.com/docs then https://evil.tld/x", nil, p)
	require.True(t, hit)
	assert.Equal(t, TriggerLinkRegex, trigger)
}

func TestDetectAllChecksDisabled(t *testing.T) {
	p := &domain.ChatPolicy{} // every cleanup flag off

	_, hit := Detect("spam @everyone www.spam.example sales@spam.example 😀😀😀😀😀😀", []Entity{
		{Type: EntityMention, Offset: 5, Length: 9},
	}, p)
	assert.False(t, hit)
}

func TestEntityTextUTF16Offsets(t *testing.T) {
	// Emoji ahead of the entity: offsets count UTF-16 units, and the
	// emoji occupies two of them.
	text := "😀 @spammer hi"
	e := Entity{Type: EntityMention, Offset: 3, Length: 8}
	assert.Equal(t, "@spammer", EntityText(text, e))

	mention, ok := ExtractMention(text, e)
	require.True(t, ok)
	assert.Equal(t, "spammer", mention)
}

func TestEntityTextOutOfRange(t *testing.T) {
	assert.Equal(t, "", EntityText("short", Entity{Offset: 3, Length: 10}))
	assert.Equal(t, "", EntityText("short", Entity{Offset: -1, Length: 2}))
}

func TestNormalizeDomain(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"https://www.Example.COM/path?q=1", "example.com", true},
		{"example.com/landing", "example.com", true},
		{"www.example.com", "example.com", true},
		{"t.me/channel", "t.me", true},
		{"tg://resolve?domain=spam", "resolve", true},
		{"   ", "", false},
	}
	for _, tt := range tests {
		got, ok := NormalizeDomain(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		if tt.ok {
			assert.Equal(t, tt.want, got, tt.in)
		}
	}
}

func TestMessageWithLinks(t *testing.T) {
	text := "click here and there"
	entities := []Entity{
		{Type: EntityTextLink, Offset: 6, Length: 4, URL: "https://spam.example/a"},
		{Type: EntityTextLink, Offset: 15, Length: 5, URL: "https://spam.example/b"},
	}
	got := MessageWithLinks(text, entities)
	assert.Equal(t, "click here and there [Links: https://spam.example/a, https://spam.example/b]", got)

	assert.Equal(t, "no links", MessageWithLinks("no links", nil))
}

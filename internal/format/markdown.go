package format

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// MaxMessageLength is Telegram's limit for one text message, in UTF-16 units.
const MaxMessageLength = 4096

// ParseResult contains plain text and message entities
type ParseResult struct {
	Text     string
	Entities []tgbotapi.MessageEntity
}

// UTF16Len calculates the UTF-16 length of a string
// This is required because Telegram uses UTF-16 code units for entity offsets/lengths
func UTF16Len(s string) int {
	length := 0
	for _, b := range []byte(s) {
		if (b & 0xc0) != 0x80 {
			if b >= 0xf0 {
				length += 2 // Non-BMP characters (surrogate pairs)
			} else {
				length += 1
			}
		}
	}
	return length
}

// ParseMarkdown converts the Markdown subset models usually produce into
// plain text plus Telegram entities:
//   - **bold** or __bold__
//   - *italic* or _italic_
//   - `code` and ``` fenced blocks (pre)
//   - [text](url) links
//   - # Header lines (rendered bold)
//
// Unclosed markers are kept as literal text.
func ParseMarkdown(text string) ParseResult {
	p := &parser{}
	lines := strings.Split(text, "\n")

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if i > 0 {
			p.out.WriteString("\n")
		}

		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			end := i + 1
			for end < len(lines) && !strings.HasPrefix(strings.TrimSpace(lines[end]), "```") {
				end++
			}
			if end < len(lines) {
				block := strings.Join(lines[i+1:end], "\n")
				p.entity("pre", block, "")
				i = end
				continue
			}
		}

		if header, ok := headerText(line); ok {
			start := p.offset()
			p.inline(header)
			p.add("bold", start, p.offset()-start, "")
			continue
		}
		p.inline(line)
	}

	sort.SliceStable(p.entities, func(i, j int) bool {
		return p.entities[i].Offset < p.entities[j].Offset
	})

	return ParseResult{
		Text:     strings.TrimRight(p.out.String(), " \n"),
		Entities: p.entities,
	}
}

type parser struct {
	out      strings.Builder
	entities []tgbotapi.MessageEntity
}

func (p *parser) offset() int {
	return UTF16Len(p.out.String())
}

func (p *parser) add(kind string, offset, length int, url string) {
	if length <= 0 {
		return
	}
	p.entities = append(p.entities, tgbotapi.MessageEntity{Type: kind, Offset: offset, Length: length, URL: url})
}

// entity writes literal text wrapped in one entity.
func (p *parser) entity(kind, text, url string) {
	start := p.offset()
	p.out.WriteString(text)
	p.add(kind, start, UTF16Len(text), url)
}

// wrapped parses inner recursively and wraps the result in one entity.
func (p *parser) wrapped(kind, inner, url string) {
	start := p.offset()
	p.inline(inner)
	p.add(kind, start, p.offset()-start, url)
}

func (p *parser) inline(s string) {
	for i := 0; i < len(s); {
		rest := s[i:]
		switch {
		case rest[0] == '`':
			if end := strings.IndexByte(rest[1:], '`'); end > 0 {
				p.entity("code", rest[1:1+end], "")
				i += end + 2
				continue
			}
		case strings.HasPrefix(rest, "**") || strings.HasPrefix(rest, "__"):
			marker := rest[:2]
			if end := strings.Index(rest[2:], marker); end > 0 {
				p.wrapped("bold", rest[2:2+end], "")
				i += end + 4
				continue
			}
		case rest[0] == '*' || rest[0] == '_':
			if end, ok := italicEnd(s, i); ok {
				p.wrapped("italic", s[i+1:end], "")
				i = end + 1
				continue
			}
		case rest[0] == '[':
			if label, url, n, ok := link(rest); ok {
				p.wrapped("text_link", label, url)
				i += n
				continue
			}
		}

		_, size := utf8.DecodeRuneInString(rest)
		p.out.WriteString(rest[:size])
		i += size
	}
}

// italicEnd finds the closing marker for a single * or _ at s[i]. An
// underscore only opens and closes at word boundaries so snake_case
// identifiers stay intact.
func italicEnd(s string, i int) (int, bool) {
	marker := s[i]
	if i+1 >= len(s) || s[i+1] == ' ' || s[i+1] == marker {
		return 0, false
	}
	if marker == '_' && i > 0 && isWord(lastRune(s[:i])) {
		return 0, false
	}
	for j := i + 1; j < len(s); j++ {
		if s[j] != marker || s[j-1] == ' ' {
			continue
		}
		if j+1 < len(s) && s[j+1] == marker {
			j++
			continue
		}
		if marker == '_' && j+1 < len(s) && isWord(firstRune(s[j+1:])) {
			continue
		}
		return j, true
	}
	return 0, false
}

func link(s string) (label, url string, n int, ok bool) {
	closeLabel := strings.Index(s, "](")
	if closeLabel <= 1 || strings.Contains(s[:closeLabel], "\n") {
		return "", "", 0, false
	}
	closeURL := strings.IndexByte(s[closeLabel+2:], ')')
	if closeURL <= 0 {
		return "", "", 0, false
	}
	url = s[closeLabel+2 : closeLabel+2+closeURL]
	if strings.ContainsAny(url, " \n") {
		return "", "", 0, false
	}
	return s[1:closeLabel], url, closeLabel + 3 + closeURL, true
}

func headerText(line string) (string, bool) {
	trimmed := strings.TrimLeft(line, "#")
	level := len(line) - len(trimmed)
	if level < 1 || level > 6 || !strings.HasPrefix(trimmed, " ") {
		return "", false
	}
	return strings.TrimSpace(trimmed), true
}

func isWord(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func firstRune(s string) rune {
	r, _ := utf8.DecodeRuneInString(s)
	return r
}

func lastRune(s string) rune {
	r, _ := utf8.DecodeLastRuneInString(s)
	return r
}

// Split breaks Markdown text into chunks of at most limit UTF-16 units,
// preferring paragraph and line boundaries.
func Split(text string, limit int) []string {
	if limit <= 0 {
		limit = MaxMessageLength
	}
	var chunks []string
	for UTF16Len(text) > limit {
		cut := cutPoint(text, limit)
		chunks = append(chunks, strings.TrimRight(text[:cut], "\n "))
		text = strings.TrimLeft(text[cut:], "\n")
	}
	if strings.TrimSpace(text) != "" || len(chunks) == 0 {
		chunks = append(chunks, text)
	}
	return chunks
}

// cutPoint returns a byte index at most limit UTF-16 units into text.
func cutPoint(text string, limit int) int {
	maxByte, units := 0, 0
	for i, r := range text {
		n := 1
		if r > 0xFFFF {
			n = 2
		}
		if units+n > limit {
			break
		}
		units += n
		maxByte = i + utf8.RuneLen(r)
	}

	window := text[:maxByte]
	for _, sep := range []string{"\n\n", "\n", " "} {
		if idx := strings.LastIndex(window, sep); idx > maxByte/2 {
			return idx + len(sep)
		}
	}
	return maxByte
}

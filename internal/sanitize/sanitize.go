package sanitize

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// MaxMarkers is the number of color markers kept per formatted message.
const MaxMarkers = 5

// DefaultMarker is prepended when a formatted message carries no color at all.
const DefaultMarker = "{white}"

// Control codes understood by the chat display protocol.
const (
	CodeWhite  = "\x01"
	CodeRed    = "\x07"
	CodeBlue   = "\x0B"
	CodeGreen  = "\x04"
	CodeYellow = "\x09"
	CodePurple = "\x0E"
	CodeCyan   = "\x0C"
	CodeOrange = "\x10"
	CodePink   = "\x0F"
	CodeOlive  = "\x05"
	CodeLime   = "\x06"
)

// markers maps marker names to control codes. violet and light-blue share
// the codes of purple and blue; lightblue is the legacy spelling.
var markers = map[string]string{
	"white":      CodeWhite,
	"red":        CodeRed,
	"blue":       CodeBlue,
	"green":      CodeGreen,
	"yellow":     CodeYellow,
	"purple":     CodePurple,
	"cyan":       CodeCyan,
	"orange":     CodeOrange,
	"pink":       CodePink,
	"olive":      CodeOlive,
	"lime":       CodeLime,
	"violet":     CodePurple,
	"light-blue": CodeBlue,
	"lightblue":  CodeBlue,
}

var (
	markerRe  = regexp.MustCompile(`\{(white|red|blue|green|yellow|purple|cyan|orange|pink|olive|lime|violet|light-blue|lightblue)\}`)
	unknownRe = regexp.MustCompile(`\{[\w-]+\}`)
)

type NoticeKind string

const (
	NoticeCapExceeded   NoticeKind = "cap_exceeded"
	NoticeUnknownMarker NoticeKind = "unknown_marker"
)

// Notice is a side-channel report produced while formatting. It never
// prevents output.
type Notice struct {
	MessageID int        `json:"message_id"`
	Kind      NoticeKind `json:"kind"`
	Reason    string     `json:"reason"`
}

// Markers returns the recognized marker names in sorted order.
func Markers() []string {
	out := make([]string, 0, len(markers))
	for k := range markers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// IsMarker reports whether name (without braces) is a recognized color.
func IsMarker(name string) bool {
	_, ok := markers[name]
	return ok
}

// Format renders template with {0}=id and {1}=text into a display string.
//
// Recognized markers become " "+code, at most MaxMarkers of them survive,
// and any other {word} token is removed. Format always returns output;
// problems are reported through the returned notices.
func Format(template string, id int, text string) (string, []Notice) {
	var notices []Notice

	s := strings.NewReplacer("{0}", strconv.Itoa(id), "{1}", text).Replace(template)

	locs := markerRe.FindAllStringSubmatchIndex(s, -1)
	if len(locs) == 0 {
		s = DefaultMarker + s
		locs = markerRe.FindAllStringSubmatchIndex(s, -1)
	}
	if len(locs) > MaxMarkers {
		notices = append(notices, Notice{
			MessageID: id,
			Kind:      NoticeCapExceeded,
			Reason:    fmt.Sprintf("Message ID %d exceeded color tag limit (%d).", id, MaxMarkers),
		})
	}

	var b strings.Builder
	b.Grow(len(s))
	last := 0
	for i, loc := range locs {
		b.WriteString(s[last:loc[0]])
		if i < MaxMarkers {
			b.WriteByte(' ')
			b.WriteString(markers[s[loc[2]:loc[3]]])
		}
		last = loc[1]
	}
	b.WriteString(s[last:])
	out := b.String()

	if unknownRe.MatchString(out) {
		out = unknownRe.ReplaceAllString(out, "")
		notices = append(notices, Notice{
			MessageID: id,
			Kind:      NoticeUnknownMarker,
			Reason:    fmt.Sprintf("Message ID %d contains invalid tags.", id),
		})
	}
	return out, notices
}

// CountCodes returns how many control codes s contains.
func CountCodes(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		if isCode(s[i]) {
			n++
		}
	}
	return n
}

// Plain undoes marker rendering for transports that cannot show colors.
// It removes each space-and-control-code pair that Format writes for a
// marker. Everything else is kept as is, including runs of spaces and a
// tab, VT or FF byte that is not preceded by a space.
func Plain(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == ' ' && i+1 < len(s) && isCode(s[i+1]) {
			i++
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

const allCodes = CodeWhite + CodeRed + CodeBlue + CodeGreen + CodeYellow + CodePurple +
	CodeCyan + CodeOrange + CodePink + CodeOlive + CodeLime

func isCode(c byte) bool { return strings.IndexByte(allCodes, c) >= 0 }

package router

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	kit "versebot/internal/transport"
)

// setMyCommands limits.
const (
	menuNameMax  = 32
	menuDescMax  = 256
	menuEntryMax = 100
)

// menuName folds a route or alias into a Telegram command name: lower case
// [a-z0-9_], at most 32 bytes, starting with a letter. Runs of '-', '/',
// '_' and spaces become one underscore; other runes are dropped. It returns
// "" when nothing is left.
func menuName(s string) string {
	var b strings.Builder
	sep := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if sep && b.Len() > 0 {
				b.WriteByte('_')
			}
			sep = false
			b.WriteRune(r)
		case r == '_', r == '-', r == '/', unicode.IsSpace(r):
			sep = true
		}
	}
	name := b.String()
	if name == "" {
		return ""
	}
	if name[0] >= '0' && name[0] <= '9' {
		name = "cmd_" + name
	}
	if len(name) > menuNameMax {
		name = strings.TrimRight(name[:menuNameMax], "_")
	}
	return name
}

// routeMenuName is the single-token shortcut for a route:
// "bible language" becomes /bible_language.
func routeMenuName(route []string) (string, bool) {
	name := menuName(strings.Join(route, " "))
	return name, name != ""
}

func clipDesc(s string) string {
	for len(s) > menuDescMax {
		_, size := utf8.DecodeLastRuneInString(s)
		s = s[:len(s)-size]
	}
	return s
}

type menuEntry struct {
	cmd  kit.BotCommand
	rank int // 0 for top-level names, 1 for subcommand shortcuts
}

// menuCommands lists top-level names first, then shortcuts for
// multi-token routes. When two entries fold to the same name the better
// ranked one wins, then the shorter description.
func menuCommands(root *cmdNode, leaves []Command) []kit.BotCommand {
	picked := map[string]menuEntry{}
	offer := func(raw, desc string, ownerOnly bool, rank int) {
		name := menuName(raw)
		if name == "" {
			return
		}
		desc = strings.Join(strings.Fields(desc), " ")
		if desc == "" {
			desc = name
		}
		if ownerOnly {
			desc = "🔒 " + desc
		}
		e := menuEntry{cmd: kit.BotCommand{Command: name, Description: clipDesc(desc)}, rank: rank}
		if cur, ok := picked[name]; ok {
			if cur.rank < e.rank || (cur.rank == e.rank && len(cur.cmd.Description) <= len(e.cmd.Description)) {
				return
			}
		}
		picked[name] = e
	}

	if root != nil {
		for _, name := range root.childNames() {
			if n, _ := root.child(name); n != nil {
				offer(name, summarizeNodeDesc(n), nodeIsOwnerOnly(n), 0)
			}
		}
	}
	for _, c := range leaves {
		route := splitRoute(c.Route)
		if len(route) < 2 {
			continue
		}
		desc := c.Description
		if strings.TrimSpace(desc) == "" {
			desc = strings.Join(route, " ")
		}
		offer(strings.Join(route, " "), desc, c.Access == AccessOwnerOnly, 1)
	}

	entries := make([]menuEntry, 0, len(picked))
	for _, e := range picked {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].rank != entries[j].rank {
			return entries[i].rank < entries[j].rank
		}
		return entries[i].cmd.Command < entries[j].cmd.Command
	})
	if len(entries) > menuEntryMax {
		entries = entries[:menuEntryMax]
	}

	out := make([]kit.BotCommand, len(entries))
	for i, e := range entries {
		out[i] = e.cmd
	}
	return out
}

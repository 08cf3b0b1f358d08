package app

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"versebot/internal/broadcast"
	"versebot/internal/catalog"
	"versebot/internal/sanitize"
	"versebot/internal/storage"
	"versebot/internal/subscriber"
	"versebot/internal/transport/telegram/router"
	logx "versebot/pkg/logx"
	"versebot/pkg/tgui"
)

const auditListDefault = 10

func (a *App) commands() []router.Command {
	return []router.Command{
		{Route: "start", Description: "register this chat for verses", Handle: a.cmdStart},
		{Route: "bible", Description: "toggle verses in private mode", Usage: "/bible", Handle: a.cmdBible},
		{Route: "bible language", Description: "list or set your language", Usage: "/bible language list|<id>", Handle: a.cmdLanguage},
		{Route: "verse", Description: "send one verse now", Usage: "/verse [id]", Handle: a.cmdVerse},
		{Route: "bibleadmin", Access: router.AccessOwnerOnly, Description: "self-check report", Usage: "/bibleadmin [report|reload|start|stop|audit]", Handle: a.cmdReport},
		{Route: "bibleadmin report", Access: router.AccessOwnerOnly, Description: "self-check report", Handle: a.cmdReport},
		{Route: "bibleadmin reload", Access: router.AccessOwnerOnly, Description: "reload config and catalogs", Timeout: time.Minute, Handle: a.cmdReload},
		{Route: "bibleadmin start", Access: router.AccessOwnerOnly, Description: "start broadcasting", Handle: a.cmdStartBroadcast},
		{Route: "bibleadmin stop", Access: router.AccessOwnerOnly, Description: "stop broadcasting", Handle: a.cmdStopBroadcast},
		{Route: "bibleadmin audit", Access: router.AccessOwnerOnly, Description: "recent admin actions", Usage: "/bibleadmin audit [n]", Handle: a.cmdAudit},
	}
}

// broadcastView maps the applied config; commands answer from it even when
// the engine is stopped.
func (a *App) broadcastView() broadcast.Config {
	a.ctlMu.Lock()
	cfg := a.applied
	a.ctlMu.Unlock()
	bc, _ := mapBroadcastConfig(cfg.Broadcast, a.loader.Default())
	return bc
}

func (a *App) cmdStart(ctx context.Context, req *router.Request) error {
	a.reg.OnConnect(req.Chat.ChatID, false)
	bc := a.broadcastView()

	var b strings.Builder
	fmt.Fprintf(&b, "Welcome to 100Bible. A verse is broadcast every %s.", bc.Interval)
	if bc.Delivery == subscriber.Private {
		b.WriteString("\nSend /bible to subscribe this chat.")
	}
	b.WriteString("\nUse /bible language list to pick a language, or /verse for one now.")
	return req.Reply(ctx, b.String())
}

func (a *App) cmdBible(ctx context.Context, req *router.Request) error {
	if len(req.Args) > 0 {
		return req.Reply(ctx, "usage: /bible, /bible language list|<id>")
	}
	if a.broadcastView().Delivery != subscriber.Private {
		return req.Reply(ctx, "100Bible is in public mode; no toggle needed.")
	}
	on := a.reg.Toggle(req.Chat.ChatID)
	state := "disabled"
	if on {
		state = "enabled"
	}
	return req.Reply(ctx, "100Bible messages "+state+".")
}

func (a *App) cmdLanguage(ctx context.Context, req *router.Request) error {
	if len(req.Args) == 0 {
		return req.Reply(ctx, "usage: /bible language list|<id>")
	}
	if strings.EqualFold(req.Args[0], "list") {
		langs, err := a.loader.Languages()
		if err != nil || len(langs) == 0 {
			return req.Reply(ctx, "No language files found.")
		}
		return req.Reply(ctx, "Available languages: "+strings.Join(langs, ", "))
	}

	start := time.Now()
	want := catalog.NormalizeLanguage(req.Args[0])
	got, err := a.reg.SetLanguage(req.Chat.ChatID, want, a.loader)
	a.audit(ctx, req, "language", want, start, err)

	switch {
	case err != nil:
		req.Logger.Warn("language change failed", logx.String("language", want), logx.Err(err))
		return req.Reply(ctx, fmt.Sprintf("Error: language %s could not be loaded. Set to %s.", want, got))
	case got != want:
		return req.Reply(ctx, fmt.Sprintf("Error: language %s not found. Set to %s.", want, got))
	}
	return req.Reply(ctx, "Language set to "+got+".")
}

func (a *App) cmdVerse(ctx context.Context, req *router.Request) error {
	cat, err := a.loader.Load(a.reg.Language(req.Chat.ChatID))
	if err != nil {
		req.Logger.Warn("verse catalog unavailable", logx.Err(err))
		return req.Reply(ctx, "No verses available right now.")
	}

	var msg catalog.Message
	if len(req.Args) > 0 {
		id, err := strconv.Atoi(req.Args[0])
		if err != nil {
			return req.Reply(ctx, "usage: /verse [id]")
		}
		m, ok := cat.Lookup(id)
		if !ok {
			return req.Reply(ctx, fmt.Sprintf("Verse %d not found.", id))
		}
		msg = m
	} else {
		msg = cat.Messages[rand.IntN(len(cat.Messages))]
	}

	text, _ := sanitize.Format(cat.Prefix, msg.ID, msg.Text)
	return req.Reply(ctx, sanitize.Plain(text))
}

func (a *App) cmdReport(ctx context.Context, req *router.Request) error {
	if len(req.Args) > 0 {
		return req.Reply(ctx, "usage: /bibleadmin [report|reload|start|stop|audit]")
	}
	rep := a.Report()
	title := "✅ Self-check passed"
	if !rep.OK() {
		title = "⚠️ Self-check found problems"
	}
	return req.ReplyHTML(ctx, tgui.JoinH("\n", tgui.B(title), tgui.Pre(rep.Render())).String())
}

func (a *App) cmdReload(ctx context.Context, req *router.Request) error {
	start := time.Now()
	err := a.Reload(ctx)
	a.audit(ctx, req, "reload", a.cfgPath, start, err)
	if err != nil {
		req.Logger.Warn("reload failed", logx.Err(err))
		return req.Reply(ctx, "Error: reload failed, keeping previous state: "+err.Error())
	}
	return req.Reply(ctx, "100Bible reloaded successfully.")
}

func (a *App) cmdStartBroadcast(ctx context.Context, req *router.Request) error {
	start := time.Now()
	wasRunning := a.engine.Running()
	err := a.StartBroadcast(ctx)
	a.audit(ctx, req, "start", "", start, err)
	if err != nil {
		return req.Reply(ctx, "Error: broadcast not started: "+err.Error())
	}
	if wasRunning {
		return req.Reply(ctx, "Broadcast restarted.")
	}
	return req.Reply(ctx, "Broadcast started.")
}

func (a *App) cmdStopBroadcast(ctx context.Context, req *router.Request) error {
	start := time.Now()
	stopped := a.StopBroadcast()
	a.audit(ctx, req, "stop", "", start, nil)
	if !stopped {
		return req.Reply(ctx, "Broadcast already stopped.")
	}
	return req.Reply(ctx, "Broadcast stopped.")
}

func (a *App) cmdAudit(ctx context.Context, req *router.Request) error {
	if a.store == nil {
		return req.Reply(ctx, "Audit log unavailable: storage disabled.")
	}
	n := auditListDefault
	if len(req.Args) > 0 {
		v, err := strconv.Atoi(req.Args[0])
		if err != nil || v <= 0 {
			return req.Reply(ctx, "usage: /bibleadmin audit [n]")
		}
		n = min(v, 50)
	}
	entries, err := a.store.ListAudit(ctx, n)
	if err != nil {
		return req.Reply(ctx, "Error: "+err.Error())
	}
	if len(entries) == 0 {
		return req.Reply(ctx, "No admin actions recorded.")
	}
	return req.ReplyHTML(ctx, renderAudit(entries).String())
}

func renderAudit(entries []storage.AuditEntry) tgui.H {
	lines := []tgui.H{tgui.B("Recent admin actions:")}
	for _, e := range entries {
		status := "ok"
		if !e.OK {
			status = "failed: " + e.Error
		}
		actor := tgui.Mention(strconv.FormatInt(e.ActorID, 10), e.ActorID)
		if e.ActorUsername != "" {
			actor = tgui.Esc("@" + e.ActorUsername)
		}
		action := strings.TrimSpace(e.Action + " " + e.Target)
		line := "- " + tgui.Esc(e.At.Format(time.RFC3339)) + " " + tgui.Code(action) +
			" by " + actor + tgui.Esc(" ("+status+")")
		lines = append(lines, line)
	}
	return tgui.JoinH("\n", lines...)
}

// audit records an action; storage failures are logged, never returned.
func (a *App) audit(ctx context.Context, req *router.Request, action, target string, start time.Time, err error) {
	if a.store == nil {
		return
	}
	e := storage.AuditEntry{
		At:      time.Now(),
		ActorID: req.FromID,
		ChatID:  req.Chat.ChatID,
		Action:  action,
		Target:  target,
		OK:      err == nil,
		TookMS:  time.Since(start).Milliseconds(),
	}
	if m := req.Update.Message; m != nil {
		e.ActorUsername = m.FromUsername
	}
	if err != nil {
		e.Error = err.Error()
	}
	if aerr := a.store.AppendAudit(context.WithoutCancel(ctx), e); aerr != nil {
		req.Logger.Warn("audit append failed", logx.String("action", action), logx.Err(aerr))
	}
}

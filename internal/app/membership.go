package app

import (
	"context"

	kit "versebot/internal/transport"
	logx "versebot/pkg/logx"
)

// observe keeps the subscriber registry in step with chat membership. Any
// message registers its chat; the bot joining or leaving a chat adds or
// forgets it.
func (a *App) observe(_ context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		m := up.Message
		if m == nil || m.ChatID == 0 {
			return
		}
		// Another bot speaking in a group says nothing about the group.
		if m.FromIsBot && m.IsGroup {
			return
		}
		a.reg.OnConnect(m.ChatID, m.FromIsBot)
	case kit.UpdateJoined:
		if mc := up.Member; mc != nil {
			a.reg.OnConnect(mc.ChatID, false)
			a.log.Info("chat joined", logx.Int64("chat_id", mc.ChatID), logx.Bool("group", mc.IsGroup))
		}
	case kit.UpdateLeft:
		if mc := up.Member; mc != nil && a.reg.OnDisconnect(mc.ChatID) {
			a.log.Info("chat left", logx.Int64("chat_id", mc.ChatID), logx.Bool("group", mc.IsGroup))
		}
	}
}

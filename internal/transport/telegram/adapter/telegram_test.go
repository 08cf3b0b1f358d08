package adapter

import (
	"errors"
	"testing"

	tele "gopkg.in/telebot.v4"

	kit "versebot/internal/transport"
	logx "versebot/pkg/logx"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	for _, err := range []error{tele.ErrBlockedByUser, tele.ErrChatNotFound, tele.ErrKickedFromGroup, tele.ErrUserIsDeactivated} {
		if !errors.Is(classify(err), kit.ErrChatUnavailable) {
			t.Fatalf("%v should be classified as unavailable", err)
		}
	}
	other := errors.New("timeout")
	if got := classify(other); got != other {
		t.Fatalf("unrelated error rewritten: %v", got)
	}
}

func TestMemberKind(t *testing.T) {
	t.Parallel()

	cases := []struct {
		role tele.MemberStatus
		want kit.UpdateKind
		ok   bool
	}{
		{tele.Member, kit.UpdateJoined, true},
		{tele.Administrator, kit.UpdateJoined, true},
		{tele.Left, kit.UpdateLeft, true},
		{tele.Kicked, kit.UpdateLeft, true},
		{tele.Restricted, "", false},
	}
	for _, tc := range cases {
		got, ok := memberKind(tc.role)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("memberKind(%v)=(%v,%v), want (%v,%v)", tc.role, got, ok, tc.want, tc.ok)
		}
	}
}

func TestNewRejectsEmptyToken(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{Token: "  "}, logx.Nop()); err == nil {
		t.Fatal("expected an error for an empty token")
	}
}

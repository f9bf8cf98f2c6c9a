package chat

import (
	"strings"
	"testing"

	"chatd/pkg/types"
)

func msg(role types.Role, text string) types.Message {
	return types.Message{Role: role, Text: text}
}

func TestBuildPrompt(t *testing.T) {
	cases := []struct {
		name string
		msgs []types.Message
		want string
	}{
		{
			name: "empty history",
			msgs: nil,
			want: "Assistant:",
		},
		{
			name: "single user turn",
			msgs: []types.Message{msg(types.RoleUser, "hello")},
			want: "User: hello\nAssistant:",
		},
		{
			name: "alternating turns",
			msgs: []types.Message{
				msg(types.RoleUser, "hi"),
				msg(types.RoleAssistant, "hello!"),
				msg(types.RoleUser, "how are you"),
			},
			want: "User: hi\nAssistant: hello!\nUser: how are you\nAssistant:",
		},
		{
			name: "multiline message text kept verbatim",
			msgs: []types.Message{msg(types.RoleUser, "line one\nline two")},
			want: "User: line one\nline two\nAssistant:",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := BuildPrompt(tc.msgs); got != tc.want {
				t.Fatalf("BuildPrompt = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestBuildPromptAppendExtendsPrefix(t *testing.T) {
	history := []types.Message{
		msg(types.RoleUser, "hi"),
		msg(types.RoleAssistant, "hello!"),
	}
	before := BuildPrompt(history)
	after := BuildPrompt(append(history, msg(types.RoleUser, "more")))

	head := strings.TrimSuffix(before, "Assistant:")
	if !strings.HasPrefix(after, head) {
		t.Fatalf("appending a message rewrote history:\nbefore %q\nafter  %q", before, after)
	}
}

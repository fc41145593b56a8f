package agent

import "testing"

func TestParseOwnerCommand(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		author   string
		wantName string
		wantArg  string
		wantNil  bool
	}{
		{"push to medium", "!pushtomtm", "owner", CmdPushToMTM, "", false},
		{"push to long", "!PushToLTM", "owner", CmdPushToLTM, "", false},
		{"convo end", "!convoend now", "owner", CmdConvoEnd, "now", false},
		{"personality", "!addpersonality likes tea", "owner", CmdAddPersonality, "likes tea", false},
		{"case-changing rune in arg", "!AddPersonality İlkay likes ȺȺ", "owner", CmdAddPersonality, "İlkay likes ȺȺ", false},
		{"too short", "!conv", "owner", "conv", "", false},
		{"unknown", "!dance fast", "owner", "dance", "", false},
		{"not owner", "!pushtomtm", "someone", "", "", true},
		{"no bang", "pushtomtm", "owner", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := ParseOwnerCommand(tt.content, tt.author, "owner")
			if tt.wantNil {
				if cmd != nil {
					t.Fatalf("expected nil, got %+v", cmd)
				}
				return
			}
			if cmd == nil {
				t.Fatal("expected a command")
			}
			if cmd.Name != tt.wantName || cmd.Arg != tt.wantArg {
				t.Errorf("got name=%q arg=%q, want name=%q arg=%q", cmd.Name, cmd.Arg, tt.wantName, tt.wantArg)
			}
		})
	}
}

func TestParseOwnerCommand_NoOwnerConfigured(t *testing.T) {
	if cmd := ParseOwnerCommand("!pushtomtm", "", ""); cmd != nil {
		t.Fatalf("expected nil without an owner, got %+v", cmd)
	}
}

func TestParseIntent(t *testing.T) {
	if got := ParseIntent("!convoend", "owner", "owner"); got.Kind != IntentOwnerCommand {
		t.Errorf("owner command kind = %v", got.Kind)
	}
	if got := ParseIntent("  !END Session ", "u", "owner"); got.Kind != IntentEndSession {
		t.Errorf("end session kind = %v", got.Kind)
	}
	got := ParseIntent("please add to global memory: I live in Oslo", "u", "owner")
	if got.Kind != IntentGlobalMemory || got.Fact != "I live in Oslo" {
		t.Errorf("global memory intent = %+v", got)
	}
	if got := ParseIntent("hello", "u", "owner"); got.Kind != IntentNone {
		t.Errorf("plain message kind = %v", got.Kind)
	}
}

func TestGlobalMemoryFact(t *testing.T) {
	fact, ok := GlobalMemoryFact("I consent to add this to global memory: my dog is Rex")
	if !ok || fact != "my dog is Rex" {
		t.Errorf("consent form: fact=%q ok=%v", fact, ok)
	}
	fact, ok = GlobalMemoryFact("Add to global memory:")
	if !ok || fact != "Add to global memory:" {
		t.Errorf("empty fact should use whole content, got %q ok=%v", fact, ok)
	}
	if _, ok := GlobalMemoryFact("nothing to store"); ok {
		t.Error("expected no fact")
	}
}

func TestGlobalMemoryFact_CaseChangingRunes(t *testing.T) {
	tests := []struct {
		content string
		want    string
	}{
		// Ⱥ grows and İ shrinks when lowercased.
		{"ȺȺȺ add to global memory:", "ȺȺȺ add to global memory:"},
		{"ȺȺȺ ADD TO GLOBAL MEMORY: ȺȺ likes tea", "ȺȺ likes tea"},
		{"İİİİ add to global memory: my name is İlkay", "my name is İlkay"},
		{"İstanbul. Add to global memory:\n  I moved here", "I moved here"},
	}
	for _, tt := range tests {
		got, ok := GlobalMemoryFact(tt.content)
		if !ok || got != tt.want {
			t.Errorf("GlobalMemoryFact(%q) = %q, %v; want %q", tt.content, got, ok, tt.want)
		}
	}
}

func TestOwnerReplies(t *testing.T) {
	if got := ownerReply(&OwnerCommand{Name: CmdPushToMTM}); got != "Manually pushed Short-Term to Medium-Term memory." {
		t.Errorf("pushtomtm reply = %q", got)
	}
	if got := ownerReply(&OwnerCommand{Name: "x", Raw: "!x"}); got != "Unknown owner command: !x" {
		t.Errorf("unknown reply = %q", got)
	}
	if got := ownerErrorReply(&OwnerCommand{Name: CmdConvoEnd}); got != "Error finalizing conversation. Check logs." {
		t.Errorf("convoend error reply = %q", got)
	}
}

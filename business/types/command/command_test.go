package command_test

import (
	"testing"

	"github.com/jcpaschoal/volauth/business/types/command"
)

func TestParse(t *testing.T) {
	for _, name := range []string{"create", "remove", "list", "get", "attach", "detach"} {
		cmd, err := command.Parse(name)
		if err != nil {
			t.Fatalf("Should be able to parse %q: %s", name, err)
		}
		if cmd.String() != name {
			t.Errorf("got %q, want %q", cmd.String(), name)
		}
	}

	for _, name := range []string{"", "CREATE", "delete", "mount"} {
		if _, err := command.Parse(name); err == nil {
			t.Errorf("Should not be able to parse %q", name)
		}
	}
}

func TestIsZero(t *testing.T) {
	var cmd command.Command
	if !cmd.IsZero() {
		t.Error("zero value should report IsZero")
	}
	if command.Attach.IsZero() {
		t.Error("attach should not report IsZero")
	}
}

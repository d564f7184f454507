package wire

import "testing"

func TestCommandString(t *testing.T) {
	cases := []struct {
		cmd  Command
		want string
	}{
		{Command{Verb: VerbDATA}, "DATA"},
		{Command{Verb: VerbMAIL, Args: "FROM:<alice@example.com>"}, "MAIL FROM:<alice@example.com>"},
		{Command{Verb: VerbEHLO, Args: "localhost"}, "EHLO localhost"},
	}
	for _, c := range cases {
		if got := c.cmd.String(); got != c.want {
			t.Fatalf("got %q, want %q", got, c.want)
		}
	}
}

func TestCommandEncode(t *testing.T) {
	got := Command{Verb: VerbRCPT, Args: "TO:<bob@example.com>"}.Encode()
	want := "RCPT TO:<bob@example.com>\r\n"
	if string(got) != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestEmptyLastChunkEncode(t *testing.T) {
	if got := (EmptyLastChunk{}).Encode(); string(got) != ".\r\n" {
		t.Fatalf("got %q", got)
	}
}

func TestContentEncode(t *testing.T) {
	c := Content{Bytes: []byte("Subject: hi\r\n\r\nbody\r\n")}
	if string(c.Encode()) != string(c.Bytes) {
		t.Fatal("Content.Encode must return its bytes verbatim")
	}
}

func TestFrameInterfaceSatisfied(t *testing.T) {
	var frames = []Frame{
		Command{Verb: VerbNOOP},
		EmptyLastChunk{},
		Content{Bytes: []byte("x")},
	}
	for _, f := range frames {
		if len(f.Encode()) == 0 {
			t.Fatalf("frame %#v encoded to zero bytes", f)
		}
	}
}

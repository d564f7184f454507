package transport

import (
	"testing"
	"time"

	"github.com/hs-jenkins-bot/niosmtpclient/lalog"
	"github.com/hs-jenkins-bot/niosmtpclient/smtpsession/wire"
)

func TestChannel_ReadPumpDeliversResponse(t *testing.T) {
	clientSide, serverSide := newPipe()
	defer serverSide.Close()

	ch := New("test", clientSide, 2*time.Second, lalog.Logger{ComponentName: "test"})
	h := newRecordingHandler()
	ch.AddInboundHandler(h)
	defer ch.Close()

	go writeLine(t, serverSide, "250 OK\r\n")

	select {
	case resp := <-h.responses:
		if resp.Code != 250 || resp.Lines[0] != "OK" {
			t.Fatalf("got %+v", resp)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for response")
	}
}

func TestChannel_WriteAndFlushSendsBytes(t *testing.T) {
	clientSide, serverSide := newPipe()
	defer serverSide.Close()

	ch := New("test", clientSide, 2*time.Second, lalog.Logger{ComponentName: "test"})
	h := newRecordingHandler()
	ch.AddInboundHandler(h)
	defer ch.Close()

	readDone := make(chan string, 1)
	go func() {
		buf := make([]byte, 64)
		n, _ := serverSide.Read(buf)
		readDone <- string(buf[:n])
	}()

	if err := ch.WriteAndFlush(wire.Command{Verb: wire.VerbEHLO, Args: "localhost"}); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}

	select {
	case got := <-readDone:
		if got != "EHLO localhost\r\n" {
			t.Fatalf("got %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the write to arrive")
	}
}

func TestChannel_CloseResolvesInactiveWithoutException(t *testing.T) {
	clientSide, serverSide := newPipe()
	defer serverSide.Close()

	ch := New("test", clientSide, 2*time.Second, lalog.Logger{ComponentName: "test"})
	h := newRecordingHandler()
	ch.AddInboundHandler(h)

	ch.Close()

	select {
	case <-h.inactive:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for HandleInactive")
	}
	select {
	case err := <-h.errs:
		t.Fatalf("expected no HandleException after an explicit Close, got %v", err)
	default:
	}
	if !ch.Closed() {
		t.Fatal("expected Closed() to report true after Close")
	}
}

func TestChannel_PeerCloseIsCleanNotException(t *testing.T) {
	clientSide, serverSide := newPipe()

	ch := New("test", clientSide, 2*time.Second, lalog.Logger{ComponentName: "test"})
	h := newRecordingHandler()
	ch.AddInboundHandler(h)
	defer ch.Close()

	serverSide.Close()

	select {
	case <-h.inactive:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for HandleInactive")
	}
	select {
	case err := <-h.errs:
		t.Fatalf("expected a clean peer close (EOF) not to be reported as an exception, got %v", err)
	default:
	}
}

func TestChannel_MalformedReadReportsException(t *testing.T) {
	clientSide, serverSide := newPipe()
	defer serverSide.Close()

	ch := New("test", clientSide, 2*time.Second, lalog.Logger{ComponentName: "test"})
	h := newRecordingHandler()
	ch.AddInboundHandler(h)
	defer ch.Close()

	go writeLine(t, serverSide, "XY\r\n")

	select {
	case err := <-h.errs:
		if err == nil {
			t.Fatal("expected a non-nil decode error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for HandleException after a malformed response line")
	}
	select {
	case <-h.inactive:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for HandleInactive")
	}
}

func TestChannel_CloseIsIdempotent(t *testing.T) {
	clientSide, serverSide := newPipe()
	defer serverSide.Close()

	ch := New("test", clientSide, 2*time.Second, lalog.Logger{ComponentName: "test"})
	if err := ch.Close(); err != nil {
		t.Fatalf("unexpected error on first Close: %v", err)
	}
	if err := ch.Close(); err != nil {
		t.Fatalf("unexpected error on second Close: %v", err)
	}
}

package messaging

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"
)

func TestConsoleServiceValidateRecipient(t *testing.T) {
	c := NewConsoleService()
	got, err := c.ValidateAndCanonicalizeRecipient("  console  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "console" {
		t.Errorf("expected trimmed recipient, got %q", got)
	}
	if _, err := c.ValidateAndCanonicalizeRecipient("   "); err == nil {
		t.Error("expected error for empty recipient")
	}
}

func TestConsoleServiceSendMessage(t *testing.T) {
	var out bytes.Buffer
	c := NewConsoleService(WithConsoleIO(strings.NewReader(""), &out))
	if err := c.SendMessage(context.Background(), "console", "hello"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if out.String() != "hello\n" {
		t.Errorf("unexpected output: %q", out.String())
	}
}

func TestConsoleServiceReadsLines(t *testing.T) {
	in := strings.NewReader("menu\n\n  report  \n")
	var out bytes.Buffer
	c := NewConsoleService(WithConsoleIO(in, &out), WithConsoleUser("u1"))

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	var bodies []string
	timeout := time.After(2 * time.Second)
	for {
		select {
		case resp, ok := <-c.Responses():
			if !ok {
				if len(bodies) != 2 || bodies[0] != "menu" || bodies[1] != "report" {
					t.Errorf("unexpected bodies: %v", bodies)
				}
				return
			}
			if resp.From != "u1" {
				t.Errorf("expected sender u1, got %q", resp.From)
			}
			bodies = append(bodies, resp.Body)
		case <-timeout:
			t.Fatal("timed out waiting for responses")
		}
	}
}

func TestConsoleServiceStopClosesChannel(t *testing.T) {
	// A reader that never yields data; Stop must still close the channel.
	c := NewConsoleService(WithConsoleIO(strings.NewReader(""), &bytes.Buffer{}))
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if _, ok := <-c.Responses(); ok {
		t.Error("expected closed channel after Stop")
	}
	// Double stop is safe.
	if err := c.Stop(); err != nil {
		t.Fatalf("second Stop failed: %v", err)
	}
}

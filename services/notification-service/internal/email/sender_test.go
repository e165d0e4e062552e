package email

import (
	"strings"
	"testing"
)

func TestBuildMessage(t *testing.T) {
	msg := buildMessage("no-reply@mounasabet.local", "guest@example.com", "Event reminder", "See you soon.")

	for _, want := range []string{
		"From: no-reply@mounasabet.local\r\n",
		"To: guest@example.com\r\n",
		"Subject: Event reminder\r\n",
		"\r\n\r\nSee you soon.\r\n",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
}

func TestNewSMTPSenderDefaults(t *testing.T) {
	s := NewSMTPSender(" mailpit ", " 1025 ", "")
	if s.addr != "mailpit:1025" {
		t.Errorf("addr = %q, want mailpit:1025", s.addr)
	}
	if s.from != "no-reply@mounasabet.local" {
		t.Errorf("from = %q", s.from)
	}
}

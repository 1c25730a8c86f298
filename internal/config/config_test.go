package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CHAT_BACKEND_URL", "")
	t.Setenv("CHAT_LISTEN_ADDR", "")
	t.Setenv("CHAT_ATTACHMENT_INLINE_LIMIT", "")

	cfg := Load()
	if cfg.BackendURL != "http://127.0.0.1:8900" {
		t.Errorf("BackendURL = %q", cfg.BackendURL)
	}
	if cfg.ListenAddr != ":8910" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.AttachmentInlineLimit != 262144 {
		t.Errorf("AttachmentInlineLimit = %d", cfg.AttachmentInlineLimit)
	}
	if !cfg.ReasoningEnabled {
		t.Error("ReasoningEnabled should default to true")
	}
}

func TestLoadOverridesAndClamp(t *testing.T) {
	t.Setenv("CHAT_BACKEND_URL", "http://backend:9000")
	t.Setenv("CHAT_ATTACHMENT_INLINE_LIMIT", "1")
	t.Setenv("CHAT_BACKEND_TIMEOUT_SEC", "0")

	cfg := Load()
	if cfg.BackendURL != "http://backend:9000" {
		t.Errorf("BackendURL = %q", cfg.BackendURL)
	}
	if cfg.AttachmentInlineLimit != 1024 {
		t.Errorf("AttachmentInlineLimit = %d, want min clamp 1024", cfg.AttachmentInlineLimit)
	}
	if cfg.BackendTimeout != 1 {
		t.Errorf("BackendTimeout = %d, want min clamp 1", cfg.BackendTimeout)
	}
}

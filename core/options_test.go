package core

import (
	"context"
	"testing"
	"time"
)

func TestEnvRawConfigLoader_CoercesNestedValues(t *testing.T) {
	loader := &EnvRawConfigLoader{
		Environ: func() []string {
			return []string{
				"ORACLE_SERVICE_NAME=exchange-test",
				"ORACLE_WEBHOOK__MAX_ATTEMPTS=3",
				"ORACLE_WEBHOOK__RETRY_DELAY=15s",
				"ORACLE_CHAIN__CHAIN_IDS=137,80002",
				"ORACLE_CHAIN__ROLE_URLS__RECORDING_ORACLE=http://recording.local/webhook",
				"ORACLE_UNKNOWN__FIELD=ignored",
				"PATH=/usr/bin",
			}
		},
	}
	raw, err := loader.LoadRaw(context.Background())
	if err != nil {
		t.Fatalf("load raw: %v", err)
	}
	if raw["service_name"] != "exchange-test" {
		t.Fatalf("expected service name, got %#v", raw["service_name"])
	}
	webhook, ok := raw["webhook"].(map[string]any)
	if !ok {
		t.Fatalf("expected webhook section, got %#v", raw["webhook"])
	}
	if webhook["max_attempts"] != 3 {
		t.Fatalf("expected max attempts 3, got %#v", webhook["max_attempts"])
	}
	if webhook["retry_delay"] != 15*time.Second {
		t.Fatalf("expected retry delay 15s, got %#v", webhook["retry_delay"])
	}
	chain := raw["chain"].(map[string]any)
	ids, ok := chain["chain_ids"].([]int64)
	if !ok || len(ids) != 2 || ids[1] != 80002 {
		t.Fatalf("expected chain ids, got %#v", chain["chain_ids"])
	}
	urls := chain["role_urls"].(map[string]any)
	if urls["recording_oracle"] != "http://recording.local/webhook" {
		t.Fatalf("expected recording url, got %#v", urls)
	}
	if _, ok := raw["unknown"]; ok {
		t.Fatalf("expected unknown sections to be dropped")
	}
}

func TestEnvRawConfigLoader_RejectsMalformedValues(t *testing.T) {
	loader := &EnvRawConfigLoader{
		Environ: func() []string { return []string{"ORACLE_WEBHOOK__MAX_ATTEMPTS=many"} },
	}
	if _, err := loader.LoadRaw(context.Background()); err == nil {
		t.Fatalf("expected malformed integer to fail")
	}
}

func TestGoOptionsResolver_RuntimeOverridesLoaded(t *testing.T) {
	defaults := DefaultConfig()
	loaded := Config{Webhook: WebhookConfig{MaxAttempts: 7}, ServiceName: "loaded"}
	runtime := Config{Webhook: WebhookConfig{MaxAttempts: 2}}

	resolved, err := GoOptionsResolver{}.Resolve(defaults, loaded, runtime)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Webhook.MaxAttempts != 2 {
		t.Fatalf("expected runtime max attempts, got %d", resolved.Webhook.MaxAttempts)
	}
	if resolved.ServiceName != "loaded" {
		t.Fatalf("expected loaded service name, got %q", resolved.ServiceName)
	}
	if resolved.Webhook.SignatureHeader != "human-signature" {
		t.Fatalf("expected default signature header, got %q", resolved.Webhook.SignatureHeader)
	}
}

func TestResolveConfig_ValidatesRoles(t *testing.T) {
	provider := NewCfgxConfigProvider(StaticRawConfigLoader{Values: map[string]any{
		"chain": map[string]any{
			"role_urls": map[string]any{"fortune": "http://x"},
		},
	}})
	if _, err := ResolveConfig(context.Background(), provider, nil, Config{}); err == nil {
		t.Fatalf("expected unknown role to fail validation")
	}
}

func TestConfigHelpers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CVAT.AssignmentTimes = map[string]time.Duration{"image_boxes": time.Hour}
	if cfg.CVAT.AssignmentTime("image_boxes") != time.Hour {
		t.Fatalf("expected per job type assignment time")
	}
	if cfg.CVAT.AssignmentTime("image_points") != 300*time.Second {
		t.Fatalf("expected default assignment time")
	}
	cfg.Chain.ChainIDs = []int64{137}
	if cfg.Chain.ChainAllowed(1) || !cfg.Chain.ChainAllowed(137) {
		t.Fatalf("unexpected chain allow list result")
	}
}

package config

import "testing"

func TestDefaultValidates(t *testing.T) {
	if err := Validate(Default()); err != nil {
		t.Fatalf("Default() should validate, got %v", err)
	}
}

func TestValidateRejectsNonPowerOfTwoPageSize(t *testing.T) {
	cfg := Default()
	cfg.PageSize = 3000
	if err := Validate(cfg); err == nil {
		t.Error("expected validation error for non-power-of-two page size")
	}
}

func TestValidateRejectsUndersizedCQCapacity(t *testing.T) {
	cfg := Default()
	cfg.CQCapacity = cfg.NumContexts // less than 2*NumContexts
	if err := Validate(cfg); err == nil {
		t.Error("expected validation error for cq_capacity < 2*num_contexts")
	}
}

func TestValidateRejectsOutOfRangeNumContexts(t *testing.T) {
	cfg := Default()
	cfg.NumContexts = 4
	if err := Validate(cfg); err == nil {
		t.Error("expected validation error for num_contexts below minimum")
	}
}

func TestLoadWithoutConfigFileUsesEnvAndDefaults(t *testing.T) {
	t.Setenv("RDMARPC_NUM_CONTEXTS", "24")
	t.Setenv("RDMARPC_CQ_CAPACITY", "48")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.NumContexts != 24 {
		t.Errorf("NumContexts = %d, want 24 (from env)", cfg.NumContexts)
	}
	if cfg.PageSize != Default().PageSize {
		t.Errorf("PageSize = %d, want default %d", cfg.PageSize, Default().PageSize)
	}
}

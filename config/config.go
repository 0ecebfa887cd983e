// Package config provides RuntimeConfig, the RDMA RPC runtime's tunables
// (§6 configuration constants), loaded via viper from environment variables
// and an optional YAML file and validated with go-playground/validator,
// grounded on marmos91-dittofs's pkg/config.Load.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/behrlich/rdma-rpc/internal/constants"
)

// RuntimeConfig holds every tunable named in spec.md §6. Field names match
// the wire/arena/pool constants one-for-one so env vars are predictable:
// RDMARPC_PAGE_SIZE, RDMARPC_NUM_CONTEXTS, and so on.
type RuntimeConfig struct {
	PageSize           int           `mapstructure:"page_size" validate:"required,min=1024,max=65536"`
	NumContexts        int           `mapstructure:"num_contexts" validate:"required,min=8,max=32"`
	CQCapacity         int           `mapstructure:"cq_capacity" validate:"required"`
	ImmRequestSize     int           `mapstructure:"imm_request_size" validate:"required,min=1"`
	WorkerCount        int           `mapstructure:"worker_count" validate:"min=0"`
	RetryCount         int           `mapstructure:"retry_count" validate:"min=0"`
	RnrRetryCount      int           `mapstructure:"rnr_retry_count" validate:"min=0"`
	InitiatorDepth     int           `mapstructure:"initiator_depth" validate:"min=1"`
	ResponderResources int           `mapstructure:"responder_resources" validate:"min=1"`
	HandshakeTimeout   time.Duration `mapstructure:"handshake_timeout" validate:"required,gt=0"`
	HugePages          bool          `mapstructure:"huge_pages"`
}

// pageSizeIsPowerOfTwo enforces the arena's power-of-two page-size
// invariant (§4.2), which validator's built-in tags can't express directly.
func pageSizeIsPowerOfTwo(fl validator.FieldLevel) bool {
	v := fl.Field().Int()
	return v > 0 && v&(v-1) == 0
}

// cqCapacityCoversContexts enforces CQ_CAP >= 2*NumContexts (§6).
func cqCapacityCoversContexts(sl validator.StructLevel) {
	cfg := sl.Current().Interface().(RuntimeConfig)
	if cfg.CQCapacity < 2*cfg.NumContexts {
		sl.ReportError(cfg.CQCapacity, "CQCapacity", "CQCapacity", "cq_capacity_min", "")
	}
}

// Default returns the zero-config RuntimeConfig, mirroring the teacher's
// DefaultParams for a zero-argument constructor path.
func Default() *RuntimeConfig {
	return &RuntimeConfig{
		PageSize:           constants.DefaultPageSize,
		NumContexts:        constants.DefaultNumContexts,
		CQCapacity:         constants.DefaultCQCapacity,
		ImmRequestSize:     constants.DefaultImmRequestSize,
		WorkerCount:        constants.DefaultWorkerCount,
		RetryCount:         constants.RetryCount,
		RnrRetryCount:      constants.RnrRetryCount,
		InitiatorDepth:     constants.InitiatorDepth,
		ResponderResources: constants.ResponderResources,
		HandshakeTimeout:   constants.HandshakeIODeadline,
		HugePages:          false,
	}
}

// Load reads RuntimeConfig from environment variables prefixed RDMARPC_ and,
// if configPath is non-empty, a YAML file, layered over Default(), then
// validates the result.
func Load(configPath string) (*RuntimeConfig, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix("RDMARPC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if !os.IsNotExist(err) {
				if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
					return nil, fmt.Errorf("config: read %s: %w", configPath, err)
				}
			}
		}
	}

	var cfg RuntimeConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, d *RuntimeConfig) {
	v.SetDefault("page_size", d.PageSize)
	v.SetDefault("num_contexts", d.NumContexts)
	v.SetDefault("cq_capacity", d.CQCapacity)
	v.SetDefault("imm_request_size", d.ImmRequestSize)
	v.SetDefault("worker_count", d.WorkerCount)
	v.SetDefault("retry_count", d.RetryCount)
	v.SetDefault("rnr_retry_count", d.RnrRetryCount)
	v.SetDefault("initiator_depth", d.InitiatorDepth)
	v.SetDefault("responder_resources", d.ResponderResources)
	v.SetDefault("handshake_timeout", d.HandshakeTimeout)
	v.SetDefault("huge_pages", d.HugePages)
}

// Validate runs struct-tag and cross-field validation over cfg.
func Validate(cfg *RuntimeConfig) error {
	val := validator.New()
	if err := val.RegisterValidation("pow2", pageSizeIsPowerOfTwo); err != nil {
		return err
	}
	val.RegisterStructValidation(cqCapacityCoversContexts, RuntimeConfig{})

	if err := val.Var(cfg.PageSize, "pow2"); err != nil {
		return fmt.Errorf("page_size must be a power of two: %w", err)
	}
	return val.Struct(cfg)
}

package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ChargingPolicy controls the auto-close heuristics for stale sessions.
// The exact threshold semantics are operator policy, not protocol law,
// so the whole block is hot-reloadable.
type ChargingPolicy struct {
	// StalenessWindow closes sessions whose newest reading (or start
	// time, absent readings) is older than this.
	StalenessWindow time.Duration `mapstructure:"stalenessWindow"`
	// EnergyDeltaThresholdWh closes sessions whose trailing energy delta
	// over the last EnergySampleCount readings is below this.
	EnergyDeltaThresholdWh int64 `mapstructure:"energyDeltaThresholdWh"`
	EnergySampleCount      int   `mapstructure:"energySampleCount"`
}

func DefaultChargingPolicy() ChargingPolicy {
	return ChargingPolicy{
		StalenessWindow:        2 * time.Hour,
		EnergyDeltaThresholdWh: 10,
		EnergySampleCount:      5,
	}
}

type ChargingPolicyHolder struct {
	current atomic.Value // holds ChargingPolicy
}

// NewStaticPolicyHolder wraps a fixed policy, used by tests.
func NewStaticPolicyHolder(policy ChargingPolicy) *ChargingPolicyHolder {
	holder := &ChargingPolicyHolder{}
	holder.current.Store(policy)
	return holder
}

func NewChargingPolicyHolder() (*ChargingPolicyHolder, error) {
	v := viper.New()

	v.SetConfigName("charging")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/voltgrid/config")
	v.AddConfigPath("/etc/voltgrid")
	v.AddConfigPath(".")

	v.SetEnvPrefix("VOLTGRID")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultChargingPolicy()
		v.SetDefault("charging.stalenessWindow", defaults.StalenessWindow)
		v.SetDefault("charging.energyDeltaThresholdWh", defaults.EnergyDeltaThresholdWh)
		v.SetDefault("charging.energySampleCount", defaults.EnergySampleCount)
	}

	var policy ChargingPolicy
	if err := v.UnmarshalKey("charging", &policy); err != nil {
		return nil, err
	}
	if err := validateChargingPolicy(policy); err != nil {
		return nil, err
	}

	holder := &ChargingPolicyHolder{}
	holder.current.Store(policy)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated ChargingPolicy
		if err := v.UnmarshalKey("charging", &updated); err != nil {
			log.Printf("[charging-policy] reload failed: %v", err)
			return
		}
		if err := validateChargingPolicy(updated); err != nil {
			log.Printf("[charging-policy] invalid policy ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[charging-policy] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *ChargingPolicyHolder) Get() ChargingPolicy {
	return h.current.Load().(ChargingPolicy)
}

func validateChargingPolicy(policy ChargingPolicy) error {
	if policy.StalenessWindow <= 0 {
		return errors.New("charging.stalenessWindow must be positive")
	}
	if policy.EnergySampleCount < 2 {
		return errors.New("charging.energySampleCount must be at least 2")
	}
	if policy.EnergyDeltaThresholdWh < 0 {
		return errors.New("charging.energyDeltaThresholdWh cannot be negative")
	}
	return nil
}

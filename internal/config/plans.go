package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	TierSingle = "single"
	TierBasic  = "basic"
	TierPro    = "pro"
)

// PlanSpec describes one purchasable tier.
type PlanSpec struct {
	// AuditLimit is the per-period quota for subscription tiers.
	AuditLimit int `mapstructure:"auditLimit"`
	// Credits is the number of audits granted by a one-time purchase.
	Credits   int    `mapstructure:"credits"`
	VariantID string `mapstructure:"variantId"`
}

type PlanCatalog struct {
	Plans             map[string]PlanSpec `mapstructure:"plans"`
	DefaultPeriodDays int                 `mapstructure:"defaultPeriodDays"`
}

func DefaultPlanCatalog(ls LemonSqueezyConfig) PlanCatalog {
	return PlanCatalog{
		Plans: map[string]PlanSpec{
			TierSingle: {Credits: 1, VariantID: ls.VariantSingle},
			TierBasic:  {AuditLimit: 50, VariantID: ls.VariantBasic},
			TierPro:    {AuditLimit: 200, VariantID: ls.VariantPro},
		},
		DefaultPeriodDays: 30,
	}
}

// Limit returns the per-period audit quota for a subscription plan. Any
// plan that is not pro is metered at the basic limit.
func (c PlanCatalog) Limit(plan string) int {
	if plan == TierPro {
		return c.Plans[TierPro].AuditLimit
	}
	return c.Plans[TierBasic].AuditLimit
}

// VariantID returns the checkout variant for a tier, or "" if unknown.
func (c PlanCatalog) VariantID(tier string) string {
	spec, ok := c.Plans[tier]
	if !ok {
		return ""
	}
	return spec.VariantID
}

func (c PlanCatalog) HasTier(tier string) bool {
	_, ok := c.Plans[tier]
	return ok
}

// IsProVariant reports whether a billing variant id maps to the pro tier.
func (c PlanCatalog) IsProVariant(variantID string) bool {
	pro := strings.TrimSpace(c.Plans[TierPro].VariantID)
	return pro != "" && pro == strings.TrimSpace(variantID)
}

type PlanCatalogHolder struct {
	current atomic.Value // holds PlanCatalog
}

// NewPlanCatalogHolder loads plans.yml when present and keeps it hot
// reloaded. Variant ids fall back to the LEMONSQUEEZY_VARIANT_* env vars.
func NewPlanCatalogHolder(cfg Config) (*PlanCatalogHolder, error) {
	return newPlanCatalogHolder(cfg, "/etc/viotraix", ".")
}

func newPlanCatalogHolder(cfg Config, paths ...string) (*PlanCatalogHolder, error) {
	v := viper.New()

	v.SetConfigName("plans")
	v.SetConfigType("yml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix("VIOTRAIX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultPlanCatalog(cfg.LemonSqueezy)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}
	v.SetDefault("catalog.defaultPeriodDays", defaults.DefaultPeriodDays)

	load := func() (PlanCatalog, error) {
		var catalog PlanCatalog
		if err := v.UnmarshalKey("catalog", &catalog); err != nil {
			return PlanCatalog{}, err
		}
		catalog = mergePlanDefaults(catalog, defaults)
		if err := validatePlanCatalog(catalog); err != nil {
			return PlanCatalog{}, err
		}
		return catalog, nil
	}

	catalog, err := load()
	if err != nil {
		return nil, err
	}

	holder := &PlanCatalogHolder{}
	holder.current.Store(catalog)

	if v.ConfigFileUsed() != "" {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			updated, err := load()
			if err != nil {
				zap.L().Warn("plan catalog reload rejected", zap.String("file", e.Name), zap.Error(err))
				return
			}
			holder.current.Store(updated)
			zap.L().Info("plan catalog reloaded", zap.String("file", e.Name))
		})
	}

	return holder, nil
}

// NewStaticPlanCatalogHolder wraps a fixed catalogue.
func NewStaticPlanCatalogHolder(catalog PlanCatalog) *PlanCatalogHolder {
	holder := &PlanCatalogHolder{}
	holder.current.Store(catalog)
	return holder
}

func (h *PlanCatalogHolder) Get() PlanCatalog {
	return h.current.Load().(PlanCatalog)
}

func mergePlanDefaults(catalog, defaults PlanCatalog) PlanCatalog {
	if catalog.Plans == nil {
		catalog.Plans = map[string]PlanSpec{}
	}
	for tier, def := range defaults.Plans {
		spec, ok := catalog.Plans[tier]
		if !ok {
			catalog.Plans[tier] = def
			continue
		}
		if spec.AuditLimit == 0 {
			spec.AuditLimit = def.AuditLimit
		}
		if spec.Credits == 0 {
			spec.Credits = def.Credits
		}
		if strings.TrimSpace(spec.VariantID) == "" {
			spec.VariantID = def.VariantID
		}
		catalog.Plans[tier] = spec
	}
	if catalog.DefaultPeriodDays <= 0 {
		catalog.DefaultPeriodDays = defaults.DefaultPeriodDays
	}
	return catalog
}

func validatePlanCatalog(catalog PlanCatalog) error {
	for _, tier := range []string{TierBasic, TierPro} {
		if catalog.Plans[tier].AuditLimit <= 0 {
			return fmt.Errorf("catalog.plans.%s.auditLimit must be positive", tier)
		}
	}
	if catalog.Plans[TierSingle].Credits <= 0 {
		return errors.New("catalog.plans.single.credits must be positive")
	}
	return nil
}

package billing

import (
	"fmt"
	"os"

	"github.com/platinummonkey/docmeter/pkg/apperr"
	"github.com/platinummonkey/docmeter/pkg/config"
	"gopkg.in/yaml.v3"
)

// PlanID identifies a purchasable payment plan
type PlanID string

const (
	PlanHobby     PlanID = "hobby"
	PlanPro       PlanID = "pro"
	PlanCredits10 PlanID = "credits10"
)

// EffectKind is what paying for a plan does to the user
type EffectKind string

const (
	// EffectSubscription sets the subscription plan and status
	EffectSubscription EffectKind = "subscription"
	// EffectCredits adds a fixed number of credits
	EffectCredits EffectKind = "credits"
)

// Effect describes the result of a successful payment for a plan
type Effect struct {
	Kind   EffectKind `yaml:"kind" json:"kind"`
	Amount int        `yaml:"amount,omitempty" json:"amount,omitempty"`
}

// Plan maps a plan identifier to a processor price and an effect
type Plan struct {
	ID      PlanID `yaml:"id" json:"id"`
	PriceID string `yaml:"priceId" json:"priceId"`
	Effect  Effect `yaml:"effect" json:"effect"`
}

// CheckoutMode returns the checkout session mode for the plan
func (p Plan) CheckoutMode() string {
	if p.Effect.Kind == EffectSubscription {
		return "subscription"
	}
	return "payment"
}

// Registry is the immutable set of payment plans
type Registry struct {
	plans   map[PlanID]Plan
	byPrice map[string]Plan
	order   []PlanID
}

// DefaultPlans returns the hobby, pro and credits10 plans with price IDs from config
func DefaultPlans(cfg config.StripeConfig) []Plan {
	return []Plan{
		{ID: PlanHobby, PriceID: cfg.HobbyPriceID, Effect: Effect{Kind: EffectSubscription}},
		{ID: PlanPro, PriceID: cfg.ProPriceID, Effect: Effect{Kind: EffectSubscription}},
		{ID: PlanCredits10, PriceID: cfg.Credits10PriceID, Effect: Effect{Kind: EffectCredits, Amount: 10}},
	}
}

// NewRegistry validates plans and builds a registry
func NewRegistry(plans []Plan) (*Registry, error) {
	r := &Registry{
		plans:   make(map[PlanID]Plan, len(plans)),
		byPrice: make(map[string]Plan, len(plans)),
	}

	for _, p := range plans {
		if p.ID == "" {
			return nil, fmt.Errorf("plan id is required")
		}
		if _, exists := r.plans[p.ID]; exists {
			return nil, fmt.Errorf("duplicate plan %q", p.ID)
		}
		switch p.Effect.Kind {
		case EffectSubscription:
		case EffectCredits:
			if p.Effect.Amount <= 0 {
				return nil, fmt.Errorf("plan %q: credit amount must be positive", p.ID)
			}
		default:
			return nil, fmt.Errorf("plan %q: unknown effect kind %q", p.ID, p.Effect.Kind)
		}
		if p.PriceID != "" {
			if other, exists := r.byPrice[p.PriceID]; exists {
				return nil, fmt.Errorf("plans %q and %q share price id %q", other.ID, p.ID, p.PriceID)
			}
			r.byPrice[p.PriceID] = p
		}
		r.plans[p.ID] = p
		r.order = append(r.order, p.ID)
	}

	return r, nil
}

type plansFile struct {
	Plans []Plan `yaml:"plans"`
}

// LoadRegistry builds the registry from the plans file when configured,
// otherwise from the price IDs in config. Price IDs in the file may
// reference environment variables as ${NAME}.
func LoadRegistry(cfg config.StripeConfig) (*Registry, error) {
	if cfg.PlansFile == "" {
		return NewRegistry(DefaultPlans(cfg))
	}

	data, err := os.ReadFile(cfg.PlansFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read plans file: %w", err)
	}
	return ParseRegistry(data)
}

// ParseRegistry parses a YAML plan list
func ParseRegistry(data []byte) (*Registry, error) {
	var file plansFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse plans file: %w", err)
	}
	for i := range file.Plans {
		file.Plans[i].PriceID = os.ExpandEnv(file.Plans[i].PriceID)
	}
	return NewRegistry(file.Plans)
}

// Get returns the plan with the given id
func (r *Registry) Get(id PlanID) (Plan, bool) {
	p, ok := r.plans[id]
	return p, ok
}

// ByPriceID returns the plan sold under a processor price id
func (r *Registry) ByPriceID(priceID string) (Plan, error) {
	if priceID == "" {
		return Plan{}, apperr.Validation("No price id found")
	}
	p, ok := r.byPrice[priceID]
	if !ok {
		return Plan{}, apperr.Validation("Unknown price id: %s", priceID)
	}
	return p, nil
}

// Plans returns all plans in registration order
func (r *Registry) Plans() []Plan {
	out := make([]Plan, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.plans[id])
	}
	return out
}

package verdict

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the declarative form of a policy model plus engine tuning. It
// loads from YAML or JSON; conditions are written in the condition
// language and parsed on Apply.
type Config struct {
	Roles          []RoleConfig          `json:"roles" yaml:"roles"`
	ACLs           []ACLConfig           `json:"acls" yaml:"acls"`
	AttributeRules []AttributeRuleConfig `json:"attribute_rules" yaml:"attribute_rules"`
	ContextRules   []ContextRuleConfig   `json:"context_rules" yaml:"context_rules"`
	Engine         EngineConfig          `json:"engine" yaml:"engine"`
}

type RoleConfig struct {
	Name        string             `json:"name" yaml:"name"`
	Inherits    []string           `json:"inherits,omitempty" yaml:"inherits,omitempty"`
	Permissions []PermissionConfig `json:"permissions" yaml:"permissions"`
}

type PermissionConfig struct {
	Action   string `json:"action" yaml:"action"`
	Resource string `json:"resource" yaml:"resource"`
}

type ACLConfig struct {
	Resource string   `json:"resource" yaml:"resource"`
	Grantee  string   `json:"grantee" yaml:"grantee"`
	Actions  []string `json:"actions" yaml:"actions"`
	Effect   string   `json:"effect" yaml:"effect"`
}

type AttributeRuleConfig struct {
	ID           string `json:"id" yaml:"id"`
	Action       string `json:"action" yaml:"action"`
	ResourceType string `json:"resource_type,omitempty" yaml:"resource_type,omitempty"`
	Condition    string `json:"condition" yaml:"condition"`
}

type ContextRuleConfig struct {
	ID        string `json:"id" yaml:"id"`
	Condition string `json:"condition" yaml:"condition"`
	Reason    string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// EngineConfig carries tuning knobs; zero values keep engine defaults.
type EngineConfig struct {
	DecisionCacheTTL    int64               `json:"decision_cache_ttl_ms" yaml:"decision_cache_ttl_ms"`
	AttributeTimeout    int64               `json:"attribute_timeout_ms" yaml:"attribute_timeout_ms"`
	CombineStrategy     string              `json:"combine_strategy" yaml:"combine_strategy"`
	ActiveEvaluators    map[string][]string `json:"active_evaluators" yaml:"active_evaluators"`
	RistrettoNumCounter int64               `json:"ristretto_num_counter" yaml:"ristretto_num_counter"`
	RistrettoMaxCost    int64               `json:"ristretto_max_cost" yaml:"ristretto_max_cost"`
	RistrettoBuffer     int64               `json:"ristretto_buffer" yaml:"ristretto_buffer"`
}

// ConfigLoader parses Config documents.
type ConfigLoader struct{}

func NewConfigLoader() *ConfigLoader { return &ConfigLoader{} }

func (l *ConfigLoader) LoadYAML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *ConfigLoader) LoadJSON(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile picks the codec from the file extension; anything that is not
// .json parses as YAML.
func (l *ConfigLoader) LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.HasSuffix(path, ".json") {
		return l.LoadJSON(data)
	}
	return l.LoadYAML(data)
}

func (c *Config) ToYAML() ([]byte, error) { return yaml.Marshal(c) }

func (c *Config) ToJSON() ([]byte, error) { return json.MarshalIndent(c, "", "  ") }

// Apply installs the declared roles, ACLs and rules into the model. The
// whole document applies as one import, so readers observe a single
// version step.
func (c *Config) Apply(m *Model) error {
	export := &ModelExport{
		ACLs: make(map[string][]ACLEntry),
	}
	for _, rc := range c.Roles {
		role := &Role{Name: rc.Name, Inherits: rc.Inherits}
		for _, pc := range rc.Permissions {
			role.Permissions = append(role.Permissions, Permission{
				Action:   Action(pc.Action),
				Resource: pc.Resource,
			})
		}
		export.Roles = append(export.Roles, role)
	}
	for _, ac := range c.ACLs {
		effect, err := ParseEffect(ac.Effect)
		if err != nil {
			return fmt.Errorf("acl for %s: %w", ac.Resource, err)
		}
		actions := make([]Action, 0, len(ac.Actions))
		for _, a := range ac.Actions {
			actions = append(actions, Action(a))
		}
		export.ACLs[ac.Resource] = append(export.ACLs[ac.Resource], ACLEntry{
			Grantee: ac.Grantee,
			Actions: actions,
			Effect:  effect,
		})
	}
	for _, rc := range c.AttributeRules {
		cond, err := ParseCondition(rc.Condition)
		if err != nil {
			return fmt.Errorf("attribute rule %s: %w", rc.ID, err)
		}
		export.AttributeRules = append(export.AttributeRules, &AttributeRule{
			ID:           rc.ID,
			Action:       Action(rc.Action),
			ResourceType: rc.ResourceType,
			Condition:    cond,
		})
	}
	for _, rc := range c.ContextRules {
		cond, err := ParseCondition(rc.Condition)
		if err != nil {
			return fmt.Errorf("context rule %s: %w", rc.ID, err)
		}
		export.ContextRules = append(export.ContextRules, &ContextRule{
			ID:        rc.ID,
			Condition: cond,
			Reason:    rc.Reason,
		})
	}
	return m.Import(export)
}

// Options translates the engine section into engine options.
func (c *Config) Options() ([]EngineOption, error) {
	var opts []EngineOption
	ec := c.Engine
	if ec.DecisionCacheTTL > 0 {
		opts = append(opts, WithDecisionCacheTTL(time.Duration(ec.DecisionCacheTTL)*time.Millisecond))
	}
	if ec.AttributeTimeout > 0 {
		opts = append(opts, WithAttributeTimeout(time.Duration(ec.AttributeTimeout)*time.Millisecond))
	}
	switch ec.CombineStrategy {
	case "", "deny_overrides":
	case "allow_overrides":
		opts = append(opts, WithCombineStrategy(AllowOverrides))
	default:
		return nil, fmt.Errorf("unknown combine strategy %q", ec.CombineStrategy)
	}
	for resourceType, names := range ec.ActiveEvaluators {
		opts = append(opts, WithActiveEvaluators(resourceType, names...))
	}
	if ec.RistrettoNumCounter > 0 || ec.RistrettoMaxCost > 0 {
		cache, err := NewRistrettoDecisionCache(RistrettoCacheConfig{
			NumCounters: ec.RistrettoNumCounter,
			MaxCost:     ec.RistrettoMaxCost,
			BufferItems: ec.RistrettoBuffer,
		})
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithDecisionCache(cache))
	}
	return opts, nil
}

// ExportConfig renders the model's current contents back into a Config,
// with conditions serialized in the condition language.
func ExportConfig(m *Model) *Config {
	export := m.Export()
	cfg := &Config{}
	for _, role := range export.Roles {
		rc := RoleConfig{Name: role.Name, Inherits: role.Inherits}
		for _, p := range role.Permissions {
			rc.Permissions = append(rc.Permissions, PermissionConfig{
				Action:   string(p.Action),
				Resource: p.Resource,
			})
		}
		cfg.Roles = append(cfg.Roles, rc)
	}
	for resource, entries := range export.ACLs {
		for _, e := range entries {
			actions := make([]string, 0, len(e.Actions))
			for _, a := range e.Actions {
				actions = append(actions, string(a))
			}
			cfg.ACLs = append(cfg.ACLs, ACLConfig{
				Resource: resource,
				Grantee:  e.Grantee,
				Actions:  actions,
				Effect:   e.Effect.String(),
			})
		}
	}
	for _, r := range export.AttributeRules {
		cfg.AttributeRules = append(cfg.AttributeRules, AttributeRuleConfig{
			ID:           r.ID,
			Action:       string(r.Action),
			ResourceType: r.ResourceType,
			Condition:    r.Condition.String(),
		})
	}
	for _, r := range export.ContextRules {
		cfg.ContextRules = append(cfg.ContextRules, ContextRuleConfig{
			ID:        r.ID,
			Condition: r.Condition.String(),
			Reason:    r.Reason,
		})
	}
	return cfg
}

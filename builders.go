package verdict

// Builders provide a fluent API for assembling roles, ACL entries and rules.

// RoleBuilder builds a Role.
type RoleBuilder struct {
	r *Role
}

func NewRoleBuilder(name string) *RoleBuilder {
	return &RoleBuilder{r: &Role{Name: name, Permissions: []Permission{}}}
}

func (b *RoleBuilder) Permission(action Action, resource string) *RoleBuilder {
	b.r.Permissions = append(b.r.Permissions, Permission{Action: action, Resource: resource})
	return b
}
func (b *RoleBuilder) Inherits(names ...string) *RoleBuilder {
	b.r.Inherits = append(b.r.Inherits, names...)
	return b
}
func (b *RoleBuilder) Build() *Role { return b.r }

// ACLEntryBuilder builds one ACL entry for a resource.
type ACLEntryBuilder struct {
	e ACLEntry
}

func NewACLEntryBuilder(grantee string) *ACLEntryBuilder {
	return &ACLEntryBuilder{e: ACLEntry{Grantee: grantee, Effect: Allow}}
}

func (b *ACLEntryBuilder) Actions(a ...Action) *ACLEntryBuilder {
	b.e.Actions = append(b.e.Actions, a...)
	return b
}
func (b *ACLEntryBuilder) Allow() *ACLEntryBuilder { b.e.Effect = Allow; return b }
func (b *ACLEntryBuilder) Deny() *ACLEntryBuilder  { b.e.Effect = Deny; return b }
func (b *ACLEntryBuilder) Build() ACLEntry         { return b.e }

// AttributeRuleBuilder builds an attribute rule. When accepts either a
// parsed Expr or a condition string.
type AttributeRuleBuilder struct {
	r   *AttributeRule
	err error
}

func NewAttributeRuleBuilder(id string) *AttributeRuleBuilder {
	return &AttributeRuleBuilder{r: &AttributeRule{ID: id}}
}

func (b *AttributeRuleBuilder) Action(a Action) *AttributeRuleBuilder {
	b.r.Action = a
	return b
}
func (b *AttributeRuleBuilder) ResourceType(t string) *AttributeRuleBuilder {
	b.r.ResourceType = t
	return b
}
func (b *AttributeRuleBuilder) When(cond Expr) *AttributeRuleBuilder {
	b.r.Condition = cond
	return b
}
func (b *AttributeRuleBuilder) WhenString(cond string) *AttributeRuleBuilder {
	expr, err := ParseCondition(cond)
	if err != nil {
		b.err = err
		return b
	}
	b.r.Condition = expr
	return b
}
func (b *AttributeRuleBuilder) Build() (*AttributeRule, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.r.Condition == nil {
		b.r.Condition = &TrueExpr{}
	}
	return b.r, nil
}

// ContextRuleBuilder builds a context rule.
type ContextRuleBuilder struct {
	r   *ContextRule
	err error
}

func NewContextRuleBuilder(id string) *ContextRuleBuilder {
	return &ContextRuleBuilder{r: &ContextRule{ID: id}}
}

func (b *ContextRuleBuilder) When(cond Expr) *ContextRuleBuilder {
	b.r.Condition = cond
	return b
}
func (b *ContextRuleBuilder) WhenString(cond string) *ContextRuleBuilder {
	expr, err := ParseCondition(cond)
	if err != nil {
		b.err = err
		return b
	}
	b.r.Condition = expr
	return b
}
func (b *ContextRuleBuilder) Reason(reason string) *ContextRuleBuilder {
	b.r.Reason = reason
	return b
}
func (b *ContextRuleBuilder) Build() (*ContextRule, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.r.Condition == nil {
		b.r.Condition = &TrueExpr{}
	}
	return b.r, nil
}

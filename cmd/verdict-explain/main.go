// verdict-explain loads a policy document, evaluates one request against
// it and prints the decision with its full evaluator trace.
package main

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/oarkflow/date"
	"gopkg.in/yaml.v3"

	"github.com/oarkflow/verdict"
	"github.com/oarkflow/verdict/logger"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	switch os.Args[1] {
	case "explain":
		handleExplain()
	case "validate":
		handleValidate()
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("verdict-explain - decision explainer")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  verdict-explain explain <policy.yaml> <request.yaml>  - Evaluate one request and print the trace")
	fmt.Println("  verdict-explain validate <policy.yaml>                - Parse and apply the policy document")
}

// requestDoc is the on-disk form of one authorization question.
type requestDoc struct {
	Subject struct {
		ID        string         `yaml:"id"`
		Roles     []string       `yaml:"roles"`
		Groups    []string       `yaml:"groups"`
		Clearance string         `yaml:"clearance"`
		Attrs     map[string]any `yaml:"attrs"`
	} `yaml:"subject"`
	Resource struct {
		ID      string         `yaml:"id"`
		Type    string         `yaml:"type"`
		OwnerID string         `yaml:"owner_id"`
		Label   string         `yaml:"label"`
		Attrs   map[string]any `yaml:"attrs"`
	} `yaml:"resource"`
	Action string `yaml:"action"`
	Env    struct {
		Time     string           `yaml:"time"`
		IP       string           `yaml:"ip"`
		Counters map[string]int64 `yaml:"counters"`
	} `yaml:"env"`
}

func handleExplain() {
	if len(os.Args) < 4 {
		printUsage()
		os.Exit(1)
	}
	model, err := loadModel(os.Args[2])
	if err != nil {
		fatal(err)
	}
	data, err := os.ReadFile(os.Args[3])
	if err != nil {
		fatal(err)
	}
	var doc requestDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		fatal(fmt.Errorf("parse request: %w", err))
	}

	sub := &verdict.Subject{
		ID:     doc.Subject.ID,
		Roles:  doc.Subject.Roles,
		Groups: doc.Subject.Groups,
		Attrs:  doc.Subject.Attrs,
	}
	if doc.Subject.Clearance != "" {
		l, err := verdict.ParseLabel(doc.Subject.Clearance)
		if err != nil {
			fatal(err)
		}
		sub.Clearance = l
	}
	res := &verdict.Resource{
		ID:      doc.Resource.ID,
		Type:    doc.Resource.Type,
		OwnerID: doc.Resource.OwnerID,
		Attrs:   doc.Resource.Attrs,
	}
	if doc.Resource.Label != "" {
		l, err := verdict.ParseLabel(doc.Resource.Label)
		if err != nil {
			fatal(err)
		}
		res.Label = l
	}
	env := &verdict.Environment{Counters: doc.Env.Counters}
	if doc.Env.Time != "" {
		t, err := date.Parse(doc.Env.Time)
		if err != nil {
			fatal(fmt.Errorf("parse env time: %w", err))
		}
		env.Time = t
	}
	if doc.Env.IP != "" {
		env.IP = net.ParseIP(doc.Env.IP)
	}

	engine, err := verdict.NewEngine(model, verdict.WithLogger(logger.NewNullLogger()))
	if err != nil {
		fatal(err)
	}
	defer engine.Close()

	d := engine.Explain(context.Background(), sub, verdict.Action(doc.Action), res, env)
	if d.Allowed {
		fmt.Printf("ALLOW  %s %s %s\n", sub.ID, doc.Action, res.ID)
	} else {
		fmt.Printf("DENY   %s %s %s\n", sub.ID, doc.Action, res.ID)
	}
	fmt.Printf("reason: %s\n", d.Reason)
	if d.MatchedBy != "" {
		fmt.Printf("matched by: %s\n", d.MatchedBy)
	}
	if len(d.Evaluators) > 0 {
		fmt.Printf("evaluators: %v\n", d.Evaluators)
	}
	fmt.Println("trace:")
	for _, line := range d.Trace {
		fmt.Printf("  %s\n", line)
	}
	if !d.Allowed {
		os.Exit(2)
	}
}

func handleValidate() {
	if len(os.Args) < 3 {
		printUsage()
		os.Exit(1)
	}
	model, err := loadModel(os.Args[2])
	if err != nil {
		fatal(err)
	}
	export := model.Export()
	fmt.Printf("OK: %d roles, %d resources with ACLs, %d attribute rules, %d context rules\n",
		len(export.Roles), len(export.ACLs), len(export.AttributeRules), len(export.ContextRules))
}

func loadModel(path string) (*verdict.Model, error) {
	cfg, err := verdict.NewConfigLoader().LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	model := verdict.NewModel()
	if err := cfg.Apply(model); err != nil {
		return nil, fmt.Errorf("apply %s: %w", path, err)
	}
	return model, nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}

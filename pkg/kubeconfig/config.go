// Package kubeconfig resolves the cluster connection from kubeconfig files.
package kubeconfig

import (
	"fmt"
	"sort"

	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// Target is a resolved cluster connection.
type Target struct {
	Config    *rest.Config
	Context   string
	Namespace string
}

// Context represents a Kubernetes context.
type Context struct {
	Name      string
	Cluster   string
	Namespace string
	User      string
	Current   bool
}

func clientConfig(path, context, namespace string) clientcmd.ClientConfig {
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if path != "" {
		rules.ExplicitPath = path
	}
	overrides := &clientcmd.ConfigOverrides{CurrentContext: context}
	if namespace != "" {
		overrides.Context.Namespace = namespace
	}
	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides)
}

// Load resolves the REST config for context (the current context when
// empty) from the kubeconfig at path (the default loading rules when
// empty). The namespace is namespace when set, else the context namespace,
// else "default".
func Load(path, context, namespace string) (*Target, error) {
	cc := clientConfig(path, context, namespace)
	raw, err := cc.RawConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load kubeconfig: %w", err)
	}
	cfg, err := cc.ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to create client config: %w", err)
	}
	ns, _, err := cc.Namespace()
	if err != nil {
		return nil, fmt.Errorf("failed to determine namespace: %w", err)
	}
	name := context
	if name == "" {
		name = raw.CurrentContext
	}
	return &Target{Config: cfg, Context: name, Namespace: ns}, nil
}

// Contexts lists the contexts of the kubeconfig at path, sorted by name.
func Contexts(path string) ([]Context, error) {
	raw, err := clientConfig(path, "", "").RawConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load kubeconfig: %w", err)
	}
	out := make([]Context, 0, len(raw.Contexts))
	for name, c := range raw.Contexts {
		ns := c.Namespace
		if ns == "" {
			ns = "default"
		}
		out = append(out, Context{
			Name:      name,
			Cluster:   c.Cluster,
			Namespace: ns,
			User:      c.AuthInfo,
			Current:   name == raw.CurrentContext,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Package kubernetes delivers certificate material into Kubernetes Secrets
// and restarts workloads so they pick it up.
//
// Destinations have the form "[namespace/]secret/key". Actions have the
// form "restart [namespace/]<deployment|statefulset|daemonset>/<name>".
package kubernetes

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/validation"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"sigs.k8s.io/controller-runtime/pkg/client/config"

	qerrors "github.com/systmms/quickmanage/internal/errors"
	"github.com/systmms/quickmanage/internal/hosts"
	"github.com/systmms/quickmanage/internal/logging"
	"github.com/systmms/quickmanage/pkg/builder"
)

// Type is the discriminator kubernetes clients register under
const Type = "kubernetes"

const (
	managedByLabel      = "app.kubernetes.io/managed-by"
	managedByValue      = "quick-manage"
	restartedAnnotation = "kubectl.kubernetes.io/restartedAt"
)

// Config configures a kubernetes client
type Config struct {
	// Namespace is used when a destination or action names none
	Namespace string `mapstructure:"namespace"`
	// Kubeconfig is an explicit kubeconfig path. Without it the usual
	// discovery applies: KUBECONFIG, ~/.kube/config, then in-cluster.
	Kubeconfig string `mapstructure:"kubeconfig"`
	Context    string `mapstructure:"context"`
}

// Client writes Secret keys and patches workloads in one cluster
type Client struct {
	name      string
	clientset kubernetes.Interface
	namespace string
	logger    *logging.Logger
	now       func() time.Time
}

// New returns a constructor for kubernetes clients. A nil clientset is
// built from the record's kubeconfig settings.
func New(clientset kubernetes.Interface) builder.Constructor[Config, hosts.Client] {
	return func(ctx context.Context, name string, cfg Config, deps builder.Deps) (hosts.Client, error) {
		cs := clientset
		if cs == nil {
			restConfig, err := restConfig(cfg)
			if err != nil {
				return nil, qerrors.ConfigError{
					Field:      "kubeconfig",
					Value:      cfg.Kubeconfig,
					Message:    "cannot load Kubernetes configuration",
					Suggestion: "Set kubeconfig on the client or export KUBECONFIG",
					Err:        err,
				}
			}
			cs, err = kubernetes.NewForConfig(restConfig)
			if err != nil {
				return nil, fmt.Errorf("failed to create Kubernetes client: %w", err)
			}
		}

		namespace := cfg.Namespace
		if namespace == "" {
			namespace = metav1.NamespaceDefault
		}
		return &Client{
			name:      name,
			clientset: cs,
			namespace: namespace,
			logger:    deps.Log(),
			now:       time.Now,
		}, nil
	}
}

func restConfig(cfg Config) (*rest.Config, error) {
	if cfg.Kubeconfig == "" {
		return config.GetConfigWithContext(cfg.Context)
	}
	rules := &clientcmd.ClientConfigLoadingRules{ExplicitPath: cfg.Kubeconfig}
	overrides := &clientcmd.ConfigOverrides{CurrentContext: cfg.Context}
	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides).ClientConfig()
}

// Register adds the kubernetes client type to r
func Register(r *builder.Registry[hosts.Client], clientset kubernetes.Interface) {
	builder.Register(r, Type, New(clientset))
}

// splitNamespaced splits "[namespace/]rest..." where rest has want segments
func (c *Client) splitNamespaced(field, value string, want int) (string, []string, error) {
	parts := strings.Split(value, "/")
	switch len(parts) {
	case want:
		return c.namespace, parts, nil
	case want + 1:
		return parts[0], parts[1:], nil
	default:
		return "", nil, qerrors.ValidationError{Field: field, Value: value, Message: "unexpected number of '/' separated parts"}
	}
}

func (c *Client) PutData(ctx context.Context, destination string, data []byte) error {
	namespace, parts, err := c.splitNamespaced("destination", destination, 2)
	if err != nil {
		return err
	}
	name, key := parts[0], parts[1]
	if errs := validation.IsDNS1123Subdomain(name); len(errs) > 0 {
		return qerrors.ValidationError{Field: "destination", Value: destination, Message: strings.Join(errs, "; ")}
	}
	if errs := validation.IsConfigMapKey(key); len(errs) > 0 {
		return qerrors.ValidationError{Field: "destination", Value: destination, Message: strings.Join(errs, "; ")}
	}

	secrets := c.clientset.CoreV1().Secrets(namespace)
	target := namespace + "/" + name

	secret, err := secrets.Get(ctx, name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		c.logger.Debug("Creating secret %s", target)
		_, err = secrets.Create(ctx, &corev1.Secret{
			ObjectMeta: metav1.ObjectMeta{
				Name:      name,
				Namespace: namespace,
				Labels:    map[string]string{managedByLabel: managedByValue},
			},
			Type: corev1.SecretTypeOpaque,
			Data: map[string][]byte{key: append([]byte(nil), data...)},
		}, metav1.CreateOptions{})
		if err != nil {
			return qerrors.ConnectivityError{Op: "create secret", Target: target, Err: err}
		}
		return nil
	}
	if err != nil {
		return qerrors.ConnectivityError{Op: "get secret", Target: target, Err: err}
	}

	if secret.Data == nil {
		secret.Data = map[string][]byte{}
	}
	secret.Data[key] = append([]byte(nil), data...)
	c.logger.Debug("Updating key %s of secret %s", key, target)
	if _, err := secrets.Update(ctx, secret, metav1.UpdateOptions{}); err != nil {
		return qerrors.ConnectivityError{Op: "update secret", Target: target, Err: err}
	}
	return nil
}

func (c *Client) Action(ctx context.Context, command string) error {
	fields := strings.Fields(command)
	if len(fields) != 2 || fields[0] != "restart" {
		return qerrors.ValidationError{
			Field:   "action",
			Value:   command,
			Message: "expected 'restart [namespace/]<kind>/<name>'",
		}
	}
	namespace, parts, err := c.splitNamespaced("action", fields[1], 2)
	if err != nil {
		return err
	}
	return c.restart(ctx, namespace, parts[0], parts[1])
}

func (c *Client) restart(ctx context.Context, namespace, kind, name string) error {
	patch, err := json.Marshal(map[string]any{
		"spec": map[string]any{
			"template": map[string]any{
				"metadata": map[string]any{
					"annotations": map[string]string{
						restartedAnnotation: c.now().UTC().Format(time.RFC3339),
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to encode restart patch: %w", err)
	}

	apps := c.clientset.AppsV1()
	opts := metav1.PatchOptions{}
	switch kind {
	case "deployment", "deploy":
		_, err = apps.Deployments(namespace).Patch(ctx, name, types.StrategicMergePatchType, patch, opts)
	case "statefulset", "sts":
		_, err = apps.StatefulSets(namespace).Patch(ctx, name, types.StrategicMergePatchType, patch, opts)
	case "daemonset", "ds":
		_, err = apps.DaemonSets(namespace).Patch(ctx, name, types.StrategicMergePatchType, patch, opts)
	default:
		return qerrors.ValidationError{Field: "action", Value: kind, Message: "can only restart deployments, statefulsets and daemonsets"}
	}

	target := fmt.Sprintf("%s/%s/%s", namespace, kind, name)
	if apierrors.IsNotFound(err) {
		return qerrors.NotFound(kind, namespace+"/"+name, "cluster")
	}
	if err != nil {
		return qerrors.ConnectivityError{Op: "restart", Target: target, Err: err}
	}
	c.logger.Debug("Restarted %s", target)
	return nil
}

func (c *Client) Close() error {
	return nil
}

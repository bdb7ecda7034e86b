package flags

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/retry"
)

// ConfigMapStore keeps flags as data entries of one ConfigMap, so every
// replica of a deployment sees the same state.
type ConfigMapStore struct {
	client    kubernetes.Interface
	namespace string
	name      string
}

func NewConfigMapStore(client kubernetes.Interface, namespace, name string) *ConfigMapStore {
	return &ConfigMapStore{client: client, namespace: namespace, name: name}
}

// NewKubernetesClient uses the in-cluster config and falls back to the
// given kubeconfig path.
func NewKubernetesClient(kubeconfig string) (kubernetes.Interface, error) {
	cfg, err := rest.InClusterConfig()
	if err != nil {
		cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("flags: kubernetes config: %w", err)
		}
	}
	return kubernetes.NewForConfig(cfg)
}

func (s *ConfigMapStore) Get(ctx context.Context, name string) (string, bool, error) {
	cm, err := s.client.CoreV1().ConfigMaps(s.namespace).Get(ctx, s.name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("flags: get %s: %w", name, err)
	}
	v, ok := cm.Data[name]
	return v, ok, nil
}

// retryable covers both races on the shared ConfigMap: a stale update and
// a concurrent first create.
func retryable(err error) bool {
	return apierrors.IsConflict(err) || apierrors.IsAlreadyExists(err)
}

func (s *ConfigMapStore) Set(ctx context.Context, name, value string) error {
	err := retry.OnError(retry.DefaultRetry, retryable, func() error {
		cms := s.client.CoreV1().ConfigMaps(s.namespace)
		cm, err := cms.Get(ctx, s.name, metav1.GetOptions{})
		if apierrors.IsNotFound(err) {
			_, err = cms.Create(ctx, &corev1.ConfigMap{
				ObjectMeta: metav1.ObjectMeta{Name: s.name, Namespace: s.namespace},
				Data:       map[string]string{name: value},
			}, metav1.CreateOptions{})
			return err
		}
		if err != nil {
			return err
		}
		if cm.Data == nil {
			cm.Data = map[string]string{}
		}
		cm.Data[name] = value
		_, err = cms.Update(ctx, cm, metav1.UpdateOptions{})
		return err
	})
	if err != nil {
		return fmt.Errorf("flags: set %s: %w", name, err)
	}
	return nil
}

func (s *ConfigMapStore) Delete(ctx context.Context, name string) (bool, error) {
	var existed bool
	err := retry.RetryOnConflict(retry.DefaultRetry, func() error {
		cms := s.client.CoreV1().ConfigMaps(s.namespace)
		cm, err := cms.Get(ctx, s.name, metav1.GetOptions{})
		if apierrors.IsNotFound(err) {
			existed = false
			return nil
		}
		if err != nil {
			return err
		}
		if _, existed = cm.Data[name]; !existed {
			return nil
		}
		delete(cm.Data, name)
		_, err = cms.Update(ctx, cm, metav1.UpdateOptions{})
		return err
	})
	if err != nil {
		return false, fmt.Errorf("flags: delete %s: %w", name, err)
	}
	return existed, nil
}

package app

import (
	"fmt"

	"github.com/tqthu/web3-thu-duc/business/wallet/domain"
	"github.com/tqthu/web3-thu-duc/internal/apperror"
)

// Registry is the fixed name -> connector mapping.
type Registry struct {
	descriptors map[string]Descriptor
	names       []string
}

// NewRegistry builds a registry. Duplicate or empty names panic: the set is
// fixed at configuration time.
func NewRegistry(descriptors ...Descriptor) *Registry {
	r := &Registry{descriptors: make(map[string]Descriptor, len(descriptors))}
	for _, d := range descriptors {
		if d.Name == "" || d.Connector == nil {
			panic("registry: descriptor needs a name and a connector")
		}
		if _, dup := r.descriptors[d.Name]; dup {
			panic(fmt.Sprintf("registry: duplicate connector %q", d.Name))
		}
		r.descriptors[d.Name] = d
		r.names = append(r.names, d.Name)
	}
	return r
}

// Lookup returns the descriptor registered under name.
func (r *Registry) Lookup(name string) (Descriptor, error) {
	d, ok := r.descriptors[name]
	if !ok {
		return Descriptor{}, apperror.New(apperror.CodeUnknownConnector,
			apperror.WithCause(domain.ErrUnknownConnector),
			apperror.WithContext(name))
	}
	return d, nil
}

// Names returns connector names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

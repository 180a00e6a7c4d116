package provider

import (
	"errors"
	"slices"

	"github.com/vibast-solutions/ms-go-donations/app/entity"
)

var ErrProviderNotSupported = errors.New("provider is not supported")

type Registry struct {
	providers map[entity.Provider]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	items := make(map[entity.Provider]Provider, len(providers))
	for _, p := range providers {
		if p == nil {
			continue
		}
		items[p.Code()] = p
	}
	return &Registry{providers: items}
}

func (r *Registry) Get(code entity.Provider) (Provider, error) {
	provider, ok := r.providers[code]
	if !ok {
		return nil, ErrProviderNotSupported
	}
	return provider, nil
}

func (r *Registry) Codes() []entity.Provider {
	codes := make([]entity.Provider, 0, len(r.providers))
	for code := range r.providers {
		codes = append(codes, code)
	}
	slices.Sort(codes)
	return codes
}

package services

import (
	"fmt"
	"sort"
	"sync"

	"gomarket_pricewatch/internal/core/models"
	"gomarket_pricewatch/pkg/logger"
)

// Registry хранит адаптеры по ключу источника. Заполняется при старте.
type Registry struct {
	adapters map[models.Source]SourceAdapter
	log      logger.Logger
	mu       sync.RWMutex
}

func NewRegistry(log logger.Logger) *Registry {
	if log == nil {
		log = logger.Discard()
	}
	return &Registry{
		adapters: make(map[models.Source]SourceAdapter),
		log:      log,
	}
}

func (r *Registry) Register(adapter SourceAdapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if adapter == nil {
		err := fmt.Errorf("adapter is nil")
		r.log.Error("error registering adapter: %v", err)
		return err
	}
	source := adapter.Source()
	if err := validateSource(source, r.adapters); err != nil {
		r.log.Error("error validating adapter source: %v", err)
		return err
	}

	r.adapters[source] = adapter
	r.log.Log("successfully registered adapter: source=%s", source)
	return nil
}

func (r *Registry) Get(source models.Source) (SourceAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[source]
	if !ok {
		return nil, fmt.Errorf("adapter for source '%s' not found", source)
	}
	return adapter, nil
}

func (r *Registry) Has(source models.Source) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.adapters[source]
	return ok
}

// Sources returns registered sources in a stable order.
func (r *Registry) Sources() []models.Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Source, 0, len(r.adapters))
	for s := range r.adapters {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func validateSource(source models.Source, existing map[models.Source]SourceAdapter) error {
	if source == "" {
		return fmt.Errorf("adapter source cannot be empty")
	}
	if !source.Valid() {
		return fmt.Errorf("unknown source '%s'", source)
	}
	if _, ok := existing[source]; ok {
		return fmt.Errorf("adapter for source '%s' already exists", source)
	}
	return nil
}

package types

import "sort"

// Well-known export keys. Evaluators always set ExportURL; ExportSource
// holds the raw module bytes when fetched over the network and
// ExportDefault the decoded value when the module is a JSON document.
const (
	ExportURL         = "url"
	ExportSource      = "source"
	ExportContentType = "contentType"
	ExportDefault     = "default"
	ExportHydrated    = "hydrated"
)

// Exports is an opaque handle over a module's exported bindings. Loaders
// hand out the same pointer to every caller of one module instance.
type Exports struct {
	values map[string]any
}

func NewExports(values map[string]any) *Exports {
	copied := make(map[string]any, len(values))
	for key, value := range values {
		copied[key] = value
	}
	return &Exports{values: copied}
}

func (e *Exports) Get(key string) (any, bool) {
	if e == nil {
		return nil, false
	}
	value, ok := e.values[key]
	return value, ok
}

func (e *Exports) String(key string) string {
	value, _ := e.Get(key)
	text, _ := value.(string)
	return text
}

func (e *Exports) Bytes(key string) []byte {
	value, _ := e.Get(key)
	data, _ := value.([]byte)
	return data
}

func (e *Exports) Keys() []string {
	if e == nil {
		return nil
	}
	keys := make([]string, 0, len(e.values))
	for key := range e.values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

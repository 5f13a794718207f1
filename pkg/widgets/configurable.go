package widgets

// Configurable is a generic widget whose behaviour is driven by settings.
// Catalog-defined widget types materialize as Configurable instances.
type Configurable struct {
	Type     string         `json:"-" yaml:"-"`
	Kind     string         `json:"-" yaml:"-"`
	Settings map[string]any `json:"settings" yaml:"settings"`
}

// NewConfigurable returns a Configurable whose settings are a copy of defaults.
func NewConfigurable(typeID, kind string, defaults map[string]any) *Configurable {
	settings := make(map[string]any, len(defaults))
	for k, v := range defaults {
		settings[k] = v
	}
	return &Configurable{Type: typeID, Kind: kind, Settings: settings}
}

// Set stores a setting.
func (c *Configurable) Set(key string, v any) {
	if c.Settings == nil {
		c.Settings = map[string]any{}
	}
	c.Settings[key] = v
}

// Get returns a setting.
func (c *Configurable) Get(key string) (any, bool) {
	v, ok := c.Settings[key]
	return v, ok
}

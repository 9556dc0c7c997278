package cfg

// StaticLoader serves a fixed configuration built in code, with defaults
// applied.
type StaticLoader struct {
	config Config
}

func NewStaticLoader(config Config) (*StaticLoader, error) {
	return &StaticLoader{config: config}, nil
}

func (sl *StaticLoader) Load() (*Config, error) {
	config := sl.config
	config.ApplyDefaults()
	return &config, nil
}

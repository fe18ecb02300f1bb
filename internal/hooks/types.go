package hooks

// Config is the top-level configuration for hooks loaded from .taskr.hooks.yml.
type Config struct {
	Version int         `yaml:"version"`
	Hooks   HooksConfig `yaml:"hooks"`
}

// HooksConfig contains all hook configurations.
type HooksConfig struct {
	PreExecute []*HookConfig `yaml:"pre_execute"`
	PostRun    []*HookConfig `yaml:"post_run"`
}

// HookConfig defines a single hook's configuration.
type HookConfig struct {
	Command    string `yaml:"command"`
	Timeout    int    `yaml:"timeout"`     // seconds, default 30
	PipeOutput bool   `yaml:"pipe_output"` // feed output to the model
}

// DefaultTimeout is the default timeout for hook execution in seconds.
const DefaultTimeout = 30

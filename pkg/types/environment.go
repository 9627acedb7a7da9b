package types

import "fmt"

// Environment is a discriminated tag selecting the workspace retention
// policy a service runs under and whether it runs the registration
// protocol. The backend hostname, bucket name and database name do not
// depend on the tag; they come from EnvConfig.
type Environment string

const (
	Develop    Environment = "develop"
	Testing    Environment = "testing"
	Production Environment = "production"
)

// ParseEnvironment validates s against the known environments.
func ParseEnvironment(s string) (Environment, error) {
	switch Environment(s) {
	case Develop, Testing, Production:
		return Environment(s), nil
	default:
		return "", fmt.Errorf("unknown environment '%s'", s)
	}
}

// EnvConfig holds per-deployment settings; the same BUILDFLEET_* variables
// are read whatever the Environment tag is. Unlike the rest of Config, these are not read from the JSON config file; they're resolved
// once at startup from BUILDFLEET_* environment variables (see pkg/config).
type EnvConfig struct {
	BackendHost string `env:"BACKEND_HOST"`
	BucketName  string `env:"BUCKET_NAME"`
	DBName      string `env:"DB_NAME"`
}

// RetainWorkspaces reports whether job workspaces should survive a
// successful Notifier upload. Only Develop preserves them; Testing and
// Production always purge.
func (e Environment) RetainWorkspaces() bool {
	return e == Develop
}

// SkipRegistration reports whether the service-lifecycle registration
// protocol (spec.md §4.1) should be skipped.
func (e Environment) SkipRegistration() bool {
	return e == Develop
}

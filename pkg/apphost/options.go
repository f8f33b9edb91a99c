package apphost

// Option configures how a resource is wired into the application
type Option func(*annotations)

type annotations struct {
	waitFor    []Resource
	references []Resource
	http       bool
	port       int
	external   bool
	env        map[string]string
}

// WaitFor delays the start of the resource until dep reports healthy
func WaitFor(dep Resource) Option {
	return func(a *annotations) {
		a.waitFor = append(a.waitFor, dep)
	}
}

// WithReference injects the environment of dep into the resource
func WithReference(dep Resource) Option {
	return func(a *annotations) {
		a.references = append(a.references, dep)
	}
}

// WithHTTPEndpoint declares an HTTP endpoint; port 0 allocates a free port
func WithHTTPEndpoint(port int) Option {
	return func(a *annotations) {
		a.http = true
		a.port = port
	}
}

// WithExternalHTTPEndpoints exposes the HTTP endpoint on every interface
func WithExternalHTTPEndpoints() Option {
	return func(a *annotations) {
		a.http = true
		a.external = true
	}
}

// WithEnv sets an environment variable for the resource
func WithEnv(key, value string) Option {
	return func(a *annotations) {
		if a.env == nil {
			a.env = make(map[string]string)
		}
		a.env[key] = value
	}
}

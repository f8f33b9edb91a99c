package apphost

// Topology holds what the compositions need to declare their resources
type Topology struct {
	Executable    string // binary started for projects, usually os.Executable()
	StoragePort   int
	FunctionsPort int
	ClientPort    int
	QueueName     string
}

// Full declares the storage emulator with its queue, the functions host and the client.
// Both projects wait for the queue and expose their endpoints externally.
func Full(b *Builder, t Topology) {
	storage := b.AddStorageEmulator("storage", WithHTTPEndpoint(t.StoragePort))
	queue := storage.AddQueue("queues", t.QueueName)

	b.AddProject("functions", t.Executable, []string{"functions:start"},
		WithHTTPEndpoint(t.FunctionsPort),
		WithExternalHTTPEndpoints(),
		WithReference(queue),
		WaitFor(queue),
	)

	b.AddProject("client", t.Executable, []string{"client:serve"},
		WithHTTPEndpoint(t.ClientPort),
		WithExternalHTTPEndpoints(),
		WithReference(queue),
		WaitFor(queue),
	)
}

// Minimal declares the functions host alone with external endpoints
func Minimal(b *Builder, t Topology) {
	b.AddProject("functions", t.Executable, []string{"functions:start"},
		WithHTTPEndpoint(t.FunctionsPort),
		WithExternalHTTPEndpoints(),
	)
}

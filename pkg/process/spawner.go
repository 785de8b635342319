package process

// Spawner is a strategy for starting processes.
type Spawner interface {
	// Starts the process described by spec, or arranges for it to be started
	// later, and returns a handle to it.
	Spawn(spec SpawnSpec) (Handle, error)
}

type SpawnerFunc func(spec SpawnSpec) (Handle, error)

func (f SpawnerFunc) Spawn(spec SpawnSpec) (Handle, error) {
	return f(spec)
}

// DirectSpawner starts each process immediately, without any concurrency
// limit. Errors starting the process are returned right away.
var DirectSpawner Spawner = SpawnerFunc(spawnProcess)

func spawnProcess(spec SpawnSpec) (Handle, error) {
	h, err := Spawn(spec)
	if err != nil {
		return nil, err
	}
	return h, nil
}

package config

import (
	"os"
	"sync"
)

// containerHostAlias is how Docker Desktop and Podman expose the host machine.
const containerHostAlias = "host.docker.internal"

// containerMarkers are files the runtimes create in every container.
var containerMarkers = []string{"/.dockerenv", "/run/.containerenv"}

var (
	inContainerOnce   sync.Once
	inContainerResult bool
)

// InContainer reports whether the process runs inside a Docker or Podman
// container. The result is computed once.
func InContainer() bool {
	inContainerOnce.Do(func() {
		for _, marker := range containerMarkers {
			if _, err := os.Stat(marker); err == nil {
				inContainerResult = true
				return
			}
		}
	})
	return inContainerResult
}

// ResolveHostForDocker rewrites loopback hosts to the host alias when
// running in a container, so Postgres and Redis on the developer machine
// stay reachable with the default config.
func ResolveHostForDocker(host string) string {
	return resolveHost(host, InContainer())
}

func resolveHost(host string, inContainer bool) string {
	if !inContainer {
		return host
	}
	switch host {
	case "localhost", "127.0.0.1", "::1":
		return containerHostAlias
	}
	return host
}

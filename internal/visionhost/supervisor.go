// Package visionhost keeps the kiosk's vision sidecars alive: the camera
// detector and the recognizer run as host-network containers next to the
// kiosk binary, created on boot and restarted when they fall over.
package visionhost

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
)

const (
	pollInterval = 5 * time.Second
	stopTimeout  = 10 // seconds, passed to the daemon
)

// Sidecar describes one managed container. Host networking is assumed: the
// detector needs the camera device and the recognizer serves gRPC on
// localhost, so no port mapping is involved.
type Sidecar struct {
	Name    string   // container name, unique per station
	Image   string   // e.g. "shiftgate/detector:latest"
	Env     []string // KEY=value pairs handed to the container
	Devices []string // host device paths, e.g. /dev/video0
}

// Supervisor owns the sidecar lifecycle. Run creates what is missing,
// restarts what has exited, and tears everything down on shutdown.
type Supervisor struct {
	sidecars []Sidecar
	logger   *log.Logger

	mu       sync.Mutex
	ids      map[string]string // sidecar name -> container id
	restarts map[string]int
}

func NewSupervisor(sidecars ...Sidecar) *Supervisor {
	return &Supervisor{
		sidecars: sidecars,
		logger:   log.New(log.Writer(), "[VisionHost] ", log.LstdFlags),
		ids:      make(map[string]string),
		restarts: make(map[string]int),
	}
}

// Run supervises until ctx is cancelled, then stops the sidecars.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.ensureAll(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.ensureAll(ctx); err != nil {
				s.logger.Printf("⚠️ Sidecar sweep failed: %v", err)
			}
		case <-ctx.Done():
			s.teardown()
			return ctx.Err()
		}
	}
}

// ensureAll walks the sidecars and repairs whatever is not running.
func (s *Supervisor) ensureAll(ctx context.Context) error {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return fmt.Errorf("docker client: %w", err)
	}
	defer cli.Close()

	for _, sc := range s.sidecars {
		if err := s.ensure(ctx, cli, sc); err != nil {
			s.logger.Printf("⚠️ Sidecar %s: %v", sc.Name, err)
		}
	}
	return nil
}

func (s *Supervisor) ensure(ctx context.Context, cli *client.Client, sc Sidecar) error {
	existing, err := cli.ContainerList(ctx, types.ContainerListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", sc.Name)),
	})
	if err != nil {
		return fmt.Errorf("list: %w", err)
	}

	// The name filter matches substrings; pick the exact container.
	for _, c := range existing {
		for _, name := range c.Names {
			if name != "/"+sc.Name {
				continue
			}
			s.remember(sc.Name, c.ID)
			if c.State == "running" {
				return nil
			}
			s.mu.Lock()
			s.restarts[sc.Name]++
			n := s.restarts[sc.Name]
			s.mu.Unlock()
			s.logger.Printf("🔄 Restarting %s (restart #%d, state=%s)", sc.Name, n, c.State)
			return cli.ContainerStart(ctx, c.ID, types.ContainerStartOptions{})
		}
	}

	return s.create(ctx, cli, sc)
}

func (s *Supervisor) create(ctx context.Context, cli *client.Client, sc Sidecar) error {
	hostConfig := &container.HostConfig{
		NetworkMode: "host",
		Resources: container.Resources{
			NanoCPUs: 2_000_000_000,
			Memory:   1024 * 1024 * 1024,
		},
		RestartPolicy: container.RestartPolicy{Name: "unless-stopped"},
	}
	for _, dev := range sc.Devices {
		hostConfig.Devices = append(hostConfig.Devices, container.DeviceMapping{
			PathOnHost:        dev,
			PathInContainer:   dev,
			CgroupPermissions: "rwm",
		})
	}

	resp, err := cli.ContainerCreate(ctx, &container.Config{
		Image: sc.Image,
		Env:   sc.Env,
		Tty:   false,
	}, hostConfig, nil, nil, sc.Name)
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}

	if err := cli.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	s.remember(sc.Name, resp.ID)
	s.logger.Printf("🚀 Sidecar %s started (%s)", sc.Name, resp.ID[:12])
	return nil
}

func (s *Supervisor) remember(name, id string) {
	s.mu.Lock()
	s.ids[name] = id
	s.mu.Unlock()
}

// teardown stops the sidecars with a fresh context; the run context is
// already cancelled when we get here.
func (s *Supervisor) teardown() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		s.logger.Printf("⚠️ Teardown client: %v", err)
		return
	}
	defer cli.Close()

	s.mu.Lock()
	ids := make(map[string]string, len(s.ids))
	for name, id := range s.ids {
		ids[name] = id
	}
	s.mu.Unlock()

	timeout := stopTimeout
	for name, id := range ids {
		if err := cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil {
			s.logger.Printf("⚠️ Stop %s: %v", name, err)
			continue
		}
		s.logger.Printf("🛑 Sidecar %s stopped", name)
	}
}

// Stats reports supervision counters for the health endpoint.
func (s *Supervisor) Stats() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	restarts := make(map[string]int, len(s.restarts))
	for name, n := range s.restarts {
		restarts[name] = n
	}
	return map[string]interface{}{
		"managed":  len(s.sidecars),
		"tracked":  len(s.ids),
		"restarts": restarts,
	}
}

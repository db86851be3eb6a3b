package launcher

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const mongoContainerPort = "27017/tcp"

// Container runs mongod in a Docker container. The container port is
// published on the spec's bind address and port so that port contention
// behaves like a local process. The storage directory is not mounted.
type Container struct {
	// Image is the repository, "mongo" by default.
	Image string

	// Tag selects the image version and doubles as the store version.
	Tag string

	ReadyTimeout time.Duration

	Logger *slog.Logger
}

// NewContainer creates a container launcher for mongo:tag
func NewContainer(tag string) *Container {
	return &Container{
		Image:        "mongo",
		Tag:          tag,
		ReadyTimeout: 60 * time.Second,
	}
}

// Name returns the backing store name
func (c *Container) Name() string {
	return "mongo-container"
}

func (c *Container) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Version returns the image tag
func (c *Container) Version(ctx context.Context) (string, error) {
	if c.Tag == "" || c.Tag == "latest" {
		return "", ErrVersionUnknown(c.Name(), fmt.Errorf("image tag %q is not a version", c.Tag))
	}
	return c.Tag, nil
}

// Launch starts a container for spec and waits until mongod accepts connections
func (c *Container) Launch(ctx context.Context, spec Spec) (Process, error) {
	image := c.Image
	if image == "" {
		image = "mongo"
	}
	tag := c.Tag
	if tag == "" {
		tag = "latest"
	}
	timeout := c.ReadyTimeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	cmd := []string{"--bind_ip_all"}
	if spec.StorageEngine != "" {
		cmd = append(cmd, "--storageEngine", spec.StorageEngine)
	}

	req := testcontainers.ContainerRequest{
		Image:        image + ":" + tag,
		ExposedPorts: []string{mongoContainerPort},
		Cmd:          cmd,
		HostConfigModifier: func(hc *container.HostConfig) {
			hc.PortBindings = nat.PortMap{
				mongoContainerPort: []nat.PortBinding{{
					HostIP:   spec.BindAddress,
					HostPort: strconv.Itoa(spec.Port),
				}},
			}
		},
		WaitingFor: wait.ForLog("(?i)waiting for connections").AsRegexp().WithStartupTimeout(timeout),
	}

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if ctr != nil {
			if termErr := ctr.Terminate(context.Background()); termErr != nil {
				c.logger().Debug("launcher: failed to remove container", "error", termErr)
			}
		}
		if isPortAllocated(err) {
			return nil, ErrPortContention(spec.BindAddress, spec.Port, err)
		}
		return nil, ErrLaunchFailed(c.Name(), err).WithContext("image", req.Image)
	}

	c.logger().Debug("launcher: container started",
		"image", req.Image,
		"container_id", ctr.GetContainerID(),
		"addr", spec.Addr())

	return &containerProcess{ctr: ctr, addr: spec.Addr(), logger: c.logger()}, nil
}

func isPortAllocated(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "port is already allocated") ||
		strings.Contains(msg, "address already in use")
}

// containerProcess is a running mongo container
type containerProcess struct {
	ctr    testcontainers.Container
	addr   string
	logger *slog.Logger
}

// Addr returns the published address
func (p *containerProcess) Addr() string {
	return p.addr
}

// Shutdown terminates the container in the background
func (p *containerProcess) Shutdown() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := p.ctr.Terminate(ctx); err != nil {
			p.logger.Warn("launcher: failed to terminate container",
				"container_id", p.ctr.GetContainerID(),
				"error", err)
		}
	}()
}

package idle

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/apex/log"

	"github.com/hermitcrab/hermit/cli/config"
	"github.com/hermitcrab/hermit/cli/docker"
)

// CloudSDKImage is the image providing gcloud inside the instance.
const CloudSDKImage = "google/cloud-sdk"

// Suspender suspends the instance the monitor runs on.
type Suspender interface {
	// Prepare fetches whatever the suspend call needs.
	Prepare(ctx context.Context) error
	// Suspend invokes the provider suspend call and returns its exit code.
	Suspend(ctx context.Context) (int, error)
}

// ContainerRunner pulls images and runs one-shot containers.
type ContainerRunner interface {
	PullImage(ctx context.Context, image string) error
	RunContainer(ctx context.Context, runOptions docker.RunOptions) (int, error)
}

// DockerSuspender runs `gcloud compute instances suspend` in a cloud SDK
// container.
type DockerSuspender struct {
	Runner ContainerRunner
	Image  string
	Ref    config.InstanceRef
}

// NewDockerSuspender creates a suspender of ref using the cloud SDK image.
func NewDockerSuspender(runner ContainerRunner, ref config.InstanceRef) *DockerSuspender {
	return &DockerSuspender{Runner: runner, Image: CloudSDKImage, Ref: ref}
}

// Prepare pulls the cloud SDK image.
func (s *DockerSuspender) Prepare(ctx context.Context) error {
	return s.Runner.PullImage(ctx, s.Image)
}

// Suspend runs the suspend command in the container.
func (s *DockerSuspender) Suspend(ctx context.Context) (int, error) {
	return s.Runner.RunContainer(ctx, docker.RunOptions{
		Image: s.Image,
		Command: []string{"gcloud", "compute", "instances", "suspend", s.Ref.Name,
			"--zone", s.Ref.Zone, "--project", s.Ref.Project},
		NetworkMode: "host",
	})
}

// InstanceSuspender is a provider client able to suspend an instance directly.
type InstanceSuspender interface {
	Suspend(ctx context.Context, ref config.InstanceRef) (int, error)
}

// DirectSuspender calls the provider client on the host.
type DirectSuspender struct {
	Client InstanceSuspender
	Ref    config.InstanceRef
}

// Prepare does nothing, the client is already installed.
func (s *DirectSuspender) Prepare(context.Context) error {
	return nil
}

// Suspend suspends the instance.
func (s *DirectSuspender) Suspend(ctx context.Context) (int, error) {
	return s.Client.Suspend(ctx, s.Ref)
}

// PowerOff powers the host off.
type PowerOff func(ctx context.Context) error

// HostPowerOff runs `shutdown --poweroff`.
func HostPowerOff(ctx context.Context) error {
	out, err := exec.CommandContext(ctx, "shutdown", "--poweroff").CombinedOutput()
	if err != nil {
		return fmt.Errorf("shutdown failed: %w: %s", err, out)
	}
	log.Infof("shutdown: %s", out)
	return nil
}

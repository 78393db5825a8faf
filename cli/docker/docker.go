package docker

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/apex/log"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/moby/term"
)

// RunOptions options for docker container run.
type RunOptions struct {
	// Image - docker image reference.
	Image string
	// Command is a command to run in container.
	Command []string
	// Binds - directory bindings in "host_dir:container_dir" format.
	Binds []string
	// NetworkMode is the container network mode, "host" for example.
	NetworkMode string
}

// Client runs one-shot docker containers through the Docker Engine API.
type Client struct {
	api *client.Client
	// Output receives image pull progress and container output.
	Output io.Writer
}

// NewClient connects to the docker daemon configured by the environment.
func NewClient(output io.Writer) (*Client, error) {
	dockerClient, err := client.NewClientWithOpts(client.FromEnv,
		client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	if output == nil {
		output = io.Discard
	}
	return &Client{api: dockerClient, Output: output}, nil
}

// Close closes the connection to the docker daemon.
func (c *Client) Close() error {
	return c.api.Close()
}

// PullImage pulls the image and displays the progress.
func (c *Client) PullImage(ctx context.Context, imageRef string) error {
	log.Infof("Pulling docker image '%s'.", imageRef)
	pullResponse, err := c.api.ImagePull(ctx, imageRef, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("docker image pull failed: %s", err)
	}
	defer pullResponse.Close()

	termFd, isTerm := term.GetFdInfo(c.Output)
	if err = jsonmessage.DisplayJSONMessagesStream(pullResponse, c.Output, termFd, isTerm,
		nil); err != nil {
		if ctx.Err() == context.Canceled {
			return fmt.Errorf("the operation is interrupted")
		}
		return err
	}
	log.Debugf("Docker image '%s' is pulled.", imageRef)
	return nil
}

// containerConfig builds the container and host configuration of a run.
func containerConfig(runOptions RunOptions) (*container.Config, *container.HostConfig) {
	return &container.Config{
			Image: runOptions.Image,
			Cmd:   runOptions.Command,
			Tty:   false,
		}, &container.HostConfig{
			Binds:       runOptions.Binds,
			NetworkMode: container.NetworkMode(runOptions.NetworkMode),
		}
}

// RunContainer creates and runs a container until it exits and returns
// its exit code. The container is removed afterwards.
func (c *Client) RunContainer(ctx context.Context, runOptions RunOptions) (int, error) {
	cfg, hostCfg := containerConfig(runOptions)
	createResponse, err := c.api.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	if err != nil {
		return -1, fmt.Errorf("failed to create container: %w", err)
	}
	containerId := createResponse.ID
	log.Debugf("Docker container '%s' is created.", containerId[:12])
	defer func() {
		log.Debugf("Removing container %s", containerId[:12])
		if err := c.api.ContainerRemove(context.Background(), containerId,
			container.RemoveOptions{Force: true}); err != nil {
			log.Warnf("Failed to remove container %s", containerId[:12])
		}
	}()

	log.Debugf("The following command is going to be invoked in the container: %s.",
		strings.Join(runOptions.Command, " "))
	if err := c.api.ContainerStart(ctx, containerId, container.StartOptions{}); err != nil {
		return -1, fmt.Errorf("failed to start container: %w", err)
	}

	out, err := c.api.ContainerLogs(ctx, containerId, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true})
	if err != nil {
		return -1, err
	}
	stdcopy.StdCopy(c.Output, c.Output, out)
	out.Close()

	statusCh, errCh := c.api.ContainerWait(ctx, containerId,
		container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if ctx.Err() != nil {
			if err = c.api.ContainerStop(context.Background(), containerId,
				container.StopOptions{}); err != nil {
				log.Warnf("Failed to stop the container %s", containerId[:12])
			}
			return -1, fmt.Errorf("the operation is interrupted")
		}
		return -1, err
	case st := <-statusCh:
		if st.Error != nil && st.Error.Message != "" {
			return int(st.StatusCode), fmt.Errorf("container wait failed: %s",
				st.Error.Message)
		}
		return int(st.StatusCode), nil
	}
}

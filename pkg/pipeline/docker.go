package pipeline

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/mount"
	docker "github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/appfoundry/buildfleet/pkg/types"
)

// ImgCntPrefix is the common prefix added to the names of all Docker
// images/containers created by the build pipeline, carried from the
// teacher's equivalent.
const ImgCntPrefix = "buildfleet-"

// ContainerRun builds image from imageTar (if not already present) and
// runs the platform toolchain inside a short-lived container bound to
// j's workspace, blocking until it exits. It is the Android/Ubuntu
// equivalent of the teacher's BuildImage+StartContainer pair
// (SPEC_FULL.md §4).
func ContainerRun(ctx context.Context, j *types.Job, imageTar []byte, cacheDir string, out, outErr io.Writer) (int, error) {
	client, err := docker.NewClientWithOpts(docker.FromEnv)
	if err != nil {
		return 0, fmt.Errorf("create docker client: %w", err)
	}
	defer client.Close()

	image := ImgCntPrefix + string(j.Platform) + "-" + j.LibVersion
	name := ImgCntPrefix + j.Code + "-" + randomHexString()

	if err := buildImage(ctx, client, image, imageTar, out); err != nil {
		return 0, err
	}

	return startContainer(ctx, client, image, name, j, cacheDir, out, outErr)
}

func buildImage(ctx context.Context, c *docker.Client, image string, tar []byte, out io.Writer) error {
	_, _, err := c.ImageInspectWithRaw(ctx, image)
	if err == nil {
		return nil // already present; reuse it
	}

	resp, err := c.ImageBuild(ctx, bytes.NewReader(tar), dockertypes.ImageBuildOptions{
		Tags:        []string{image},
		NetworkMode: "host",
		ForceRemove: true,
	})
	if err != nil {
		return types.NewStageError(fmt.Sprintf("could not build docker image '%s': %s", image, err), "Could not prepare the build environment.")
	}
	defer resp.Body.Close()

	if err := jsonmessage.DisplayJSONMessagesStream(resp.Body, out, 0, false, nil); err != nil {
		return types.NewStageError(fmt.Sprintf("could not build docker image '%s': %s", image, err), "Could not prepare the build environment.")
	}
	return nil
}

func startContainer(ctx context.Context, c *docker.Client, image, name string, j *types.Job, cacheDir string, out, outErr io.Writer) (int, error) {
	cfg := container.Config{Image: image}

	mnts := []mount.Mount{
		{Type: mount.TypeBind, Source: j.WorkspacePath, Target: "/workspace"},
		{Type: mount.TypeBind, Source: j.OutPath, Target: "/out"},
	}
	if cacheDir != "" {
		mnts = append(mnts, mount.Mount{Type: mount.TypeBind, Source: cacheDir, Target: "/data"})
	}
	hostCfg := container.HostConfig{Mounts: mnts, NetworkMode: "host"}

	if err := renameIfExists(ctx, c, name); err != nil {
		return 0, err
	}

	res, err := c.ContainerCreate(ctx, &cfg, &hostCfg, nil, nil, name)
	if err != nil {
		return 0, err
	}

	if err := c.ContainerStart(ctx, res.ID, container.StartOptions{}); err != nil {
		return 0, err
	}
	defer c.ContainerRemove(ctx, res.ID, container.RemoveOptions{})

	logs, err := c.ContainerLogs(ctx, res.ID, container.LogsOptions{Follow: true, ShowStdout: true, ShowStderr: true})
	if err != nil {
		return 0, err
	}
	defer logs.Close()

	if _, err := stdcopy.StdCopy(out, io.MultiWriter(out, outErr), logs); err != nil {
		return 0, err
	}

	_, inspect, err := c.ContainerInspectWithRaw(ctx, res.ID, false)
	if err != nil {
		return 0, err
	}

	var result struct {
		State struct{ ExitCode int }
	}
	if err := json.Unmarshal(inspect, &result); err != nil {
		return 0, err
	}
	return result.State.ExitCode, nil
}

// renameIfExists renames any pre-existing container with the given name,
// preventing a name collision on retry (carried from the teacher's
// renameIfExists).
func renameIfExists(ctx context.Context, c *docker.Client, name string) error {
	filter := filters.NewArgs()
	filter.Add("name", name)
	containers, err := c.ContainerList(ctx, container.ListOptions{All: true, Limit: -1, Filters: filter})
	if err != nil {
		return err
	}
	for _, cnt := range containers {
		if err := c.ContainerRename(ctx, cnt.ID, name+"-renamed-"+randomHexString()); err != nil {
			return err
		}
	}
	return nil
}

func randomHexString() string {
	buf := make([]byte, 8)
	rand.Read(buf)
	return hex.EncodeToString(buf)
}

package build

import (
	"fmt"

	"github.com/google/go-containerregistry/pkg/crane"
)

// PushToRegistry re-tags and pushes a locally built image to the platform's
// configured image registry, when one is configured. This is an optional
// step: sandboxes created on the local Docker daemon never need it, but a
// remote sandbox provider that pulls images from a registry does.
func PushToRegistry(localTag, registryURL string) (string, error) {
	if registryURL == "" {
		return localTag, nil
	}
	remoteTag := fmt.Sprintf("%s/%s", registryURL, localTag)
	if err := crane.Tag(localTag, remoteTag); err != nil {
		return "", fmt.Errorf("tagging %s as %s: %w", localTag, remoteTag, err)
	}
	if err := crane.Push(localTag, remoteTag); err != nil {
		return "", fmt.Errorf("pushing %s: %w", remoteTag, err)
	}
	return remoteTag, nil
}

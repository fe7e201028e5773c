package registry

import (
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
)

// mutateIndexAdd pairs one platform's image with the platform descriptor
// it should be indexed under.
type mutateIndexAdd struct {
	img      v1.Image
	platform v1.Platform
}

// buildIndex assembles an OCI image index from a set of platform-tagged
// images, in the shape push_multiarch needs to publish.
func buildIndex(adds []mutateIndexAdd) v1.ImageIndex {
	idx := mutate.IndexMediaType(empty.Index, "application/vnd.oci.image.index.v1+json")
	for _, a := range adds {
		platform := a.platform
		idx = mutate.AppendManifests(idx, mutate.IndexAddendum{
			Add:        a.img,
			Descriptor: v1.Descriptor{Platform: &platform},
		})
	}
	return idx
}

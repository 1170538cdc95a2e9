//go:build !cuda

package cursor

import "github.com/pkg/errors"

// newGPUMatcher is the placeholder for binaries built without the cuda
// tag. Selecting the GPU backend on such a build is an environment
// error, not something to silently downgrade.
func newGPUMatcher() (Matcher, error) {
	return nil, errors.New("gpu matching requires a build with the cuda tag")
}

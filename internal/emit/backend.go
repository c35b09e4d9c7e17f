// Package emit renders segment records into source for a playback target.
package emit

import (
	"fmt"
	"io"
	"sort"

	"github.com/armlite-video/framepack/pkg/types"
)

// Backend turns segment records into target source text
type Backend interface {
	Name() string
	EmitDelta(w io.Writer, seg *types.DeltaSegment) error
	EmitBitpack(w io.Writer, seg *types.BitpackSegment) error
}

var backends = map[string]Backend{
	"armlite": ARMLite{},
}

// Lookup returns the backend registered under name
func Lookup(name string) (Backend, error) {
	b, ok := backends[name]
	if !ok {
		return nil, fmt.Errorf("unknown backend %q (have %v)", name, Names())
	}
	return b, nil
}

// Names lists registered backends
func Names() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

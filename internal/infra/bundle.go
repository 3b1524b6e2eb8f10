package infra

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"howett.net/plist"

	"github.com/eliteGoblin/focusd/killswitch/internal/domain"
)

const bundleMarker = ".app/Contents/"

// BundleResolver maps an executable inside an application bundle to the
// bundle's CFBundleIdentifier. Lookups are cached per bundle.
type BundleResolver struct {
	readFile func(string) ([]byte, error)

	mu    sync.Mutex
	cache map[string]string
}

// NewBundleResolver creates a resolver reading Info.plist from disk.
func NewBundleResolver() *BundleResolver {
	return NewBundleResolverWithReader(os.ReadFile)
}

// NewBundleResolverWithReader creates a resolver with an injectable file reader (for testing).
func NewBundleResolverWithReader(readFile func(string) ([]byte, error)) *BundleResolver {
	return &BundleResolver{
		readFile: readFile,
		cache:    make(map[string]string),
	}
}

type bundleInfo struct {
	Identifier string `plist:"CFBundleIdentifier"`
}

// Resolve returns the identifier of the innermost bundle containing path.
// Helpers nested inside another app resolve to their own bundle.
func (b *BundleResolver) Resolve(path string) string {
	root := bundleRoot(path)
	if root == "" {
		return ""
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if id, ok := b.cache[root]; ok {
		return id
	}

	id := ""
	data, err := b.readFile(filepath.Join(root, "Contents", "Info.plist"))
	if err == nil {
		var info bundleInfo
		if _, err := plist.Unmarshal(data, &info); err == nil {
			id = info.Identifier
		}
	}
	b.cache[root] = id
	return id
}

// bundleRoot returns the path of the innermost *.app directory containing path.
func bundleRoot(path string) string {
	i := strings.LastIndex(path, bundleMarker)
	if i < 0 {
		return ""
	}
	return path[:i+len(".app")]
}

// Ensure BundleResolver implements domain.IdentifierResolver.
var _ domain.IdentifierResolver = (*BundleResolver)(nil)

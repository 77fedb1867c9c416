package manifest

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/ZebulonRouseFrantzich/mansync/internal/source"
	"github.com/ZebulonRouseFrantzich/mansync/internal/syncerr"
)

// Fetcher retrieves small documents over the network.
type Fetcher interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// LoadOptions says where the manifest and its signature live.
type LoadOptions struct {
	// URL is fetched when Path is empty.
	URL string
	// Path is a local manifest file and takes precedence over URL.
	Path string
	// Signature is the URL or local path of a detached signature.
	Signature string
	// PublicKey is the path of the key ring used to check Signature. When
	// set, an unsigned or badly signed manifest is rejected.
	PublicKey string
	Resolver  source.Resolver
	Logger    *zap.Logger
}

// Load reads, authenticates and decodes a manifest.
func Load(ctx context.Context, fetcher Fetcher, opts LoadOptions) (*Manifest, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	location := opts.Path
	if location == "" {
		location = opts.URL
	}
	if location == "" {
		return nil, fmt.Errorf("no manifest location configured")
	}

	data, err := read(ctx, fetcher, location)
	if err != nil {
		return nil, err
	}
	logger.Debug("read manifest", zap.String("location", location), zap.Int("bytes", len(data)))

	if opts.PublicKey != "" {
		if opts.Signature == "" {
			return nil, syncerr.Parse("verify manifest signature", location, fmt.Errorf("%w: no signature configured", ErrBadSignature))
		}
		keyData, err := os.ReadFile(opts.PublicKey)
		if err != nil {
			return nil, syncerr.FileSystem("read public key", opts.PublicKey, err)
		}
		keyring, err := ReadKeyRing(keyData)
		if err != nil {
			return nil, syncerr.Parse("read public key", opts.PublicKey, err)
		}
		sig, err := read(ctx, fetcher, opts.Signature)
		if err != nil {
			return nil, err
		}
		if err := VerifySignature(keyring, data, sig); err != nil {
			return nil, syncerr.Parse("verify manifest signature", location, err)
		}
		logger.Debug("manifest signature verified", zap.String("signature", opts.Signature))
	}

	m, err := Decode(data, FormatFor(location), opts.Resolver)
	if err != nil {
		return nil, syncerr.Parse("decode manifest", location, err)
	}

	logger.Info("manifest loaded",
		zap.String("location", location),
		zap.Int("files", len(m.Files)),
		zap.Int("archives", len(m.Archives)),
		zap.Int("entries", m.Entries()))
	return m, nil
}

func read(ctx context.Context, fetcher Fetcher, location string) ([]byte, error) {
	if isRemote(location) {
		if fetcher == nil {
			return nil, fmt.Errorf("no fetcher for %s", location)
		}
		return fetcher.Get(ctx, location)
	}

	data, err := os.ReadFile(location)
	if err != nil {
		return nil, syncerr.FileSystem("read file", location, err)
	}
	return data, nil
}

func isRemote(location string) bool {
	return strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://")
}

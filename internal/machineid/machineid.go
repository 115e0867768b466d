// Copyright (c) 2025, the PixelStudio contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package machineid derives a stable 32-hex identifier for the current
// installation.
//
// Resolution walks an ordered chain of storage providers: a bbolt
// key-value store, then a plain file in the data directory, then a
// volatile in-memory id. A stored value that is not exactly 32 lowercase
// hex characters is treated as corrupt and silently replaced. Persistence
// failure never blocks resolution; it only marks the result degraded.
package machineid

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"sync"
	"time"

	keygenmachineid "github.com/keygen-sh/machineid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"
)

const appID = "pslicense"

var idPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

// ErrInvalidID is returned when a supplied machine id is not 32 lowercase
// hex characters.
var ErrInvalidID = errors.New("machine id must be 32 hex characters")

// Identity is a resolved machine id plus provenance.
type Identity struct {
	ID     string
	Source string
	// Degraded is set when the id could not be persisted anywhere and is
	// only stable for this process.
	Degraded bool
}

// Validate checks that id is a canonical 32-hex machine id.
func Validate(id string) error {
	if !idPattern.MatchString(id) {
		return ErrInvalidID
	}
	return nil
}

// Provider is one tier of durable id storage. GetOrCreate returns the
// stored id, replacing missing or corrupt values with generate().
type Provider interface {
	Name() string
	GetOrCreate(generate func() string) (string, error)
}

// Resolver resolves and caches the installation's machine id.
type Resolver struct {
	providers []Provider
	newID     func() string
	logger    zerolog.Logger

	mu     sync.Mutex
	cached *Identity
}

// NewResolver builds a resolver with the default provider chain rooted at
// dataDir: bbolt store first, id file second.
func NewResolver(dataDir string, logger zerolog.Logger) *Resolver {
	return &Resolver{
		providers: []Provider{
			&boltProvider{path: filepath.Join(dataDir, "local.db")},
			&fileProvider{path: filepath.Join(dataDir, "machine-id")},
		},
		newID:  newMachineID,
		logger: logger.With().Str("component", "machineid").Logger(),
	}
}

// Resolve returns the machine id for this installation. The first
// successful resolution is cached for the life of the process.
func (r *Resolver) Resolve() Identity {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cached != nil {
		return *r.cached
	}

	for _, p := range r.providers {
		id, err := p.GetOrCreate(r.newID)
		if err != nil {
			r.logger.Warn().Err(err).Str("provider", p.Name()).Msg("machine id provider unavailable, trying next")
			continue
		}

		identity := Identity{ID: id, Source: p.Name()}
		r.cached = &identity
		return identity
	}

	// Every durable tier failed. Hand out a session-only id rather than
	// blocking activation on persistence.
	identity := Identity{ID: r.newID(), Source: "volatile", Degraded: true}
	r.logger.Warn().Msg("machine id could not be persisted, using volatile id for this session")
	r.cached = &identity
	return identity
}

// newMachineID derives a 32-hex id from the hardware machine id when the
// platform exposes one, otherwise from random bytes.
func newMachineID() string {
	if protected, err := keygenmachineid.ProtectedID(appID); err == nil && protected != "" {
		sum := sha256.Sum256([]byte(protected))
		return hex.EncodeToString(sum[:])[:32]
	}

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// Last-ditch stable-ish seed; rand.Read failing means the host is
		// in serious trouble anyway.
		hostname, _ := os.Hostname()
		sum := sha256.Sum256([]byte(fmt.Sprintf("%s-%s-%s", runtime.GOOS, runtime.GOARCH, hostname)))
		return hex.EncodeToString(sum[:])[:32]
	}
	return hex.EncodeToString(buf)
}

var (
	boltBucket = []byte("machine")
	boltKey    = []byte("id")
)

// boltProvider stores the machine id in a bbolt database.
type boltProvider struct {
	path string
}

func (p *boltProvider) Name() string { return "store" }

func (p *boltProvider) GetOrCreate(generate func() string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return "", errors.Wrap(err, "create data directory")
	}

	db, err := bolt.Open(p.path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return "", errors.Wrap(err, "open local store")
	}
	defer db.Close()

	var id string
	err = db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(boltBucket)
		if err != nil {
			return err
		}

		existing := string(bucket.Get(boltKey))
		if Validate(existing) == nil {
			id = existing
			return nil
		}

		// Missing or corrupt value: repair in place.
		id = generate()
		return bucket.Put(boltKey, []byte(id))
	})
	if err != nil {
		return "", errors.Wrap(err, "read local store")
	}

	return id, nil
}

// fileProvider stores the machine id as a plain file.
type fileProvider struct {
	path string
}

func (p *fileProvider) Name() string { return "file" }

func (p *fileProvider) GetOrCreate(generate func() string) (string, error) {
	if content, err := os.ReadFile(p.path); err == nil {
		existing := strings.TrimSpace(string(content))
		if Validate(existing) == nil {
			return existing, nil
		}
		// Corrupt id file, fall through and rewrite it.
	}

	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return "", errors.Wrap(err, "create data directory")
	}

	id := generate()
	if err := os.WriteFile(p.path, []byte(id), 0o644); err != nil {
		return "", errors.Wrap(err, "persist machine id")
	}

	return id, nil
}

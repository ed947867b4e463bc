package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/zeebo/xxh3"

	"github.com/filegraph/filegraph/internal/metrics"
)

// DefaultChunkSize is the read block size used while streaming file content
// through both hash functions.
const DefaultChunkSize = 64 * 1024

// ErrTruncatedRead is returned when a file's size or mtime changed while it was
// being hashed. Fingerprints from such a read are discarded, never published.
var ErrTruncatedRead = errors.New("file changed during fingerprint")

// Fingerprint identifies a file's content at a point in time.
type Fingerprint struct {
	SHA256 string
	XXH128 string
	Size   int64
}

// Fingerprinter computes content hashes with chunked streaming reads. It holds
// no per-call state and is safe to use concurrently for distinct paths.
type Fingerprinter struct {
	chunkSize int

	statAfter func(path string) (os.FileInfo, error) // os.Stat outside tests
}

func NewFingerprinter(chunkSize int) *Fingerprinter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Fingerprinter{chunkSize: chunkSize, statAfter: os.Stat}
}

// copyChunks streams r into w in chunkSize blocks. The source is wrapped so
// an *os.File's WriteTo cannot bypass the configured buffer.
func (f *Fingerprinter) copyChunks(w io.Writer, r io.Reader) (int64, error) {
	buf := make([]byte, f.chunkSize)
	return io.CopyBuffer(w, struct{ io.Reader }{r}, buf)
}

// Fingerprint reads the file once, feeding sha256 and xxh3-128 from the same
// byte stream, and returns both digests plus the byte count. The file is
// stat'ed before and after the read; any drift in size or mtime returns
// ErrTruncatedRead.
func (f *Fingerprinter) Fingerprint(path string) (*Fingerprint, error) {
	start := time.Now()

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	before, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	crypto := sha256.New()
	fast := xxh3.New()

	n, err := f.copyChunks(io.MultiWriter(crypto, fast), file)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	// Re-stat by path so an atomic replace of the file is caught too.
	after, err := f.statAfter(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if n != before.Size() || after.Size() != before.Size() || !after.ModTime().Equal(before.ModTime()) {
		return nil, fmt.Errorf("%w: %s", ErrTruncatedRead, path)
	}

	sum128 := fast.Sum128().Bytes()
	metrics.FingerprintSeconds.Observe(time.Since(start).Seconds())

	return &Fingerprint{
		SHA256: hex.EncodeToString(crypto.Sum(nil)),
		XXH128: hex.EncodeToString(sum128[:]),
		Size:   n,
	}, nil
}

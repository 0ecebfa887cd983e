// Package arena implements the buffer-page arena described in §4.2: a
// single contiguous region, sliced into N_ctx fixed-size pages, registered
// once as a memory region and handed out per-context. Grounded on the
// teacher's mmapQueues (internal/queue/runner.go), which maps a contiguous
// queue-memory region once at startup rather than allocating per-request.
package arena

import (
	"fmt"

	"github.com/behrlich/rdma-rpc/internal/constants"
	"golang.org/x/sys/unix"
)

// Arena is a contiguous region of PageSize-sized pages, one per context.
type Arena struct {
	mem      []byte
	pageSize int
	numPages int
	hugePage bool
}

// Config controls how the arena is allocated.
type Config struct {
	PageSize int
	NumPages int
	// HugePages requests a huge-page-backed mmap (MAP_HUGETLB) instead of a
	// plain Go byte slice. Falls back silently to a plain allocation if the
	// mapping fails, the same tolerance the teacher shows toward
	// unsupported io_uring features (feature negotiation in control.go).
	HugePages bool
}

// New allocates an arena per cfg. PageSize and NumPages default to
// constants.DefaultPageSize / constants.DefaultNumContexts when zero.
func New(cfg Config) (*Arena, error) {
	pageSize := cfg.PageSize
	if pageSize == 0 {
		pageSize = constants.DefaultPageSize
	}
	numPages := cfg.NumPages
	if numPages == 0 {
		numPages = constants.DefaultNumContexts
	}
	if pageSize < constants.MinPageSize || pageSize > constants.MaxPageSize {
		return nil, fmt.Errorf("arena: page size %d out of range [%d, %d]", pageSize, constants.MinPageSize, constants.MaxPageSize)
	}

	total := pageSize * numPages
	a := &Arena{pageSize: pageSize, numPages: numPages}

	if cfg.HugePages {
		mem, err := unix.Mmap(-1, 0, alignUp(total, constants.HugePageAlignment),
			unix.PROT_READ|unix.PROT_WRITE,
			unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_HUGETLB)
		if err == nil {
			a.mem = mem[:total]
			a.hugePage = true
			return a, nil
		}
		// Huge pages unavailable (no hugetlbfs pool configured, permissions,
		// etc.) — fall back to a regular allocation rather than fail the
		// connection outright.
	}

	a.mem = make([]byte, total)
	return a, nil
}

// Wrap builds an Arena view over memory some other owner already allocated
// (namely a transport.Verbs implementation's own backing buffer, fetched
// via its Bytes() method) rather than allocating fresh memory itself. The
// Client/Server façade uses this so a Connection's arena and its
// queue-pair's addr offsets always refer to the same physical bytes.
func Wrap(mem []byte, pageSize int) (*Arena, error) {
	if pageSize <= 0 || len(mem)%pageSize != 0 {
		return nil, fmt.Errorf("arena: wrap: %d bytes not a multiple of page size %d", len(mem), pageSize)
	}
	return &Arena{mem: mem, pageSize: pageSize, numPages: len(mem) / pageSize}, nil
}

func alignUp(n, align int) int {
	if n%align == 0 {
		return n
	}
	return ((n / align) + 1) * align
}

// Page returns the slice backing page i (the i'th context's buffer page).
func (a *Arena) Page(i int) []byte {
	off := i * a.pageSize
	return a.mem[off : off+a.pageSize]
}

// Bytes returns the whole backing region, for registration with a
// transport.Verbs implementation.
func (a *Arena) Bytes() []byte { return a.mem }

// PageSize returns the configured page size.
func (a *Arena) PageSize() int { return a.pageSize }

// NumPages returns the number of pages (contexts) the arena was sized for.
func (a *Arena) NumPages() int { return a.numPages }

// OffsetOf returns the byte offset of page i within the arena, the value
// that gets carried as a wire Header.Addr or a private-data base_addr sum.
func (a *Arena) OffsetOf(i int) uint64 { return uint64(i * a.pageSize) }

// Close releases the huge-page mapping, if one was used.
func (a *Arena) Close() error {
	if a.hugePage {
		return unix.Munmap(a.mem[:cap(a.mem)])
	}
	return nil
}

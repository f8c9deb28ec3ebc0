package buffer

import (
	"sync"

	"github.com/ehrlich-b/go-httpd/internal/constants"
)

// auxPool holds the 64KB auxiliary regions used by scatter reads so the
// hot read path does not allocate.
//
// Uses *[]byte pattern to avoid sync.Pool interface allocation overhead.
var auxPool = sync.Pool{
	New: func() any {
		b := make([]byte, constants.AuxReadBufferSize)
		return &b
	},
}

func getAux() []byte {
	return *auxPool.Get().(*[]byte)
}

func putAux(buf []byte) {
	if cap(buf) != constants.AuxReadBufferSize {
		// Buffers with non-standard capacity are not returned to pool
		return
	}
	buf = buf[:cap(buf)]
	auxPool.Put(&buf)
}

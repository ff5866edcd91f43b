package queue

import (
	"fmt"
	"strings"

	"github.com/aridsondez/tagqueue/internal/queue/store"
)

// Message is the durable queue row mapped to Go.
type Message = store.Message

// MaxTagLength is the width of the tag column.
const MaxTagLength = 31

// ValidateTag checks a tag before it reaches the store or a channel name.
func ValidateTag(tag string) error {
	switch {
	case tag == "":
		return fmt.Errorf("%w: empty", ErrInvalidTag)
	case len(tag) > MaxTagLength:
		return fmt.Errorf("%w: %q is longer than %d bytes", ErrInvalidTag, tag, MaxTagLength)
	case strings.ContainsRune(tag, '\''):
		return fmt.Errorf("%w: %q contains a single quote", ErrInvalidTag, tag)
	}
	return nil
}

// ListOption narrows List and Count.
type ListOption func(*store.ListOptions)

// IncludeScheduled makes List and Count report rows whose schedule has not passed yet.
func IncludeScheduled() ListOption {
	return func(o *store.ListOptions) {
		o.IncludeScheduled = true
	}
}

func listOptions(opts []ListOption) store.ListOptions {
	var o store.ListOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

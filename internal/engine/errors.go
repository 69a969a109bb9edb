package engine

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"strings"

	"github.com/vietddude/ocrsweep/internal/core/domain"
)

// Classify maps any engine failure onto the retry taxonomy. The mapping
// is total: every error resolves to exactly one kind, with unknown as
// the fallback so unrecognized failures stay visible in the ledger.
func Classify(err error) domain.ErrorKind {
	if err == nil {
		return domain.ErrorKindUnknown
	}

	var f *Failure
	if errors.As(err, &f) && f.Status != 0 {
		switch {
		case f.Status == 401 || f.Status == 403:
			return domain.ErrorKindPermanent
		case f.Status == 400 || f.Status == 415 || f.Status == 422:
			return domain.ErrorKindPermanent
		case f.Status == 408 || f.Status == 429 || f.Status >= 500:
			return domain.ErrorKindTransient
		}
	}

	if errors.Is(err, fs.ErrNotExist) {
		return domain.ErrorKindPermanent
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrorKindTransient
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return domain.ErrorKindTransient
	}

	s := strings.ToLower(err.Error())
	switch {
	case strings.Contains(s, "timeout"),
		strings.Contains(s, "detached"),
		strings.Contains(s, "target closed"),
		strings.Contains(s, "execution context was destroyed"),
		strings.Contains(s, "connection reset"),
		strings.Contains(s, "connection refused"),
		strings.Contains(s, "network") && strings.Contains(s, "error"):
		return domain.ErrorKindTransient
	case strings.Contains(s, "login"),
		strings.Contains(s, "unauthorized"),
		strings.Contains(s, "auth"),
		strings.Contains(s, "cookie") && strings.Contains(s, "missing"),
		strings.Contains(s, "invalid") && strings.Contains(s, "format"):
		return domain.ErrorKindPermanent
	}

	return domain.ErrorKindUnknown
}

package logging

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// StacktraceField is the log field holding the stack recorded by pkg/errors.
const StacktraceField = "stacktrace"

// WithStacktrace adds err to the entry and, when some error in its chain recorded one, the stack of where it was created.
func WithStacktrace(logger *logrus.Entry, err error) *logrus.Entry {
	logger = logger.WithError(err)
	if stack := ExtractStack(err); stack != nil {
		logger = logger.WithField(StacktraceField, stack)
	}
	return logger
}

// ExtractStack returns the outermost stack in err's chain, or nil. The chain is followed through Unwrap, so
// submission and transport errors yield the stack of the command or store error they wrap.
func ExtractStack(err error) errors.StackTrace {
	var tracer interface{ StackTrace() errors.StackTrace }
	if errors.As(err, &tracer) {
		return tracer.StackTrace()
	}
	return nil
}
